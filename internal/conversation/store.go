// Package conversation keeps the per-session log of answered turns.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "blitz:conversation:"

var (
	ErrStoreFailed    = errors.New("CONVERSATION_STORE_FAILED")
	ErrMissingSession = errors.New("session id is required")
)

type Config struct {
	// TTL expires an idle session's log. Zero keeps it forever.
	TTL time.Duration
	// MaxTurns caps what History reads when the caller passes no limit.
	MaxTurns int
}

// Store is an append-only turn log with one Redis list per session.
type Store struct {
	config *Config
	client redis.Cmdable
}

func NewStore(config *Config, client redis.Cmdable) *Store {
	return &Store{config: config, client: client}
}

func Key(sessionID string) string {
	return keyPrefix + sessionID
}

// Append adds turn to the end of the session's log.
func (s *Store) Append(ctx context.Context, sessionID string, turn models.ConversationTurn) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrMissingSession
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("%w: encode turn: %v", ErrStoreFailed, err)
	}

	key := Key(sessionID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if s.config.TTL > 0 {
		if err := s.client.Expire(ctx, key, s.config.TTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
	}
	return nil
}

// History returns up to limit most recent turns, oldest first. Entries that
// no longer decode are skipped.
func (s *Store) History(ctx context.Context, sessionID string, limit int) (models.History, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.History{}, nil
	}
	if limit <= 0 {
		limit = s.config.MaxTurns
	}
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, Key(sessionID), start, -1).Result()
	if errors.Is(err, redis.Nil) {
		return models.History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	history := make(models.History, 0, len(raw))
	for _, entry := range raw {
		var turn models.ConversationTurn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			continue
		}
		history = append(history, turn)
	}
	return history, nil
}
