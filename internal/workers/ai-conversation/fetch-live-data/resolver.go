package fetchlivedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blitz-workers/pkg/registry"

	"github.com/patrickmn/go-cache"
)

var (
	ErrNotResolved = errors.New("SOFT_REFERENCE_UNRESOLVED")
)

type rosterPlayer struct {
	PlayerID  int64  `json:"PlayerID"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Team      string `json:"Team"`
}

type scheduledGame struct {
	GameID   int64  `json:"GameID"`
	HomeTeam string `json:"HomeTeam"`
	AwayTeam string `json:"AwayTeam"`
}

// Resolver maps player and team names to the ids live endpoints need. Roster
// and schedule snapshots are cached per league.
type Resolver struct {
	fetcher Fetcher
	catalog *registry.Catalog
	apiKey  string
	cache   *cache.Cache
}

func NewResolver(fetcher Fetcher, catalog *registry.Catalog, apiKey string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		fetcher: fetcher,
		catalog: catalog,
		apiKey:  apiKey,
		cache:   cache.New(ttl, 2*ttl),
	}
}

// ResolvePlayerID matches "First Last" case-insensitively against the active roster.
func (r *Resolver) ResolvePlayerID(ctx context.Context, league, name string) (int64, error) {
	name = normalizeName(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty player name", ErrNotResolved)
	}
	roster, err := r.roster(ctx, league)
	if err != nil {
		return 0, err
	}
	for _, p := range roster {
		if normalizeName(p.FirstName+" "+p.LastName) == name {
			return p.PlayerID, nil
		}
	}
	return 0, fmt.Errorf("%w: player %q", ErrNotResolved, name)
}

func (r *Resolver) ResolveTeamForPlayer(ctx context.Context, league string, playerID int64) (string, error) {
	roster, err := r.roster(ctx, league)
	if err != nil {
		return "", err
	}
	for _, p := range roster {
		if p.PlayerID == playerID && p.Team != "" {
			return p.Team, nil
		}
	}
	return "", fmt.Errorf("%w: team for player %d", ErrNotResolved, playerID)
}

// ResolveGameID finds the game team plays on date. When only a player is
// given, the player's current team is used.
func (r *Resolver) ResolveGameID(ctx context.Context, league, date, team, player string) (int64, error) {
	team = strings.TrimSpace(team)
	if team == "" && strings.TrimSpace(player) != "" {
		playerID, err := r.ResolvePlayerID(ctx, league, player)
		if err != nil {
			return 0, err
		}
		if team, err = r.ResolveTeamForPlayer(ctx, league, playerID); err != nil {
			return 0, err
		}
	}
	if team == "" {
		return 0, fmt.Errorf("%w: no team or player to locate a game", ErrNotResolved)
	}

	games, err := r.schedule(ctx, league, date)
	if err != nil {
		return 0, err
	}
	for _, g := range games {
		if strings.EqualFold(g.HomeTeam, team) || strings.EqualFold(g.AwayTeam, team) {
			return g.GameID, nil
		}
	}
	return 0, fmt.Errorf("%w: no %s game for %s on %s", ErrNotResolved, league, team, date)
}

func (r *Resolver) roster(ctx context.Context, league string) ([]rosterPlayer, error) {
	cacheKey := "roster:" + league
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.([]rosterPlayer), nil
	}

	var players []rosterPlayer
	if err := r.load(ctx, league, "PlayersByActive", nil, &players); err != nil {
		return nil, err
	}
	r.cache.SetDefault(cacheKey, players)
	return players, nil
}

func (r *Resolver) schedule(ctx context.Context, league, date string) ([]scheduledGame, error) {
	cacheKey := "games:" + league + ":" + date
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.([]scheduledGame), nil
	}

	var games []scheduledGame
	if err := r.load(ctx, league, "ScoresBasicFinal", map[string]string{"date": date}, &games); err != nil {
		return nil, err
	}
	r.cache.SetDefault(cacheKey, games)
	return games, nil
}

func (r *Resolver) load(ctx context.Context, league, endpoint string, params map[string]string, dst interface{}) error {
	ep, ok := r.catalog.Lookup(league, endpoint)
	if !ok {
		return fmt.Errorf("%w: %s has no %s endpoint", ErrNotResolved, league, endpoint)
	}
	target, missing := ep.Expand(params)
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotResolved, strings.Join(missing, ", "))
	}

	raw, err := r.fetcher.GetJSON(ctx, ep.Family, withKey(target, r.apiKey), nil)
	if err != nil {
		return fmt.Errorf("load %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func withKey(target, key string) string {
	if key == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isBakerHost(template string) bool {
	return strings.Contains(template, "baker-api")
}
