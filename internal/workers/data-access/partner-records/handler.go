package partnerrecords

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"blitz-workers/internal/common/database"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "record-partner-call"
)

var (
	ErrDatabaseInsertFailed = errors.New("DATABASE_INSERT_FAILED")
	ErrCallNotFound         = errors.New("CALL_NOT_FOUND")
	ErrInvalidInput         = errors.New("INVALID_INPUT")
)

// SQLSTATE codes raised by the feedback insert.
const (
	foreignKeyViolation = "23503"
	invalidTextValue    = "22P02"
)

// Handler writes the partner call audit and the feedback partners leave on
// answers.
type Handler struct {
	config *Config
	db     *sql.DB
	logger logger.Logger
}

func NewHandler(config *Config, db *sql.DB, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		db:     db,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, "PARSE_ERROR", fmt.Sprintf("parse input: %v", err), 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		errorCode := "UNKNOWN_ERROR"
		retries := int32(0)
		if errors.Is(err, ErrDatabaseInsertFailed) {
			errorCode = "DATABASE_INSERT_FAILED"
			retries = 3
		} else if errors.Is(err, ErrCallNotFound) {
			errorCode = "CALL_NOT_FOUND"
		} else if errors.Is(err, ErrInvalidInput) {
			errorCode = "INVALID_INPUT"
		}
		h.failJob(client, job, errorCode, err.Error(), retries)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	switch input.Action {
	case ActionCall:
		if input.Call == nil {
			return nil, fmt.Errorf("%w: call is required", ErrInvalidInput)
		}
		record := *input.Call
		id, err := h.RecordCall(ctx, &record)
		if err != nil {
			return nil, err
		}
		return &Output{CallID: id, Recorded: true, CreatedAt: record.CreatedAt.Format(time.RFC3339)}, nil
	case ActionFeedback:
		if input.Feedback == nil {
			return nil, fmt.Errorf("%w: feedback is required", ErrInvalidInput)
		}
		if err := h.RecordFeedback(ctx, *input.Feedback); err != nil {
			return nil, err
		}
		return &Output{CallID: input.Feedback.CallID, Recorded: true, CreatedAt: h.now().Format(time.RFC3339)}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, input.Action)
}

// RecordCall inserts one audit row. The ID and CreatedAt of record are filled
// in when empty.
func (h *Handler) RecordCall(ctx context.Context, record *models.CallRecord) (string, error) {
	if strings.TrimSpace(record.PartnerID) == "" || strings.TrimSpace(record.Endpoint) == "" {
		return "", fmt.Errorf("%w: partnerId and endpoint are required", ErrInvalidInput)
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = h.now().UTC()
	}

	var customData interface{}
	if raw := strings.TrimSpace(string(record.CustomData)); raw != "" && raw != "null" {
		if json.Valid(record.CustomData) {
			customData = []byte(record.CustomData)
		} else {
			encoded, _ := json.Marshal(raw)
			customData = encoded
		}
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO calls (
			id, partner_id, user_id, conversation_id, endpoint,
			question, custom_data, sql_query, response_text, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID,
		record.PartnerID,
		nullable(record.UserID),
		nullable(record.ConversationID),
		record.Endpoint,
		record.Question,
		customData,
		nullable(record.SQLQuery),
		nullable(record.ResponseText),
		nullable(record.Error),
		record.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert call failed: %v", ErrDatabaseInsertFailed, err)
	}

	h.logger.Info("partner call recorded", map[string]interface{}{
		"callId":    record.ID,
		"partnerId": record.PartnerID,
		"endpoint":  record.Endpoint,
		"failed":    record.Error != "",
	})
	return record.ID, nil
}

// RecordFeedback stores the latest verdict a partner gave on a call.
func (h *Handler) RecordFeedback(ctx context.Context, feedback models.Feedback) error {
	if strings.TrimSpace(feedback.CallID) == "" {
		return fmt.Errorf("%w: callId is required", ErrInvalidInput)
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO call_feedback (call_id, helpful, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id) DO UPDATE SET helpful = EXCLUDED.helpful, created_at = EXCLUDED.created_at`,
		feedback.CallID,
		feedback.Helpful,
		h.now().UTC(),
	)
	if err != nil {
		switch database.PQErrorCode(err) {
		case foreignKeyViolation, invalidTextValue:
			return fmt.Errorf("%w: %s", ErrCallNotFound, feedback.CallID)
		}
		return fmt.Errorf("%w: insert feedback failed: %v", ErrDatabaseInsertFailed, err)
	}

	h.logger.Info("feedback recorded", map[string]interface{}{
		"callId":  feedback.CallID,
		"helpful": feedback.Helpful,
	})
	return nil
}

func (h *Handler) now() time.Time {
	if h.config.Now == nil {
		return time.Now()
	}
	return h.config.Now()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		h.logger.Info("job completed successfully", map[string]interface{}{
			"jobKey": job.Key,
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, errorCode, errorMessage string, retries int32) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":       job.Key,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
		"retries":      retries,
	})

	if retries > 0 && job.Retries > 1 {
		_, _ = client.NewFailJobCommand().
			JobKey(job.Key).
			Retries(job.Retries - 1).
			ErrorMessage(errorCode + ": " + errorMessage).
			Send(context.Background())
		return
	}

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
