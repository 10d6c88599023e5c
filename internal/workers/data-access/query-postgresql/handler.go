package querypostgresql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"blitz-workers/internal/common/database"
	"blitz-workers/internal/common/logger"
	"blitz-workers/internal/models"
	"blitz-workers/internal/workers/data-access/query-postgresql/serialize"
)

const (
	TaskType = "query-postgresql"
)

var (
	ErrDatabaseUnavailable  = errors.New("DATABASE_CONNECTION_FAILED")
	ErrQueryExecutionFailed = errors.New("QUERY_EXECUTION_FAILED")
	ErrQueryTimeout         = errors.New("QUERY_TIMEOUT")
	ErrQuerySyntax          = errors.New("QUERY_SYNTAX_ERROR")
)

// Handler runs one planner-generated statement against the read-only
// historical database.
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
		errorCode := ErrorCode(err)
		retries := int32(0)
		if errors.Is(err, ErrQueryTimeout) || errors.Is(err, ErrDatabaseUnavailable) {
			retries = 2
		}
		h.failJob(client, job, errorCode, err.Error(), retries)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, fmt.Errorf("input cannot be nil")
	}

	start := time.Now()
	result, err := h.Run(ctx, input.SQL)
	if err != nil {
		return nil, err
	}

	return &Output{
		QueryResult:        result,
		QueryExecutionTime: time.Since(start).Milliseconds(),
	}, nil
}

// Run executes sql as a single statement under the query timeout and returns
// the serialised rows.
func (h *Handler) Run(ctx context.Context, query string) (*models.QueryResult, error) {
	stmt, err := database.SingleStatement(query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := h.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, h.classify(ctx, err)
	}
	defer rows.Close()

	data, err := serialize.Rows(rows)
	if err != nil {
		return nil, h.classify(ctx, err)
	}

	encoded, err := serialize.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode rows: %v", ErrQueryExecutionFailed, err)
	}

	h.logger.Info("query executed", map[string]interface{}{
		"rowCount":  len(data),
		"elapsedMs": time.Since(start).Milliseconds(),
	})

	return &models.QueryResult{
		Query:    stmt,
		Results:  encoded,
		Type:     models.ResultSQLQuery,
		RowCount: len(data),
	}, nil
}

func (h *Handler) classify(ctx context.Context, err error) error {
	code := database.PQErrorCode(err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), code == "57014":
		return fmt.Errorf("%w: query exceeded %s", ErrQueryTimeout, h.config.QueryTimeout)
	case strings.HasPrefix(string(code), "42"):
		return fmt.Errorf("%w: %v", ErrQuerySyntax, err)
	case strings.HasPrefix(string(code), "08"), isConnectionError(err):
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrQueryExecutionFailed, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ErrorCode maps a Run error onto its error code.
func ErrorCode(err error) string {
	for _, sentinel := range []error{ErrQueryTimeout, ErrQuerySyntax, ErrDatabaseUnavailable, database.ErrMultiStatement, ErrQueryExecutionFailed} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrQueryExecutionFailed.Error()
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
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
		_, err := client.NewFailJobCommand().
			JobKey(job.Key).
			Retries(job.Retries - 1).
			ErrorMessage(errorCode + ": " + errorMessage).
			Send(context.Background())
		if err != nil {
			h.logger.Error("failed to fail job", map[string]interface{}{
				"error": err,
			})
		}
		return
	}

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
