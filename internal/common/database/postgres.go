package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blitz-workers/internal/common/config"

	"github.com/lib/pq"
)

type PostgresClient struct {
	DB       *sql.DB
	readOnly bool
}

// NewPostgres opens a pooled connection. Connections for the historical
// warehouse carry default_transaction_read_only and statement_timeout in the DSN.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db, readOnly: cfg.ReadOnly}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *PostgresClient) ReadOnly() bool {
	return c.readOnly
}

func (c *PostgresClient) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

func (c *PostgresClient) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if c.readOnly {
		return nil, fmt.Errorf("exec on read-only connection")
	}
	return c.DB.ExecContext(ctx, query, args...)
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// PQErrorCode returns the SQLSTATE carried by a lib/pq error, or "".
func PQErrorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}
