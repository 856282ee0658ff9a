// Package store is the only place seclens talks to Postgres. Every stage
// boundary goes through the tables defined in schema.sql; every write is
// an idempotent upsert, insert-if-absent or monotone update, so any stage
// can crash mid-batch and be retried by the next scheduler tick.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Store handles all database operations for the pipeline and the query API.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Postgres using a connection URL and verifies the
// connection before returning.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks if the database is accessible.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for components that build their own
// statements, such as the feature aggregation interpreter.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, rolling back on error. A rolled
// back batch leaves the store exactly as the next retry expects it.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
