// Package postgres holds the durable store implementations backed by
// lib/pq. Per-order write serialization is done with row locks
// (SELECT ... FOR UPDATE) so two transitions on the same order can
// never interleave, while writes to distinct orders run in parallel.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/jfeld/orderdesk/internal/store"
)

// Open connects, pings and runs the goose migrations from dir.
func Open(dsn, migrationsDir string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// transient tags a driver failure with the retryable sentinel while
// keeping the underlying error text.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, store.ErrTransient)
}
