// Package sqlstore implements storage.Store on top of sqlx for postgres and
// sqlite3. Queries are written with '?' placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/studybot/core/database"
	"github.com/m3rciful/studybot/internal/storage"
)

//go:embed migrations
var migrations embed.FS

// Store is the SQL backed storage.Store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New wraps an open connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies the embedded schema for cfg.Driver.
func Migrate(ctx context.Context, db *sqlx.DB, cfg database.Config) error {
	return database.RunMigrations(ctx, db, cfg, migrations, "migrations")
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// errAbort rolls a transaction back without reporting a failure.
var errAbort = errors.New("sqlstore: compare-and-set lost")

func (s *Store) casTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (bool, error) {
	err := s.withTx(ctx, fn)
	switch {
	case errors.Is(err, errAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Store) NextID(ctx context.Context, name string) (int64, error) {
	return s.nextID(ctx, s.db, name)
}

const nextIDQuery = `
	INSERT INTO counters (name, value) VALUES (?, 1)
	ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
	RETURNING value`

func (s *Store) nextID(ctx context.Context, q sqlx.QueryerContext, name string) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, s.db.Rebind(nextIDQuery), name); err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return id, nil
}

// exec runs a single statement and returns the affected row count.
func (s *Store) exec(ctx context.Context, e sqlx.ExecerContext, query string, args ...any) (int64, error) {
	res, err := e.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
