// Package postgres stores principals and token slots in PostgreSQL, one table set per principal kind.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/model"
)

// PgxPool is the subset of *pgxpool.Pool the repositories call; pgxmock.PgxPoolIface satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is shared by every repository of the process.
type DB struct{ Pool PgxPool }

// New opens a pool for dsn and fails fast when the database is unreachable.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Unavailable("ping", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) Close() { db.Pool.Close() }

// tables names the relations backing one principal kind.
type tables struct {
	principals   string
	accessTokens string
}

func tablesFor(kind model.PrincipalKind) (tables, error) {
	switch kind {
	case model.KindAdmin:
		return tables{principals: "admins", accessTokens: "admin_access_tokens"}, nil
	case model.KindUser:
		return tables{principals: "users", accessTokens: "user_access_tokens"}, nil
	default:
		return tables{}, fmt.Errorf("postgres: unknown principal kind %q", kind)
	}
}

// registrationTable holds onboarding tokens; only users register.
const registrationTable = "user_registration_tokens"

// lookupErr maps a driver error from a single-row read.
func lookupErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errs.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errs.Unavailable(op, err)
	}
}

// execErr maps a driver error from a write.
func execErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errs.Unavailable(op, err)
}
