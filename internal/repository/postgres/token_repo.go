package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/gt-lab/internal/model"
)

// TokenRepo implements AccessTokenRepository over <kind>_access_tokens.
type TokenRepo struct {
	db    *DB
	kind  model.PrincipalKind
	table string
}

// NewTokenRepo constructs an access token repository for kind.
func NewTokenRepo(db *DB, kind model.PrincipalKind) (*TokenRepo, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	return &TokenRepo{db: db, kind: kind, table: t.accessTokens}, nil
}

// GetAccessToken selects the token slot for email.
func (r *TokenRepo) GetAccessToken(ctx context.Context, identifier string) (*model.TokenRecord, error) {
	q := fmt.Sprintf(`SELECT email, access_token, created, ttl FROM %s WHERE email=$1`, r.table)
	return scanToken(r.db.Pool.QueryRow(ctx, q, identifier), "get "+r.table)
}

// UpsertAccessToken inserts or overwrites the token slot in one statement.
func (r *TokenRepo) UpsertAccessToken(ctx context.Context, rec model.TokenRecord) error {
	q := fmt.Sprintf(`
INSERT INTO %s (email, access_token, created, ttl)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email)
DO UPDATE SET access_token=EXCLUDED.access_token, created=EXCLUDED.created, ttl=EXCLUDED.ttl`, r.table)
	_, err := r.db.Pool.Exec(ctx, q, rec.Identifier, rec.Value, rec.CreatedAt.UTC(), rec.TTLMillis())
	return execErr("upsert "+r.table, err)
}

// DeleteAccessToken removes the slot for email.
func (r *TokenRepo) DeleteAccessToken(ctx context.Context, identifier string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE email=$1`, r.table)
	_, err := r.db.Pool.Exec(ctx, q, identifier)
	return execErr("delete "+r.table, err)
}

// DeleteAccessTokenIfMatch removes the slot only if it still holds value.
func (r *TokenRepo) DeleteAccessTokenIfMatch(ctx context.Context, identifier, value string) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE email=$1 AND access_token=$2`, r.table)
	tag, err := r.db.Pool.Exec(ctx, q, identifier, value)
	if err != nil {
		return false, execErr("delete "+r.table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredAccessTokens removes every slot whose created+ttl is before now.
func (r *TokenRepo) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE created + ttl * interval '1 millisecond' < $1`, r.table)
	tag, err := r.db.Pool.Exec(ctx, q, now.UTC())
	if err != nil {
		return 0, execErr("sweep "+r.table, err)
	}
	return tag.RowsAffected(), nil
}

// RegistrationRepo implements RegistrationTokenRepository over user_registration_tokens.
type RegistrationRepo struct{ db *DB }

// NewRegistrationRepo constructs a registration token repository.
func NewRegistrationRepo(db *DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

// GetRegistrationToken selects the onboarding token for email.
func (r *RegistrationRepo) GetRegistrationToken(ctx context.Context, identifier string) (*model.TokenRecord, error) {
	const q = `SELECT email, registration_token, created, ttl FROM ` + registrationTable + ` WHERE email=$1`
	return scanToken(r.db.Pool.QueryRow(ctx, q, identifier), "get "+registrationTable)
}

// UpsertRegistrationToken inserts or overwrites the onboarding token for rec.Identifier.
func (r *RegistrationRepo) UpsertRegistrationToken(ctx context.Context, rec model.TokenRecord) error {
	const q = `
INSERT INTO ` + registrationTable + ` (email, registration_token, created, ttl)
VALUES ($1, $2, $3, $4)
ON CONFLICT (email)
DO UPDATE SET registration_token=EXCLUDED.registration_token, created=EXCLUDED.created, ttl=EXCLUDED.ttl`
	_, err := r.db.Pool.Exec(ctx, q, rec.Identifier, rec.Value, rec.CreatedAt.UTC(), rec.TTLMillis())
	return execErr("upsert "+registrationTable, err)
}

// DeleteRegistrationToken removes the onboarding token for email.
func (r *RegistrationRepo) DeleteRegistrationToken(ctx context.Context, identifier string) error {
	const q = `DELETE FROM ` + registrationTable + ` WHERE email=$1`
	_, err := r.db.Pool.Exec(ctx, q, identifier)
	return execErr("delete "+registrationTable, err)
}

type scanner interface{ Scan(dest ...any) error }

func scanToken(row scanner, op string) (*model.TokenRecord, error) {
	var (
		rec     model.TokenRecord
		ttlMill int64
	)
	if err := row.Scan(&rec.Identifier, &rec.Value, &rec.CreatedAt, &ttlMill); err != nil {
		return nil, lookupErr(op, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.TTL = time.Duration(ttlMill) * time.Millisecond
	return &rec, nil
}
