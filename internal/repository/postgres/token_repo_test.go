package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/model"
)

func TestTokenRepo_GetAccessToken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewTokenRepo(db, model.KindAdmin)
	require.NoError(t, err)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT email, access_token, created, ttl FROM admin_access_tokens WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnRows(pgxmock.NewRows([]string{"email", "access_token", "created", "ttl"}).
			AddRow("a@b.com", "tok", created, int64(3600000)))
	rec, err := r.GetAccessToken(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, "tok", rec.Value)
	require.Equal(t, time.Hour, rec.TTL)
	require.True(t, rec.CreatedAt.Equal(created))

	mock.ExpectQuery(`SELECT email, access_token, created, ttl FROM admin_access_tokens WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetAccessToken(ctx, "a@b.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT email, access_token, created, ttl FROM admin_access_tokens WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnError(context.Canceled)
	_, err = r.GetAccessToken(ctx, "a@b.com")
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_UpsertAccessToken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewTokenRepo(db, model.KindUser)
	require.NoError(t, err)
	rec := model.TokenRecord{
		Identifier: "u@x.com",
		Value:      "tok",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TTL:        time.Hour,
	}

	mock.ExpectExec(`INSERT INTO user_access_tokens \(email, access_token, created, ttl\) VALUES \(\$1, \$2, \$3, \$4\) ON CONFLICT \(email\) DO UPDATE SET`).
		WithArgs("u@x.com", "tok", pgxmock.AnyArg(), int64(3600000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.UpsertAccessToken(context.Background(), rec))

	mock.ExpectExec(`INSERT INTO user_access_tokens`).
		WithArgs("u@x.com", "tok", pgxmock.AnyArg(), int64(3600000)).
		WillReturnError(errors.New("disk full"))
	err = r.UpsertAccessToken(context.Background(), rec)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_Deletes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewTokenRepo(db, model.KindAdmin)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM admin_access_tokens WHERE email=\$1$`).
		WithArgs("a@b.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.DeleteAccessToken(ctx, "a@b.com"))

	mock.ExpectExec(`DELETE FROM admin_access_tokens WHERE email=\$1 AND access_token=\$2`).
		WithArgs("a@b.com", "old").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	deleted, err := r.DeleteAccessTokenIfMatch(ctx, "a@b.com", "old")
	require.NoError(t, err)
	require.False(t, deleted)

	mock.ExpectExec(`DELETE FROM admin_access_tokens WHERE created \+ ttl \* interval '1 millisecond' < \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := r.DeleteExpiredAccessTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepo_RoundTrip(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRegistrationRepo(db)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO user_registration_tokens \(email, registration_token, created, ttl\)`).
		WithArgs("new@x.com", "AbCdEfGhIjKlMnOp", pgxmock.AnyArg(), int64(6*3600000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.UpsertRegistrationToken(ctx, model.TokenRecord{
		Identifier: "new@x.com", Value: "AbCdEfGhIjKlMnOp", CreatedAt: created, TTL: 6 * time.Hour,
	}))

	mock.ExpectQuery(`SELECT email, registration_token, created, ttl FROM user_registration_tokens WHERE email=\$1`).
		WithArgs("new@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"email", "registration_token", "created", "ttl"}).
			AddRow("new@x.com", "AbCdEfGhIjKlMnOp", created, int64(6*3600000)))
	rec, err := r.GetRegistrationToken(ctx, "new@x.com")
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, rec.TTL)

	mock.ExpectExec(`DELETE FROM user_registration_tokens WHERE email=\$1`).
		WithArgs("new@x.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.DeleteRegistrationToken(ctx, "new@x.com"))

	require.NoError(t, mock.ExpectationsWereMet())
}
