package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var principalCols = []string{"id", "email", "password", "first_name", "last_name", "created_at"}

func TestNewPrincipalRepo_UnknownKind(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	_, err := NewPrincipalRepo(db, model.PrincipalKind("robot"))
	require.Error(t, err)
}

func TestPrincipalRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewPrincipalRepo(db, model.KindAdmin)
	require.NoError(t, err)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, email, password, first_name, last_name, created_at FROM admins WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnRows(pgxmock.NewRows(principalCols).AddRow(id, "a@b.com", "s3cret", "Ada", "B", created))
	p, err := r.Get(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, id, p.ID)
	require.Equal(t, model.KindAdmin, p.Kind)
	require.Equal(t, "s3cret", p.Secret)

	mock.ExpectQuery(`SELECT id, email, password, first_name, last_name, created_at FROM admins WHERE email=\$1`).
		WithArgs("nobody@x.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "nobody@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT id, email, password, first_name, last_name, created_at FROM admins WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnError(errors.New("connection reset"))
	_, err = r.Get(ctx, "a@b.com")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.NotErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_Exists(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewPrincipalRepo(db, model.KindUser)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE email=\$1\)`).
		WithArgs("u@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := r.Exists(ctx, "u@x.com")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE email=\$1\)`).
		WithArgs("u@x.com").
		WillReturnError(errors.New("boom"))
	_, err = r.Exists(ctx, "u@x.com")
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r, err := NewPrincipalRepo(db, model.KindUser)
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, email, password, first_name, last_name, created_at FROM users ORDER BY email`).
		WillReturnRows(pgxmock.NewRows(principalCols).
			AddRow(uuid.Must(uuid.NewV4()), "a@x.com", "p1", "A", "X", now).
			AddRow(uuid.Must(uuid.NewV4()), "b@x.com", "p2", "B", "X", now))
	list, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b@x.com", list[1].Email)
	require.Equal(t, model.KindUser, list[1].Kind)

	mock.ExpectQuery(`SELECT id, email, password, first_name, last_name, created_at FROM users ORDER BY email`).
		WillReturnError(errors.New("down"))
	_, err = r.List(context.Background())
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}
