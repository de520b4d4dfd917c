package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/gt-lab/internal/model"
)

// PrincipalRepo implements PrincipalRepository over the admins or users table.
type PrincipalRepo struct {
	db   *DB
	kind model.PrincipalKind
	t    tables
}

// NewPrincipalRepo constructs a principal repository for kind.
func NewPrincipalRepo(db *DB, kind model.PrincipalKind) (*PrincipalRepo, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	return &PrincipalRepo{db: db, kind: kind, t: t}, nil
}

// Kind reports the principal namespace.
func (r *PrincipalRepo) Kind() model.PrincipalKind { return r.kind }

// Get selects a principal by email.
func (r *PrincipalRepo) Get(ctx context.Context, identifier string) (*model.Principal, error) {
	q := fmt.Sprintf(`
SELECT id, email, password, first_name, last_name, created_at
FROM %s WHERE email=$1`, r.t.principals)
	row := r.db.Pool.QueryRow(ctx, q, identifier)
	p := model.Principal{Kind: r.kind}
	if err := row.Scan(&p.ID, &p.Email, &p.Secret, &p.FirstName, &p.LastName, &p.CreatedAt); err != nil {
		return nil, lookupErr("get "+r.kind.String(), err)
	}
	return &p, nil
}

// Exists reports whether a principal with email exists.
func (r *PrincipalRepo) Exists(ctx context.Context, identifier string) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE email=$1)`, r.t.principals)
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, identifier).Scan(&ok); err != nil {
		return false, lookupErr("exists "+r.kind.String(), err)
	}
	return ok, nil
}

// List returns all principals of the kind ordered by email.
func (r *PrincipalRepo) List(ctx context.Context) ([]model.Principal, error) {
	q := fmt.Sprintf(`
SELECT id, email, password, first_name, last_name, created_at
FROM %s ORDER BY email`, r.t.principals)
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, execErr("list "+r.kind.String(), err)
	}
	defer rows.Close()

	out := make([]model.Principal, 0)
	for rows.Next() {
		p := model.Principal{Kind: r.kind}
		if err := rows.Scan(&p.ID, &p.Email, &p.Secret, &p.FirstName, &p.LastName, &p.CreatedAt); err != nil {
			return nil, execErr("list "+r.kind.String(), err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, execErr("list "+r.kind.String(), err)
	}
	return out, nil
}
