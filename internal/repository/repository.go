// Package repository defines storage interfaces implemented by concrete backends.
//
// Lookups return errs.ErrNotFound when the record is absent and an error wrapping
// errs.ErrStoreUnavailable when the backend fails; the two are never conflated.
package repository

import (
	"context"
	"time"

	"github.com/and161185/gt-lab/internal/model"
)

// PrincipalRepository reads principals of one kind.
type PrincipalRepository interface {
	// Kind reports the principal namespace this repository serves.
	Kind() model.PrincipalKind
	// Get loads a principal by normalized identifier.
	Get(ctx context.Context, identifier string) (*model.Principal, error)
	// Exists reports whether a principal with identifier exists.
	Exists(ctx context.Context, identifier string) (bool, error)
	// List returns every principal ordered by identifier.
	List(ctx context.Context) ([]model.Principal, error)
}

// AccessTokenRepository stores the single access-token slot of each principal of one kind.
type AccessTokenRepository interface {
	// GetAccessToken loads the token record for identifier.
	GetAccessToken(ctx context.Context, identifier string) (*model.TokenRecord, error)
	// UpsertAccessToken overwrites the slot for rec.Identifier.
	UpsertAccessToken(ctx context.Context, rec model.TokenRecord) error
	// DeleteAccessToken removes the slot unconditionally (revocation).
	DeleteAccessToken(ctx context.Context, identifier string) error
	// DeleteAccessTokenIfMatch removes the slot only while it still holds value.
	DeleteAccessTokenIfMatch(ctx context.Context, identifier, value string) (bool, error)
	// DeleteExpiredAccessTokens removes every slot that expired before now.
	DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error)
}

// RegistrationTokenRepository stores onboarding tokens keyed by target user identifier.
type RegistrationTokenRepository interface {
	GetRegistrationToken(ctx context.Context, identifier string) (*model.TokenRecord, error)
	UpsertRegistrationToken(ctx context.Context, rec model.TokenRecord) error
	DeleteRegistrationToken(ctx context.Context, identifier string) error
}

// ChallengeLedger remembers consumed challenges for a bounded window.
type ChallengeLedger interface {
	// Consume records key and reports false when it was already consumed within window.
	Consume(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release forgets key so the same challenge can be presented again.
	Release(ctx context.Context, key string) error
}
