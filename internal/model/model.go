// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// PrincipalKind tags which account namespace a principal lives in.
type PrincipalKind string

const (
	KindAdmin PrincipalKind = "admin"
	KindUser  PrincipalKind = "user"
)

// Valid reports whether k is a known kind.
func (k PrincipalKind) Valid() bool {
	return k == KindAdmin || k == KindUser
}

func (k PrincipalKind) String() string { return string(k) }

// NormalizeIdentifier case-folds and trims a principal identifier (email).
func NormalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Principal represents an admin or user account. Secret is the shared secret used to key challenges
// and must not leave the service layer.
type Principal struct {
	ID        uuid.UUID // PK
	Kind      PrincipalKind
	Email     string // unique, normalized identifier
	Secret    string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// TokenRecord is a persisted access or registration token.
type TokenRecord struct {
	Identifier string
	Value      string
	CreatedAt  time.Time
	TTL        time.Duration
}

// ExpiresAt is the instant after which the token is inert.
func (r TokenRecord) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.TTL)
}

// Expired reports whether the record is past its expiry at now.
// A token expiring exactly at now is still live.
func (r TokenRecord) Expired(now time.Time) bool {
	return r.ExpiresAt().Before(now)
}

// TTLMillis is the TTL in whole milliseconds, the unit used on the wire and in digests.
func (r TokenRecord) TTLMillis() int64 {
	return r.TTL.Milliseconds()
}

// IssuedToken is what callers receive after authentication or registration issuance.
type IssuedToken struct {
	Value     string
	TTLMillis int64
	CreatedAt time.Time
}
