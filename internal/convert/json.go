// Package convert maps domain values to the JSON shapes of the HTTP API.
package convert

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gt-lab/internal/model"
)

// UserView is a principal without its secret.
type UserView struct {
	ID        string    `json:"id,omitempty"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToUserView drops the secret of p.
func ToUserView(p model.Principal) UserView {
	v := UserView{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		CreatedAt: p.CreatedAt.UTC(),
	}
	if p.ID != uuid.Nil {
		v.ID = p.ID.String()
	}
	return v
}

// ToUserViews converts a list; a nil input yields an empty list.
func ToUserViews(ps []model.Principal) []UserView {
	out := make([]UserView, len(ps))
	for i, p := range ps {
		out[i] = ToUserView(p)
	}
	return out
}

// AccessTokenView is the body of a successful authentication.
type AccessTokenView struct {
	AccessToken string `json:"access_token"`
	TTL         int64  `json:"ttl"`
}

// ToAccessTokenView renders an issued access token.
func ToAccessTokenView(t model.IssuedToken) AccessTokenView {
	return AccessTokenView{AccessToken: t.Value, TTL: t.TTLMillis}
}

// RegistrationView is the body of a successful registration issuance.
type RegistrationView struct {
	RegistrationToken string `json:"registration_token"`
	TTL               int64  `json:"ttl"`
}

// ToRegistrationView renders an issued registration token.
func ToRegistrationView(t model.IssuedToken) RegistrationView {
	return RegistrationView{RegistrationToken: t.Value, TTL: t.TTLMillis}
}

// ErrorView is the body of every failed request.
type ErrorView struct {
	Messages []string `json:"messages"`
}
