package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/gt-lab/internal/crypto"
	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/events"
	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/repository"
)

// Guard authorizes the caller of a protected operation.
type Guard interface {
	Verify(ctx context.Context, identifier, token string) (*model.Principal, error)
}

// RegistrationService issues onboarding tokens for new users.
type RegistrationService interface {
	Issue(ctx context.Context, callerID, callerToken, target string) (model.IssuedToken, error)
}

// RegistrationIssuer is the RegistrationService gated by an access guard (normally the admin Lifecycle).
type RegistrationIssuer struct {
	guard    Guard
	users    repository.PrincipalRepository
	tokens   repository.RegistrationTokenRepository
	validate *validator.Validate
	opt      options
}

var _ RegistrationService = (*RegistrationIssuer)(nil)

// NewRegistrationIssuer wires the issuer. users is the user principal repository checked for duplicates.
func NewRegistrationIssuer(guard Guard, users repository.PrincipalRepository, tokens repository.RegistrationTokenRepository, opts ...Option) *RegistrationIssuer {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &RegistrationIssuer{
		guard:    guard,
		users:    users,
		tokens:   tokens,
		validate: validator.New(),
		opt:      o,
	}
}

// Issue verifies the caller, validates target, and stores a fresh 16-letter token for it.
func (r *RegistrationIssuer) Issue(ctx context.Context, callerID, callerToken, target string) (model.IssuedToken, error) {
	if _, err := r.guard.Verify(ctx, callerID, callerToken); err != nil {
		return model.IssuedToken{}, err
	}

	target = model.NormalizeIdentifier(target)
	if target == "" {
		return model.IssuedToken{}, errs.InvalidTarget("user_email", "No user email provided")
	}
	if err := r.validate.Var(target, "email"); err != nil {
		return model.IssuedToken{}, errs.InvalidTarget("user_email", "The email '"+target+"' is not a valid email address")
	}

	if r.opt.rejectExisting {
		exists, err := r.users.Exists(ctx, target)
		if err != nil {
			r.opt.log.Warn("user exists check failed", zap.String("identifier", target), zap.Error(err))
			return model.IssuedToken{}, err
		}
		if exists {
			return model.IssuedToken{}, errs.ErrAlreadyExists
		}
	}

	value, err := pkgcrypto.RandLetters(RegistrationTokenLen)
	if err != nil {
		return model.IssuedToken{}, err
	}
	rec := model.TokenRecord{
		Identifier: target,
		Value:      value,
		CreatedAt:  r.opt.now().UTC().Truncate(time.Millisecond),
		TTL:        r.opt.registrationTTL,
	}
	if err := r.tokens.UpsertRegistrationToken(ctx, rec); err != nil {
		r.opt.log.Warn("registration token upsert failed", zap.String("identifier", target), zap.Error(err))
		return model.IssuedToken{}, err
	}

	r.opt.log.Debug("registration issued",
		zap.String("identifier", target),
		zap.String("caller", model.NormalizeIdentifier(callerID)),
	)
	r.opt.events.Publish(ctx, events.TopicRegistrationIssued, events.Event{
		Kind: model.KindUser, Identifier: target, At: rec.CreatedAt, TTLMillis: rec.TTLMillis(),
	})
	return model.IssuedToken{Value: value, TTLMillis: rec.TTLMillis(), CreatedAt: rec.CreatedAt}, nil
}
