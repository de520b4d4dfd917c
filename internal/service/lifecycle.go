// Package service contains the credential and access-token lifecycle, registration issuance and
// telemetry data access.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pkgcrypto "github.com/and161185/gt-lab/internal/crypto"
	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/events"
	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/repository"
)

const detachedDeleteTimeout = 5 * time.Second

// AuthService authenticates principals of one kind and guards protected operations.
type AuthService interface {
	// Authenticate checks a challenge digest and issues a fresh access token, replacing any previous one.
	Authenticate(ctx context.Context, identifier, clientTimestamp, digest string) (model.IssuedToken, error)
	// Verify checks a presented access token and returns the principal it belongs to.
	Verify(ctx context.Context, identifier, token string) (*model.Principal, error)
	// Revoke verifies the token and then deletes it.
	Revoke(ctx context.Context, identifier, token string) error
	// Kind reports the principal kind served.
	Kind() model.PrincipalKind
}

// Lifecycle is the AuthService for one principal kind.
type Lifecycle struct {
	kind       model.PrincipalKind
	principals repository.PrincipalRepository
	tokens     repository.AccessTokenRepository
	opt        options
	log        *zap.Logger

	pending sync.WaitGroup
}

var _ AuthService = (*Lifecycle)(nil)

// NewLifecycle builds the engine for the kind served by principals.
func NewLifecycle(principals repository.PrincipalRepository, tokens repository.AccessTokenRepository, opts ...Option) *Lifecycle {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	kind := principals.Kind()
	return &Lifecycle{
		kind:       kind,
		principals: principals,
		tokens:     tokens,
		opt:        o,
		log:        o.log.With(zap.String("kind", kind.String())),
	}
}

func (l *Lifecycle) Kind() model.PrincipalKind { return l.kind }

// AccessTTL is the lifetime of issued access tokens.
func (l *Lifecycle) AccessTTL() time.Duration { return l.opt.accessTTL }

// Authenticate implements the challenge check: digest must equal KeyedHash(secret, id + canonical(ts)).
func (l *Lifecycle) Authenticate(ctx context.Context, identifier, clientTimestamp, digest string) (model.IssuedToken, error) {
	id := model.NormalizeIdentifier(identifier)
	if id == "" {
		return model.IssuedToken{}, errs.Invalid("email", "required")
	}
	if digest == "" {
		return model.IssuedToken{}, errs.Invalid("auth_token", "required")
	}
	issuedAt, err := pkgcrypto.ParseClientTime(clientTimestamp)
	if err != nil {
		return model.IssuedToken{}, errs.Invalid("date", "must be an ISO-8601 timestamp")
	}

	p, err := l.principals.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			l.log.Debug("authenticate", zap.String("identifier", id), zap.String("outcome", "unknown principal"))
			return model.IssuedToken{}, errs.ErrUnknownPrincipal
		}
		l.log.Warn("principal lookup failed", zap.String("identifier", id), zap.Error(err))
		return model.IssuedToken{}, err
	}

	expected := pkgcrypto.ChallengeDigest(p.Secret, id, issuedAt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) != 1 {
		l.log.Debug("authenticate", zap.String("identifier", id), zap.String("outcome", "invalid challenge"))
		return model.IssuedToken{}, errs.ErrInvalidChallenge
	}

	ledgerKey := l.kind.String() + ":" + id + ":" + digest
	if l.opt.ledger != nil {
		fresh, err := l.opt.ledger.Consume(ctx, ledgerKey, l.opt.replayWindow)
		if err != nil {
			l.log.Warn("challenge ledger failed", zap.String("identifier", id), zap.Error(err))
			return model.IssuedToken{}, err
		}
		if !fresh {
			l.log.Debug("authenticate", zap.String("identifier", id), zap.String("outcome", "replayed challenge"))
			return model.IssuedToken{}, errs.ErrInvalidChallenge
		}
	}

	rec := model.TokenRecord{
		Identifier: id,
		CreatedAt:  l.opt.now().UTC().Truncate(time.Millisecond),
		TTL:        l.opt.accessTTL,
	}
	rec.Value = pkgcrypto.AccessTokenValue(p.Secret, id, rec.CreatedAt, rec.TTLMillis())
	if err := l.tokens.UpsertAccessToken(ctx, rec); err != nil {
		l.log.Warn("access token upsert failed", zap.String("identifier", id), zap.Error(err))
		if l.opt.ledger != nil {
			// nothing was issued; the challenge stays usable
			if rerr := l.opt.ledger.Release(context.WithoutCancel(ctx), ledgerKey); rerr != nil {
				l.log.Warn("challenge release failed", zap.String("identifier", id), zap.Error(rerr))
			}
		}
		return model.IssuedToken{}, err
	}

	l.log.Debug("authenticate", zap.String("identifier", id), zap.String("outcome", "issued"))
	l.opt.events.Publish(ctx, events.TopicTokenIssued, events.Event{
		Kind: l.kind, Identifier: id, At: rec.CreatedAt, TTLMillis: rec.TTLMillis(),
	})
	return model.IssuedToken{Value: rec.Value, TTLMillis: rec.TTLMillis(), CreatedAt: rec.CreatedAt}, nil
}

// Verify looks the principal and its token up concurrently, expires a stale token, and compares values.
// A token whose expiry equals now is still valid.
func (l *Lifecycle) Verify(ctx context.Context, identifier, token string) (*model.Principal, error) {
	id := model.NormalizeIdentifier(identifier)
	if id == "" {
		return nil, errs.Invalid("email", "required")
	}
	if token == "" {
		return nil, errs.Invalid("access_token", "required")
	}

	var (
		p   *model.Principal
		rec *model.TokenRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := l.principals.Get(gctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		p = got
		return err
	})
	g.Go(func() error {
		got, err := l.tokens.GetAccessToken(gctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		rec = got
		return err
	})
	if err := g.Wait(); err != nil {
		l.log.Warn("verify lookup failed", zap.String("identifier", id), zap.Error(err))
		return nil, err
	}

	if p == nil {
		l.log.Debug("verify", zap.String("identifier", id), zap.String("outcome", "unknown principal"))
		return nil, errs.ErrUnknownPrincipal
	}
	if rec != nil && rec.Expired(l.opt.now()) {
		l.expire(ctx, *rec)
		rec = nil
	}
	if rec == nil || subtle.ConstantTimeCompare([]byte(rec.Value), []byte(token)) != 1 {
		l.log.Debug("verify", zap.String("identifier", id), zap.String("outcome", "invalid or expired token"))
		return nil, errs.ErrInvalidOrExpiredToken
	}
	return p, nil
}

// expire removes an expired slot, either inline or on a detached goroutine tracked by Wait.
// The delete only matches the value that was read, so a token rotated meanwhile survives.
func (l *Lifecycle) expire(ctx context.Context, rec model.TokenRecord) {
	if l.opt.syncDelete {
		l.deleteExpired(ctx, rec)
		return
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedDeleteTimeout)
		defer cancel()
		l.deleteExpired(dctx, rec)
	}()
}

func (l *Lifecycle) deleteExpired(ctx context.Context, rec model.TokenRecord) {
	deleted, err := l.tokens.DeleteAccessTokenIfMatch(ctx, rec.Identifier, rec.Value)
	if err != nil {
		l.log.Warn("expired token delete failed", zap.String("identifier", rec.Identifier), zap.Error(err))
		return
	}
	if deleted {
		l.opt.events.Publish(ctx, events.TopicTokenExpired, events.Event{
			Kind: l.kind, Identifier: rec.Identifier, At: rec.ExpiresAt(), TTLMillis: rec.TTLMillis(),
		})
	}
}

// Revoke deletes the caller's live token.
func (l *Lifecycle) Revoke(ctx context.Context, identifier, token string) error {
	if _, err := l.Verify(ctx, identifier, token); err != nil {
		return err
	}
	id := model.NormalizeIdentifier(identifier)
	if _, err := l.tokens.DeleteAccessTokenIfMatch(ctx, id, token); err != nil {
		l.log.Warn("revoke failed", zap.String("identifier", id), zap.Error(err))
		return err
	}
	l.log.Debug("revoke", zap.String("identifier", id), zap.String("outcome", "revoked"))
	l.opt.events.Publish(ctx, events.TopicTokenRevoked, events.Event{
		Kind: l.kind, Identifier: id, At: l.opt.now().UTC(),
	})
	return nil
}

// SweepExpired deletes every expired token of this kind.
func (l *Lifecycle) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.tokens.DeleteExpiredAccessTokens(ctx, l.opt.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.log.Info("expired tokens swept", zap.Int64("count", n))
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (l *Lifecycle) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Wait blocks until detached expiry deletes have finished.
func (l *Lifecycle) Wait() { l.pending.Wait() }
