// Package redisstore contains Redis implementations of the token and challenge repositories.
//
// Each token slot is a hash {v: value, c: created unix ms, t: ttl ms} whose key expires natively one
// millisecond after the token does, so expired slots disappear without a sweep.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/model"
)

const prefix = "gtlab:"

var deleteIfMatch = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'v') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

// slots stores token records under prefix+namespace+identifier.
type slots struct {
	client redis.UniversalClient
	ns     string
}

func (s slots) key(identifier string) string { return prefix + s.ns + identifier }

func (s slots) get(ctx context.Context, identifier string) (*model.TokenRecord, error) {
	m, err := s.client.HGetAll(ctx, s.key(identifier)).Result()
	if err != nil {
		return nil, mapErr("hgetall "+s.ns, err)
	}
	if len(m) == 0 {
		return nil, errs.ErrNotFound
	}
	created, err1 := strconv.ParseInt(m["c"], 10, 64)
	ttl, err2 := strconv.ParseInt(m["t"], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, errs.Unavailable("decode "+s.ns, errors.Join(err1, err2))
	}
	return &model.TokenRecord{
		Identifier: identifier,
		Value:      m["v"],
		CreatedAt:  time.UnixMilli(created).UTC(),
		TTL:        time.Duration(ttl) * time.Millisecond,
	}, nil
}

func (s slots) upsert(ctx context.Context, rec model.TokenRecord) error {
	key := s.key(rec.Identifier)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"v", rec.Value,
			"c", rec.CreatedAt.UnixMilli(),
			"t", rec.TTLMillis(),
		)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt().Add(time.Millisecond))
		return nil
	})
	return mapErr("upsert "+s.ns, err)
}

func (s slots) del(ctx context.Context, identifier string) error {
	return mapErr("del "+s.ns, s.client.Del(ctx, s.key(identifier)).Err())
}

func (s slots) delIfMatch(ctx context.Context, identifier, value string) (bool, error) {
	n, err := deleteIfMatch.Run(ctx, s.client, []string{s.key(identifier)}, value).Int64()
	if err != nil {
		return false, mapErr("del "+s.ns, err)
	}
	return n > 0, nil
}

// TokenStore implements AccessTokenRepository for one principal kind.
type TokenStore struct{ s slots }

// NewTokenStore constructs an access token store for kind.
func NewTokenStore(client redis.UniversalClient, kind model.PrincipalKind) *TokenStore {
	return &TokenStore{s: slots{client: client, ns: kind.String() + ":access:"}}
}

func (t *TokenStore) GetAccessToken(ctx context.Context, identifier string) (*model.TokenRecord, error) {
	return t.s.get(ctx, identifier)
}

func (t *TokenStore) UpsertAccessToken(ctx context.Context, rec model.TokenRecord) error {
	return t.s.upsert(ctx, rec)
}

func (t *TokenStore) DeleteAccessToken(ctx context.Context, identifier string) error {
	return t.s.del(ctx, identifier)
}

func (t *TokenStore) DeleteAccessTokenIfMatch(ctx context.Context, identifier, value string) (bool, error) {
	return t.s.delIfMatch(ctx, identifier, value)
}

// DeleteExpiredAccessTokens is a no-op: Redis expires slots itself.
func (t *TokenStore) DeleteExpiredAccessTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// RegistrationStore implements RegistrationTokenRepository.
type RegistrationStore struct{ s slots }

// NewRegistrationStore constructs a registration token store.
func NewRegistrationStore(client redis.UniversalClient) *RegistrationStore {
	return &RegistrationStore{s: slots{client: client, ns: model.KindUser.String() + ":registration:"}}
}

func (r *RegistrationStore) GetRegistrationToken(ctx context.Context, identifier string) (*model.TokenRecord, error) {
	return r.s.get(ctx, identifier)
}

func (r *RegistrationStore) UpsertRegistrationToken(ctx context.Context, rec model.TokenRecord) error {
	return r.s.upsert(ctx, rec)
}

func (r *RegistrationStore) DeleteRegistrationToken(ctx context.Context, identifier string) error {
	return r.s.del(ctx, identifier)
}

// ChallengeLedger implements repository.ChallengeLedger with SET NX.
type ChallengeLedger struct{ client redis.UniversalClient }

// NewChallengeLedger constructs a ledger of consumed challenges.
func NewChallengeLedger(client redis.UniversalClient) *ChallengeLedger {
	return &ChallengeLedger{client: client}
}

// Consume reports true the first time key is seen within window.
func (l *ChallengeLedger) Consume(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, prefix+"challenge:"+key, 1, window).Result()
	if err != nil {
		return false, mapErr("consume challenge", err)
	}
	return ok, nil
}

// Release drops key so the challenge may be consumed again.
func (l *ChallengeLedger) Release(ctx context.Context, key string) error {
	return mapErr("release challenge", l.client.Del(ctx, prefix+"challenge:"+key).Err())
}

func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return errs.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errs.Unavailable(op, err)
	}
}
