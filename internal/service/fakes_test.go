package service

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/events"
	"github.com/and161185/gt-lab/internal/model"
	"github.com/and161185/gt-lab/internal/repository"
)

type fakePrincipals struct {
	kind   model.PrincipalKind
	byID   map[string]*model.Principal
	getErr error

	// started, when set, is signalled on Get and Get waits for release.
	started chan struct{}
	release chan struct{}
}

var _ repository.PrincipalRepository = (*fakePrincipals)(nil)

func newPrincipals(kind model.PrincipalKind, ps ...model.Principal) *fakePrincipals {
	f := &fakePrincipals{kind: kind, byID: map[string]*model.Principal{}}
	for i := range ps {
		p := ps[i]
		p.Kind = kind
		f.byID[p.Email] = &p
	}
	return f
}

func (f *fakePrincipals) Kind() model.PrincipalKind { return f.kind }

func (f *fakePrincipals) Get(ctx context.Context, id string) (*model.Principal, error) {
	if f.started != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakePrincipals) Exists(_ context.Context, id string) (bool, error) {
	if f.getErr != nil {
		return false, f.getErr
	}
	_, ok := f.byID[id]
	return ok, nil
}

func (f *fakePrincipals) List(context.Context) ([]model.Principal, error) {
	out := make([]model.Principal, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, *p)
	}
	return out, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	slots   map[string]model.TokenRecord
	getErr  error
	putErr  error
	delErr  error
	upserts int
	deletes int

	// stale, when set, is returned by GetAccessToken instead of the stored slot.
	stale *model.TokenRecord

	started chan struct{}
	release chan struct{}
}

var (
	_ repository.AccessTokenRepository       = (*fakeTokens)(nil)
	_ repository.RegistrationTokenRepository = (*fakeTokens)(nil)
)

func newTokens() *fakeTokens { return &fakeTokens{slots: map[string]model.TokenRecord{}} }

func (f *fakeTokens) GetAccessToken(ctx context.Context, id string) (*model.TokenRecord, error) {
	if f.started != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.stale != nil {
		c := *f.stale
		return &c, nil
	}
	rec, ok := f.slots[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeTokens) UpsertAccessToken(_ context.Context, rec model.TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.upserts++
	f.slots[rec.Identifier] = rec
	return nil
}

func (f *fakeTokens) DeleteAccessToken(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deletes++
	delete(f.slots, id)
	return nil
}

func (f *fakeTokens) DeleteAccessTokenIfMatch(_ context.Context, id, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return false, f.delErr
	}
	rec, ok := f.slots[id]
	if !ok || rec.Value != value {
		return false, nil
	}
	f.deletes++
	delete(f.slots, id)
	return true, nil
}

func (f *fakeTokens) DeleteExpiredAccessTokens(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.slots {
		if rec.Expired(now) {
			delete(f.slots, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) GetRegistrationToken(ctx context.Context, id string) (*model.TokenRecord, error) {
	return f.GetAccessToken(ctx, id)
}

func (f *fakeTokens) UpsertRegistrationToken(ctx context.Context, rec model.TokenRecord) error {
	return f.UpsertAccessToken(ctx, rec)
}

func (f *fakeTokens) DeleteRegistrationToken(ctx context.Context, id string) error {
	return f.DeleteAccessToken(ctx, id)
}

func (f *fakeTokens) slot(id string) (model.TokenRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.slots[id]
	return rec, ok
}

type memLedger struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memLedger) Consume(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memLedger) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type recordedEvent struct {
	topic string
	ev    events.Event
}

type recorder struct {
	mu  sync.Mutex
	got []recordedEvent
}

func (r *recorder) Publish(_ context.Context, topic string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, recordedEvent{topic: topic, ev: ev})
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, e := range r.got {
		out[i] = e.topic
	}
	return out
}

// manualClock is a settable Clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
