package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/and161185/gt-lab/internal/events"
	"github.com/and161185/gt-lab/internal/repository"
)

// Defaults for both principal kinds.
const (
	DefaultAccessTTL       = time.Hour
	DefaultRegistrationTTL = 6 * time.Hour
	RegistrationTokenLen   = 16
)

// Clock supplies the current time.
type Clock func() time.Time

type options struct {
	now             Clock
	log             *zap.Logger
	events          events.Publisher
	accessTTL       time.Duration
	registrationTTL time.Duration
	rejectExisting  bool
	syncDelete      bool
	ledger          repository.ChallengeLedger
	replayWindow    time.Duration
}

func defaultOptions() options {
	return options{
		now:             time.Now,
		log:             zap.NewNop(),
		events:          events.Nop{},
		accessTTL:       DefaultAccessTTL,
		registrationTTL: DefaultRegistrationTTL,
		rejectExisting:  true,
	}
}

// Option configures a Lifecycle or a RegistrationIssuer.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithAccessTTL sets the access token lifetime. Non-positive values are ignored.
func WithAccessTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.accessTTL = d
		}
	}
}

// WithRegistrationTTL sets the registration token lifetime. Non-positive values are ignored.
func WithRegistrationTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.registrationTTL = d
		}
	}
}

// WithRejectExisting toggles the "user already exists" check of registration issuance.
func WithRejectExisting(v bool) Option {
	return func(o *options) { o.rejectExisting = v }
}

// WithSyncExpiryDelete makes expiry-triggered deletes complete before Verify returns.
// Use it with stores that lack read-your-writes consistency.
func WithSyncExpiryDelete(v bool) Option {
	return func(o *options) { o.syncDelete = v }
}

// WithReplayGuard rejects a challenge digest seen again within window.
func WithReplayGuard(ledger repository.ChallengeLedger, window time.Duration) Option {
	return func(o *options) {
		if ledger != nil && window > 0 {
			o.ledger = ledger
			o.replayWindow = window
		}
	}
}
