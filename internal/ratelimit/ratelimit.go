// Package ratelimit implements the fixed-window rate limiter: for
// (action, identifier), track (count, window_start, expires_at) and
// allow/deny requests against a configured per-action limit.
package ratelimit

import (
	"errors"
	"time"
)

// ErrUnknownAction is returned when Allow is called for an action with
// no configured Limit.
var ErrUnknownAction = errors.New("ratelimit: unknown action")

// Limit is the configured window for one action.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits are the named per-action limits.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"login":          {Max: 5, Window: 60 * time.Second},
		"register":       {Max: 3, Window: time.Hour},
		"password_reset": {Max: 3, Window: time.Hour},
		"sync_pull":      {Max: 60, Window: 60 * time.Second},
		"sync_push":      {Max: 30, Window: 60 * time.Second},
		"file_upload":    {Max: 100, Window: 60 * time.Second},
	}
}

// Decision is the result of an Allow check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Bucket is the persisted state of one (action, identifier) window.
type Bucket struct {
	Count       int
	WindowStart time.Time
	ExpiresAt   time.Time
}

// Store persists rate-limit buckets keyed by (action, identifier).
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the current bucket for the key, or ok=false if none exists.
	Load(action, identifier string) (bucket Bucket, ok bool, err error)
	// Save writes the bucket for the key, replacing any existing value.
	Save(action, identifier string, bucket Bucket) error
	// Sweep removes buckets whose ExpiresAt is before now. Returns the
	// number of buckets removed.
	Sweep(now time.Time) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

// Limiter evaluates the fixed-window algorithm against a Store.
type Limiter struct {
	store  Store
	limits map[string]Limit
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits overrides the default named limits.
func WithLimits(limits map[string]Limit) Option {
	return func(l *Limiter) { l.limits = limits }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow evaluates the fixed-window algorithm for (action, identifier):
// if no bucket exists, create one with count=1 and allow; if the window
// has expired, reset and allow; if count is under the limit, increment
// and allow; otherwise deny with the remaining time until the window
// resets.
func (l *Limiter) Allow(action, identifier string) (Decision, error) {
	limit, ok := l.limits[action]
	if !ok {
		return Decision{}, ErrUnknownAction
	}

	now := l.now()

	bucket, ok, err := l.store.Load(action, identifier)
	if err != nil {
		return Decision{}, err
	}

	if !ok || now.After(bucket.ExpiresAt) {
		bucket = Bucket{
			Count:       1,
			WindowStart: now,
			ExpiresAt:   now.Add(limit.Window),
		}
		if err := l.store.Save(action, identifier, bucket); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true}, nil
	}

	if bucket.Count < limit.Max {
		bucket.Count++
		if err := l.store.Save(action, identifier, bucket); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true}, nil
	}

	retryAfter := bucket.ExpiresAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfter: retryAfter.Round(time.Second)}, nil
}

// Sweep removes expired buckets from the underlying store. Intended to
// be called periodically (see StartSweeper).
func (l *Limiter) Sweep() (int, error) {
	return l.store.Sweep(l.now())
}

// StartSweeper runs Sweep on interval until stop is closed.
func (l *Limiter) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
