package accounts

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultReconnectCooldown is the minimum spacing between reconnect attempts
// for one account.
const DefaultReconnectCooldown = 10 * time.Second

// ErrReconnectInFlight means an attempt for this account has not finished.
var ErrReconnectInFlight = errors.New("reconnect already in progress")

// CooldownError means the previous attempt was too recent.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("reconnect cooling down, retry in %s", e.Remaining.Round(time.Second))
}

// IsThrottled reports whether err is a deliberate throttle rejection rather
// than a real failure.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReconnectInFlight) {
		return true
	}
	var ce *CooldownError
	return errors.As(err, &ce)
}

type reconnectAttempt struct {
	last     time.Time
	inFlight bool
}

// ReconnectThrottle rate-limits connect attempts per account: at most one in
// flight, and at least cooldown between attempts. Acquire must be paired
// with Release on every exit path — a leaked in-flight flag blocks the
// account until process restart.
type ReconnectThrottle struct {
	mu       sync.Mutex
	cooldown time.Duration
	clock    Clock
	attempts map[string]*reconnectAttempt
}

func NewReconnectThrottle(cooldown time.Duration, clock Clock) *ReconnectThrottle {
	if cooldown <= 0 {
		cooldown = DefaultReconnectCooldown
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ReconnectThrottle{
		cooldown: cooldown,
		clock:    clock,
		attempts: make(map[string]*reconnectAttempt),
	}
}

// Acquire admits a new attempt for key or rejects it. On admission the
// in-flight flag and timestamp are recorded before any network call happens.
func (t *ReconnectThrottle) Acquire(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	rec, ok := t.attempts[key]
	if !ok {
		t.attempts[key] = &reconnectAttempt{last: now, inFlight: true}
		return nil
	}
	if rec.inFlight {
		return ErrReconnectInFlight
	}
	if since := now.Sub(rec.last); since < t.cooldown {
		return &CooldownError{Remaining: t.cooldown - since}
	}
	rec.last = now
	rec.inFlight = true
	return nil
}

// Release clears the in-flight flag, keeping the attempt timestamp so the
// cool-down still applies.
func (t *ReconnectThrottle) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.attempts[key]; ok {
		rec.inFlight = false
	}
}

// Clear drops all bookkeeping for key; used when a terminal connected event
// arrives.
func (t *ReconnectThrottle) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, key)
}

// InFlight reports whether an attempt for key is outstanding.
func (t *ReconnectThrottle) InFlight(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.attempts[key]
	return ok && rec.inFlight
}

// Tracked reports whether any attempt record exists for key.
func (t *ReconnectThrottle) Tracked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.attempts[key]
	return ok
}
