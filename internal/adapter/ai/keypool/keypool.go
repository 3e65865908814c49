// Package keypool tracks the health of model API credentials and picks the
// credential each call should use.
package keypool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/observability"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

const (
	defaultFailureThreshold = 3
	defaultQuarantineBase   = 30 * time.Second
	defaultQuarantineMax    = 10 * time.Minute
	quarantineMultiplier    = 2.0
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// keyState is the mutable health record of one credential.
type keyState struct {
	key                 string
	fingerprint         string
	consecutiveFailures int
	totalSuccesses      int
	totalFailures       int
	quarantines         int
	quarantined         bool
	quarantinedUntil    time.Time
	lastUsed            time.Time
	schedule            *backoff.ExponentialBackOff
}

// eligible reports whether the key may be handed out in normal rotation.
// An expired quarantine makes the key eligible again on probation.
func (s *keyState) eligible(now time.Time) bool {
	return !s.quarantined || !now.Before(s.quarantinedUntil)
}

// KeyStatus is a point-in-time view of one credential. It never carries the secret.
type KeyStatus struct {
	Fingerprint         string    `json:"fingerprint"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalSuccesses      int       `json:"total_successes"`
	TotalFailures       int       `json:"total_failures"`
	Quarantines         int       `json:"quarantines"`
	Quarantined         bool      `json:"quarantined"`
	QuarantinedUntil    time.Time `json:"quarantined_until,omitempty"`
	LastUsed            time.Time `json:"last_used,omitempty"`
}

// Tracker implements domain.CredentialPool. All state sits behind one mutex,
// so concurrent analyses never lose failure counts.
type Tracker struct {
	mu               sync.Mutex
	keys             []*keyState
	byKey            map[string]*keyState
	cursor           int
	failureThreshold int
	quarantineBase   time.Duration
	quarantineMax    time.Duration
	now              Clock
}

var _ domain.CredentialPool = (*Tracker)(nil)

// Option configures a Tracker.
type Option func(*Tracker)

// WithFailureThreshold sets how many consecutive failures quarantine a key.
func WithFailureThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.failureThreshold = n
		}
	}
}

// WithQuarantine sets the first quarantine duration and its upper bound.
func WithQuarantine(base, max time.Duration) Option {
	return func(t *Tracker) {
		if base > 0 {
			t.quarantineBase = base
		}
		if max > 0 {
			t.quarantineMax = max
		}
	}
}

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.now = c
		}
	}
}

// New builds a tracker over the ordered credential pool. Blank and duplicate
// keys are dropped; an empty pool is a configuration error.
func New(keys []string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		byKey:            make(map[string]*keyState, len(keys)),
		failureThreshold: defaultFailureThreshold,
		quarantineBase:   defaultQuarantineBase,
		quarantineMax:    defaultQuarantineMax,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.quarantineMax < t.quarantineBase {
		t.quarantineMax = t.quarantineBase
	}

	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := t.byKey[k]; dup {
			continue
		}
		s := &keyState{key: k, fingerprint: Fingerprint(k), schedule: t.newSchedule()}
		t.keys = append(t.keys, s)
		t.byKey[k] = s
	}
	if len(t.keys) == 0 {
		return nil, fmt.Errorf("op=keypool.New: %w", domain.ErrNoCredentials)
	}

	slog.Info("credential pool initialized",
		slog.Int("keys", len(t.keys)),
		slog.Int("failure_threshold", t.failureThreshold),
		slog.Duration("quarantine_base", t.quarantineBase),
		slog.Duration("quarantine_max", t.quarantineMax))
	return t, nil
}

// newSchedule returns the quarantine duration sequence for one key: base,
// doubling each time, capped at max. No jitter so durations stay predictable.
func (t *Tracker) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.quarantineBase
	b.Multiplier = quarantineMultiplier
	b.MaxInterval = t.quarantineMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Size returns the number of credentials in the pool.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Next returns the next eligible credential in round-robin order. When every
// key is quarantined it degrades to plain round-robin over the whole pool.
func (t *Tracker) Next() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := len(t.keys)
	for i := 0; i < n; i++ {
		idx := (t.cursor + i) % n
		s := t.keys[idx]
		if s.eligible(now) {
			t.cursor = (idx + 1) % n
			s.lastUsed = now
			return s.key
		}
	}

	s := t.keys[t.cursor]
	t.cursor = (t.cursor + 1) % n
	s.lastUsed = now
	slog.Warn("all credentials quarantined; using round-robin over full pool",
		slog.String("key", s.fingerprint),
		slog.Int("pool_size", n))
	return s.key
}

// ReportSuccess clears the failure streak and any quarantine of key.
func (t *Tracker) ReportSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byKey[key]
	if !ok {
		slog.Debug("success reported for unknown credential", slog.String("key", Fingerprint(key)))
		return
	}
	if s.quarantined {
		slog.Info("credential released from quarantine after success",
			slog.String("key", s.fingerprint),
			slog.Int("previous_failures", s.consecutiveFailures))
		observability.CredentialsQuarantined.Dec()
	}
	s.totalSuccesses++
	s.consecutiveFailures = 0
	s.quarantined = false
	s.quarantinedUntil = time.Time{}
	s.schedule.Reset()
}

// ReportError records a failure for key. Reaching the threshold quarantines
// it; a failure while on probation after an expired quarantine re-quarantines
// it for longer.
func (t *Tracker) ReportError(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byKey[key]
	if !ok {
		slog.Debug("error reported for unknown credential", slog.String("key", Fingerprint(key)))
		return
	}
	now := t.now()
	s.totalFailures++
	s.consecutiveFailures++

	if s.consecutiveFailures < t.failureThreshold {
		slog.Info("credential failure recorded",
			slog.String("key", s.fingerprint),
			slog.Int("consecutive_failures", s.consecutiveFailures),
			slog.Int("threshold", t.failureThreshold))
		return
	}
	if s.quarantined && now.Before(s.quarantinedUntil) {
		// Already excluded; keep the current window.
		return
	}

	d := s.schedule.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		d = t.quarantineMax
	}
	if !s.quarantined {
		observability.CredentialsQuarantined.Inc()
	}
	s.quarantined = true
	s.quarantinedUntil = now.Add(d)
	s.quarantines++
	observability.CredentialQuarantinesTotal.Inc()

	slog.Warn("credential quarantined after consecutive failures",
		slog.String("key", s.fingerprint),
		slog.Int("consecutive_failures", s.consecutiveFailures),
		slog.Int("quarantines", s.quarantines),
		slog.Duration("duration", d),
		slog.Time("quarantined_until", s.quarantinedUntil))
}

// Snapshot returns the health of every credential in pool order.
func (t *Tracker) Snapshot() []KeyStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]KeyStatus, 0, len(t.keys))
	for _, s := range t.keys {
		st := KeyStatus{
			Fingerprint:         s.fingerprint,
			ConsecutiveFailures: s.consecutiveFailures,
			TotalSuccesses:      s.totalSuccesses,
			TotalFailures:       s.totalFailures,
			Quarantines:         s.quarantines,
			Quarantined:         s.quarantined && now.Before(s.quarantinedUntil),
			LastUsed:            s.lastUsed,
		}
		if st.Quarantined {
			st.QuarantinedUntil = s.quarantinedUntil
		}
		out = append(out, st)
	}
	return out
}

// Available returns how many credentials are currently in normal rotation.
func (t *Tracker) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for _, s := range t.keys {
		if s.eligible(now) {
			n++
		}
	}
	return n
}

// Fingerprint identifies a credential in logs and stats without revealing it.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key_" + hex.EncodeToString(sum[:4])
}
