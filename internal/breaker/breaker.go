// Package breaker implements the gateway's provider circuit breaker: a
// fixed-cooldown health map keyed by provider id, with a global-exhaustion
// reset that clears every cooldown at once when no candidate is available.
//
// This is deliberately simpler than an exponential-backoff breaker (compare
// the per-provider state machine in a typical agent/provider chain): there
// is no permanent "dead" state and no per-provider growing backoff, because
// a provider outage here is expected to be transient infrastructure trouble
// on a shared, trusted fleet of configured upstreams rather than a
// fundamentally broken endpoint that should be backed off indefinitely.
package breaker

import (
	"sync"
	"time"
)

// Tracker records the last-failure time for each provider id and answers
// whether a provider is currently in its cooldown window.
type Tracker struct {
	mu       sync.Mutex
	failedAt map[string]time.Time
	cooldown time.Duration

	// now is injectable for testing; defaults to time.Now.
	now func() time.Time
}

// NewTracker creates a Tracker with the given cooldown duration.
func NewTracker(cooldown time.Duration) *Tracker {
	return &Tracker{
		failedAt: make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// MarkFailed records id as having failed at the current time, starting its
// cooldown window.
func (t *Tracker) MarkFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedAt[id] = t.now()
}

// MarkHealthy clears any cooldown recorded for id.
func (t *Tracker) MarkHealthy(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failedAt, id)
}

// InCooldown reports whether id is currently within its cooldown window.
func (t *Tracker) InCooldown(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.failedAt[id]
	if !ok {
		return false
	}
	return t.now().Sub(last) < t.cooldown
}

// SelectAvailable filters ids down to those not currently in cooldown. If
// every id is in cooldown (and ids is non-empty), this performs the
// global-exhaustion reset: every tracked cooldown is cleared and onReset is
// invoked once per id so callers can reflect the reset into provider
// health stats, then the full, now-available id list is returned. This
// guarantees the gateway never permanently wedges itself when every
// provider has recently failed.
func (t *Tracker) SelectAvailable(ids []string, onReset func(id string)) []string {
	t.mu.Lock()

	available := make([]string, 0, len(ids))
	for _, id := range ids {
		last, failed := t.failedAt[id]
		if !failed || t.now().Sub(last) >= t.cooldown {
			available = append(available, id)
		}
	}

	if len(available) > 0 || len(ids) == 0 {
		t.mu.Unlock()
		return available
	}

	// Every candidate is in cooldown: reset globally so the gateway keeps
	// making forward progress instead of wedging on transient outages.
	for _, id := range ids {
		delete(t.failedAt, id)
	}
	t.mu.Unlock()

	if onReset != nil {
		for _, id := range ids {
			onReset(id)
		}
	}
	return append([]string(nil), ids...)
}
