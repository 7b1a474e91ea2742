package resilience

import (
	"sync"
	"time"
)

// decayFactor is the per-attempt exponential decay of the rolling success
// rate. Newer attempts dominate so a method that recently started failing
// drops in the ordering within a handful of attempts.
const decayFactor = 0.9

// SuccessRecord is a snapshot of one (app class, method) pair's history.
type SuccessRecord struct {
	Attempts      uint64
	Successes     uint64
	LastSuccessAt time.Time

	// Rate is the exponentially decayed rolling success rate in [0, 1].
	Rate float64
}

// successEntry is the mutable tracked state behind a [SuccessRecord].
// Each entry carries its own lock so updates for different (app, method)
// pairs never contend.
type successEntry struct {
	mu          sync.Mutex
	attempts    uint64
	successes   uint64
	lastSuccess time.Time
	rate        float64
	seeded      bool
}

// SuccessTracker maintains rolling success rates keyed by (app class, method).
// The orchestrator sorts method candidates by these rates, so a method that
// works well in the focused application is preferred next time.
type SuccessTracker struct {
	mu      sync.RWMutex
	entries map[successKey]*successEntry
}

type successKey struct {
	appClass string
	method   string
}

// NewSuccessTracker creates an empty [SuccessTracker].
func NewSuccessTracker() *SuccessTracker {
	return &SuccessTracker{entries: make(map[successKey]*successEntry)}
}

// entry returns the tracked entry for (appClass, method), creating it on
// first use.
func (t *SuccessTracker) entry(appClass, method string) *successEntry {
	k := successKey{appClass: appClass, method: method}

	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[k]; ok {
		return e
	}
	e = &successEntry{}
	t.entries[k] = e
	return e
}

// Record folds one attempt outcome into the rolling rate.
func (t *SuccessTracker) Record(appClass, method string, success bool, now time.Time) {
	e := t.entry(appClass, method)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts++
	outcome := 0.0
	if success {
		e.successes++
		e.lastSuccess = now
		outcome = 1.0
	}

	if !e.seeded {
		e.rate = outcome
		e.seeded = true
		return
	}
	e.rate = decayFactor*e.rate + (1-decayFactor)*outcome
}

// Rate returns the rolling success rate for (appClass, method). Pairs that
// were never attempted report a neutral 0.5 so unknown methods are neither
// favoured nor punished by the ordering sort.
func (t *SuccessTracker) Rate(appClass, method string) float64 {
	k := successKey{appClass: appClass, method: method}

	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	if !ok {
		return 0.5
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.seeded {
		return 0.5
	}
	return e.rate
}

// Snapshot returns a copy of the record for (appClass, method). The zero
// record is returned for pairs that were never attempted.
func (t *SuccessTracker) Snapshot(appClass, method string) SuccessRecord {
	k := successKey{appClass: appClass, method: method}

	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	if !ok {
		return SuccessRecord{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return SuccessRecord{
		Attempts:      e.attempts,
		Successes:     e.successes,
		LastSuccessAt: e.lastSuccess,
		Rate:          e.rate,
	}
}
