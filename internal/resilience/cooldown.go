// Package resilience provides the failure-tracking primitives behind the
// injection orchestrator's method ordering: per-method exponential cooldowns
// and per-(app, method) rolling success rates.
//
// All types are safe for concurrent use. Entries are created lazily on first
// use and live for the duration of the run — nothing is persisted.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// CooldownConfig holds tuning knobs for a [CooldownMap].
type CooldownConfig struct {
	// Threshold is the number of consecutive failures before a method enters
	// cooldown. Default: 3.
	Threshold int

	// Initial is the base cooldown duration; it doubles per further
	// consecutive failure. Default: 1s.
	Initial time.Duration

	// Max caps the exponential growth. Default: 30s.
	Max time.Duration
}

// cooldownEntry tracks one method's failure streak. Each entry carries its
// own lock so two methods never contend.
type cooldownEntry struct {
	mu            sync.Mutex
	consecutive   int
	cooldownUntil time.Time
}

// CooldownMap tracks consecutive failures per key (an injection method) and
// answers whether the key is currently on cooldown. The cooldown duration
// grows exponentially with the failure streak: min(max, initial·2^(n−1)).
type CooldownMap struct {
	threshold int
	initial   time.Duration
	max       time.Duration

	mu      sync.RWMutex
	entries map[string]*cooldownEntry
}

// NewCooldownMap creates a [CooldownMap] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewCooldownMap(cfg CooldownConfig) *CooldownMap {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Initial <= 0 {
		cfg.Initial = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	return &CooldownMap{
		threshold: cfg.Threshold,
		initial:   cfg.Initial,
		max:       cfg.Max,
		entries:   make(map[string]*cooldownEntry),
	}
}

// entry returns the tracked entry for key, creating it on first use.
func (c *CooldownMap) entry(key string) *cooldownEntry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = &cooldownEntry{}
	c.entries[key] = e
	return e
}

// Active reports whether key is on cooldown at now.
func (c *CooldownMap) Active(key string, now time.Time) bool {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Before(e.cooldownUntil)
}

// RecordFailure increments key's consecutive-failure count and, once the
// threshold is reached, arms the cooldown window.
func (c *CooldownMap) RecordFailure(key string, now time.Time) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutive++
	if e.consecutive < c.threshold {
		return
	}

	d := c.duration(e.consecutive)
	e.cooldownUntil = now.Add(d)
	slog.Warn("injection method entering cooldown",
		"method", key,
		"consecutive_failures", e.consecutive,
		"cooldown", d,
	)
}

// RecordSuccess resets key's failure streak and clears any armed cooldown.
func (c *CooldownMap) RecordSuccess(key string) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consecutive >= c.threshold {
		slog.Info("injection method recovered", "method", key)
	}
	e.consecutive = 0
	e.cooldownUntil = time.Time{}
}

// ConsecutiveFailures returns key's current failure streak.
func (c *CooldownMap) ConsecutiveFailures(key string) int {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive
}

// Until returns the instant key's cooldown expires. The zero time means no
// cooldown is armed.
func (c *CooldownMap) Until(key string) time.Time {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cooldownUntil
}

// duration computes min(max, initial·2^(n−1)) without overflowing on long
// failure streaks.
func (c *CooldownMap) duration(consecutive int) time.Duration {
	d := c.initial
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= c.max || d <= 0 {
			return c.max
		}
	}
	if d > c.max {
		return c.max
	}
	return d
}
