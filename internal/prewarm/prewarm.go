// Package prewarm speculatively prepares per-backend context while the user
// is still speaking, so the first injection after a flush fits its latency
// budget: the accessibility connection is probed, the focused object and app
// class captured, clipboard tooling checked — all before the orchestrator
// ever asks.
//
// Every cached value is immutable once stored; consumers clone values out of
// the cache rather than holding a lock across an injection attempt. Refreshing
// all caches publishes the whole set in one critical section, so a reader can
// never observe one cache fresh and another expired from the same refresh.
//
// All exported methods are goroutine-safe.
package prewarm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Coldaine/coldvox/internal/observe"
	"github.com/Coldaine/coldvox/pkg/types"
)

// DefaultTTL is how long a prewarmed value stays fresh.
const DefaultTTL = 3 * time.Second

// Cache names, used as metric labels and refresh keys.
const (
	CacheAtspi           = "atspi"
	CacheClipboard       = "clipboard"
	CachePortal          = "portal"
	CacheVirtualKeyboard = "virtual_keyboard"
)

// cacheNames is the deterministic refresh order.
var cacheNames = []string{CacheAtspi, CacheClipboard, CachePortal, CacheVirtualKeyboard}

// AtspiContext is the prewarmed accessibility snapshot. It is a plain value:
// callers receive copies, never shared references.
type AtspiContext struct {
	// TargetApp is the focused application's class at capture time, when known.
	TargetApp string

	// FocusedObject is an opaque handle to the focused accessible object,
	// usable by the insert adapter. Nil when no focus was observed.
	FocusedObject any

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time
}

// Refresher produces a fresh prewarmed value for one cache.
type Refresher func(ctx context.Context) (any, error)

// cached is one TTL-guarded slot.
type cached struct {
	value    any
	filledAt time.Time
}

// fresh reports whether the slot was filled within ttl of now.
func (c cached) fresh(now time.Time, ttl time.Duration) bool {
	return !c.filledAt.IsZero() && now.Sub(c.filledAt) < ttl
}

// Controller owns the prewarmed caches and the background refresh tasks.
type Controller struct {
	refreshers map[string]Refresher
	ttl        time.Duration
	metrics    *observe.Metrics

	// ctx is the controller's lifetime; Close cancels it and with it every
	// in-flight background refresh.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards all cache slots and the last-focus slot together. Refreshes
	// compute outside the lock and publish the whole batch inside it.
	mu        sync.RWMutex
	caches    map[string]cached
	lastFocus types.FocusStatus

	// wg tracks fire-and-forget refresh tasks so Close can drain them.
	wg sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.ttl = ttl }
}

// WithMetrics wires a metrics instance. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a [Controller] with one [Refresher] per cache name. Caches
// without a refresher stay permanently empty and report expired.
func New(refreshers map[string]Refresher, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		refreshers: refreshers,
		ttl:        DefaultTTL,
		ctx:        ctx,
		cancel:     cancel,
		caches:     make(map[string]cached, len(cacheNames)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetAtspiContext returns the prewarmed accessibility snapshot, refreshing it
// synchronously when stale. It never fails: when the refresher errors the
// previous (stale) snapshot is returned, or a zero snapshot if none exists.
func (c *Controller) GetAtspiContext(ctx context.Context) AtspiContext {
	c.mu.RLock()
	slot := c.caches[CacheAtspi]
	c.mu.RUnlock()

	if slot.fresh(time.Now(), c.ttl) {
		if v, ok := slot.value.(AtspiContext); ok {
			return v
		}
	}

	if err := c.refresh(ctx, CacheAtspi); err != nil {
		slog.Debug("atspi prewarm refresh failed, serving stale", "err", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.caches[CacheAtspi].value.(AtspiContext); ok {
		return v
	}
	return AtspiContext{}
}

// ExecuteAllPrewarming refreshes every cache concurrently. New values are
// computed in parallel outside the lock, then published together in a single
// critical section — a reader never observes a partially refreshed set.
func (c *Controller) ExecuteAllPrewarming(ctx context.Context) error {
	type result struct {
		name  string
		value any
	}

	results := make([]result, len(cacheNames))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range cacheNames {
		ref, ok := c.refreshers[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			v, err := ref(gctx)
			if err != nil {
				c.record(gctx, name, "error")
				return err
			}
			c.record(gctx, name, "ok")
			results[i] = result{name: name, value: v}
			return nil
		})
	}
	err := g.Wait()

	// Publish everything that succeeded atomically.
	now := time.Now()
	c.mu.Lock()
	for _, r := range results {
		if r.name == "" {
			continue
		}
		c.caches[r.name] = cached{value: r.value, filledAt: now}
	}
	c.mu.Unlock()

	return err
}

// IsAnyDataExpired reports whether at least one refreshable cache is stale.
func (c *Controller) IsAnyDataExpired() bool {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range cacheNames {
		if _, ok := c.refreshers[name]; !ok {
			continue
		}
		if !c.caches[name].fresh(now, c.ttl) {
			return true
		}
	}
	return false
}

// OnSessionBuffering fires a background refresh of the cache backing the
// first method in the current strategy order. It returns immediately; the
// spawned task is cancelled by [Controller.Close]. Values are cloned out
// before spawning — the task holds no lock the caller could be blocked on.
func (c *Controller) OnSessionBuffering(firstCache string) {
	ref, ok := c.refreshers[firstCache]
	if !ok {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		v, err := ref(c.ctx)
		if err != nil {
			c.record(c.ctx, firstCache, "error")
			slog.Debug("buffering prewarm failed", "cache", firstCache, "err", err)
			return
		}
		c.record(c.ctx, firstCache, "ok")

		c.mu.Lock()
		c.caches[firstCache] = cached{value: v, filledAt: time.Now()}
		c.mu.Unlock()
	}()
}

// SetLastFocus stores the most recent focus context observed during
// buffering. [Controller.LastFocus] reads it back.
func (c *Controller) SetLastFocus(st types.FocusStatus) {
	c.mu.Lock()
	c.lastFocus = st
	c.mu.Unlock()
}

// LastFocus returns the stored focus context.
func (c *Controller) LastFocus() types.FocusStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFocus
}

// Close cancels all in-flight refresh tasks and waits for them to exit.
func (c *Controller) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// refresh recomputes a single cache synchronously.
func (c *Controller) refresh(ctx context.Context, name string) error {
	ref, ok := c.refreshers[name]
	if !ok {
		return nil
	}
	v, err := ref(ctx)
	if err != nil {
		c.record(ctx, name, "error")
		return err
	}
	c.record(ctx, name, "ok")

	c.mu.Lock()
	c.caches[name] = cached{value: v, filledAt: time.Now()}
	c.mu.Unlock()
	return nil
}

// record emits the prewarm refresh metric when metrics are wired.
func (c *Controller) record(ctx context.Context, cache, status string) {
	if c.metrics != nil {
		c.metrics.RecordPrewarmRefresh(ctx, cache, status)
	}
}
