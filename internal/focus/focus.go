// Package focus answers "what holds keyboard focus right now" cheaply.
//
// The provider caches the last backend answer for a short TTL so the
// orchestrator can consult it on every injection without a bus round-trip
// per call. The backend is injectable: production uses the accessibility bus,
// tests substitute a deterministic fake.
package focus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Coldaine/coldvox/pkg/types"
)

// Backend is the capability set a focus source must provide.
type Backend interface {
	// Query returns the current focus status. It may return an error; the
	// provider degrades errors to FocusUnknown rather than failing callers.
	Query(ctx context.Context) (types.FocusStatus, error)
}

// BackendFunc adapts a plain function to the [Backend] interface.
type BackendFunc func(ctx context.Context) (types.FocusStatus, error)

// Query calls f.
func (f BackendFunc) Query(ctx context.Context) (types.FocusStatus, error) { return f(ctx) }

// Provider caches focus queries with a TTL. Safe for concurrent use.
type Provider struct {
	backend Backend
	ttl     time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time

	mu        sync.Mutex
	last      types.FocusStatus
	queriedAt time.Time
}

// Option is a functional option for [NewProvider].
type Option func(*Provider)

// WithClock replaces the provider's clock. Tests use this to step time
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a [Provider] over backend with the given cache TTL.
func NewProvider(backend Backend, ttl time.Duration, opts ...Option) *Provider {
	p := &Provider{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Status returns the current focus status, answering from cache when the last
// query is fresher than the TTL. Backend failures degrade to FocusUnknown —
// the caller is never failed, matching the gating semantics where an
// unreachable bus must not block injection.
func (p *Provider) Status(ctx context.Context) types.FocusStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.queriedAt.IsZero() && now.Sub(p.queriedAt) < p.ttl {
		return p.last
	}

	st, err := p.backend.Query(ctx)
	if err != nil {
		slog.Debug("focus query failed, treating as unknown", "err", err)
		st = types.FocusStatus{Kind: types.FocusUnknown}
	}
	p.last = st
	p.queriedAt = now
	return st
}

// Invalidate drops the cached status so the next [Provider.Status] call hits
// the backend.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queriedAt = time.Time{}
}
