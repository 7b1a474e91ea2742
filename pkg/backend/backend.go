// Package backend defines the adapter contract every text-injection mechanism
// must satisfy.
//
// A backend wraps one concrete way of delivering text into the focused
// application — direct insertion over the accessibility bus, a clipboard
// paste, or a synthetic-input tool — and exposes a uniform two-method
// capability set. The set of backends is static: adapters are compiled in and
// enabled by configuration, never discovered at runtime.
//
// Implementations must be safe for concurrent use across distinct instances.
// A single instance may serialise internally (the clipboard adapter must, to
// keep its backup/write/paste/restore sequence atomic); the orchestrator
// treats each instance as single-threaded.
//
// Both methods must be non-panicking and must honour context cancellation:
// when the orchestrator's deadline fires mid-attempt the adapter is expected
// to release every held resource on the way out — a replaced clipboard is
// restored, pending bus calls are abandoned.
package backend

import (
	"context"

	"github.com/Coldaine/coldvox/pkg/types"
)

// Backend is the abstraction over one injection mechanism.
type Backend interface {
	// Method returns the stable identifier of this mechanism. It keys success
	// records, cooldowns, and metrics.
	Method() types.Method

	// IsAvailable cheaply reports whether the mechanism can plausibly work in
	// the current environment (bus reachable, helper binary present, session
	// type supported). The orchestrator caches the result for one run, so
	// implementations may probe on every call.
	IsAvailable(ctx context.Context) bool

	// InjectText delivers text into the currently focused control. The
	// context carries the per-attempt deadline; on expiry the adapter must
	// return promptly with a Timeout-kind error and leave no shared state
	// (clipboard, caret) modified.
	InjectText(ctx context.Context, text string) error
}

// Activator is an optional pre-attempt assist — a helper that raises or
// activates the target window before the main injection attempt. It is not an
// injection method and never appears in the ordered method list.
type Activator interface {
	// Activate brings the target application's window to the foreground.
	// Failures are advisory; injection proceeds regardless.
	Activate(ctx context.Context, appClass string) error
}
