// Package app wires all ColdVox subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the processor loop and the health/metrics HTTP
// server, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackends,
// WithFocusBackend, etc.). When an option is not provided, New creates real
// implementations from the config and the environment.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Coldaine/coldvox/internal/config"
	"github.com/Coldaine/coldvox/internal/confirm"
	"github.com/Coldaine/coldvox/internal/focus"
	"github.com/Coldaine/coldvox/internal/health"
	"github.com/Coldaine/coldvox/internal/injection"
	"github.com/Coldaine/coldvox/internal/observe"
	"github.com/Coldaine/coldvox/internal/prewarm"
	"github.com/Coldaine/coldvox/internal/processor"
	"github.com/Coldaine/coldvox/internal/session"
	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/backend/atspi"
	"github.com/Coldaine/coldvox/pkg/backend/clipboard"
	"github.com/Coldaine/coldvox/pkg/types"
)

// disableEnv force-disables backends for debugging. It is read once during
// New and holds comma-separated method names.
const disableEnv = "COLDVOX_DISABLE_BACKENDS"

// eventBuf is the inbound transcription channel depth. The upstream producer
// drops partials preferentially when the channel fills.
const eventBuf = 64

// outcomeBuf is the outbound telemetry channel depth.
const outcomeBuf = 64

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	events   chan types.TranscriptionEvent
	outcomes chan processor.Outcome

	conn      *atspi.Conn
	backends  []backend.Backend
	focusSrc  focus.Backend
	orch      *injection.Orchestrator
	proc      *processor.Processor
	prewarmer *prewarm.Controller
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackends injects the adapter list instead of constructing the platform
// defaults. The slice must already be in default order.
func WithBackends(bs []backend.Backend) Option {
	return func(a *App) { a.backends = bs }
}

// WithFocusBackend injects a focus source instead of the accessibility bus.
func WithFocusBackend(b focus.Backend) Option {
	return func(a *App) { a.focusSrc = b }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		events:   make(chan types.TranscriptionEvent, eventBuf),
		outcomes: make(chan processor.Outcome, outcomeBuf),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Accessibility bus ─────────────────────────────────────────────
	// Unreachable bus is not fatal: the clipboard path still works and the
	// focus provider degrades to Unknown.
	if a.backends == nil || a.focusSrc == nil {
		conn, err := atspi.Connect(ctx)
		if err != nil {
			slog.Warn("accessibility bus unavailable", "err", err)
		} else {
			a.conn = conn
			a.closers = append(a.closers, conn.Close)
		}
	}

	// ── 2. Backend adapters ──────────────────────────────────────────────
	atspiAdapter := atspi.NewAdapter(a.conn)
	if a.backends == nil {
		a.backends = buildBackends(ctx, cfg.Injection, atspiAdapter)
	}
	if len(a.backends) == 0 {
		slog.Warn("no injection backends enabled")
	}

	// ── 3. Focus provider ────────────────────────────────────────────────
	if a.focusSrc == nil {
		a.focusSrc = focus.BackendFunc(atspiAdapter.FocusQuery)
	}
	focusProvider := focus.NewProvider(a.focusSrc, cfg.Injection.FocusCacheDuration())

	// ── 4. Confirmation probe ────────────────────────────────────────────
	prober := confirm.New(confirm.SourceFunc(func(ctx context.Context) (string, error) {
		return atspiAdapter.ReadFocusedText(ctx, 256)
	}))

	// ── 5. Prewarm controller ────────────────────────────────────────────
	a.prewarmer = prewarm.New(a.buildRefreshers(atspiAdapter, focusProvider),
		prewarm.WithMetrics(a.metrics))

	// ── 6. Orchestrator ──────────────────────────────────────────────────
	orchOpts := []injection.Option{
		injection.WithFocusProvider(focusProvider),
		injection.WithProber(prober),
		injection.WithMetrics(a.metrics),
	}
	if cfg.Injection.AllowKdotool && (clipboard.KdotoolActivator{}).Available(ctx) {
		orchOpts = append(orchOpts, injection.WithActivator(clipboard.KdotoolActivator{}))
	}

	// ── 7. Processor ─────────────────────────────────────────────────────
	agg := session.New(cfg.Session, session.WithBufferingHook(func() {
		a.prewarmer.OnSessionBuffering(prewarm.CacheAtspi)
	}))

	var proc *processor.Processor
	orchOpts = append(orchOpts, injection.WithAttemptObserver(func(at injection.Attempt) {
		proc.OnAttempt(at)
	}))
	a.orch = injection.New(cfg.Injection, a.backends, orchOpts...)
	proc = processor.New(a.events, a.outcomes, agg, a.orch,
		processor.WithMetrics(a.metrics),
		processor.WithPrewarm(a.prewarmer))
	a.proc = proc

	// ── 8. Health + metrics HTTP server ──────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.server = a.buildServer(cfg.Server.ListenAddr)
	}

	return a, nil
}

// Events returns the inbound transcription channel the STT engine writes to.
func (a *App) Events() chan<- types.TranscriptionEvent { return a.events }

// Outcomes returns the outbound telemetry channel.
func (a *App) Outcomes() <-chan processor.Outcome { return a.outcomes }

// Orchestrator exposes the strategy orchestrator, mainly for tests.
func (a *App) Orchestrator() *injection.Orchestrator { return a.orch }

// buildBackends assembles the platform default adapter list: AT-SPI direct
// insert first, unified clipboard paste second, pruned by config flags and
// the COLDVOX_DISABLE_BACKENDS environment variable.
func buildBackends(ctx context.Context, cfg config.InjectionConfig, atspiAdapter *atspi.Adapter) []backend.Backend {
	disabled := map[string]bool{}
	for _, name := range strings.Split(os.Getenv(disableEnv), ",") {
		if name = strings.TrimSpace(name); name != "" {
			disabled[name] = true
			slog.Info("backend force-disabled via environment", "method", name)
		}
	}

	var out []backend.Backend
	if !disabled[string(types.MethodAtspiInsert)] {
		out = append(out, atspiAdapter)
	}

	if !disabled[string(types.MethodClipboardPaste)] {
		var triggers []clipboard.PasteTrigger
		if cfg.AllowYdotool {
			triggers = append(triggers, clipboard.YdotoolTrigger{})
		}
		if cfg.AllowEnigo {
			triggers = append(triggers, clipboard.WtypeTrigger{}, clipboard.XdotoolTrigger{})
		}
		tool := clipboard.DetectTool(ctx)
		if tool != nil && len(triggers) > 0 {
			out = append(out, clipboard.New(tool, triggers, clipboard.Config{
				RestoreClipboard: cfg.RestoreClipboardEnabled(),
				RestoreDelay:     cfg.ClipboardRestoreDelay(),
				PasteTimeout:     cfg.PasteActionTimeout(),
			}))
		} else {
			slog.Info("clipboard paste backend not wired",
				"tool_found", tool != nil,
				"triggers", len(triggers))
		}
	}
	return out
}

// buildRefreshers creates the prewarm refresh functions.
func (a *App) buildRefreshers(atspiAdapter *atspi.Adapter, fp *focus.Provider) map[string]prewarm.Refresher {
	return map[string]prewarm.Refresher{
		prewarm.CacheAtspi: func(ctx context.Context) (any, error) {
			st, err := atspiAdapter.FocusQuery(ctx)
			if err != nil {
				return nil, err
			}
			a.prewarmer.SetLastFocus(st)
			return prewarm.AtspiContext{
				TargetApp:  st.AppClass,
				CapturedAt: time.Now(),
			}, nil
		},
		prewarm.CacheClipboard: func(ctx context.Context) (any, error) {
			tool := clipboard.DetectTool(ctx)
			return tool != nil, nil
		},
		prewarm.CachePortal: func(ctx context.Context) (any, error) {
			// The portal path shares the session bus; a focus query answering
			// is the cheapest liveness signal available.
			fp.Status(ctx)
			return true, nil
		},
		prewarm.CacheVirtualKeyboard: func(ctx context.Context) (any, error) {
			return (clipboard.WtypeTrigger{}).Available(ctx) ||
				(clipboard.YdotoolTrigger{}).Available(ctx), nil
		},
	}
}

// buildServer assembles the health and metrics HTTP endpoints.
func (a *App) buildServer(addr string) *http.Server {
	checkers := []health.Checker{
		{
			Name: "backends",
			Check: func(ctx context.Context) error {
				for _, b := range a.backends {
					if b.IsAvailable(ctx) {
						return nil
					}
				}
				return errors.New("no injection backend available")
			},
		},
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run starts the HTTP server (when configured) and the processor loop, then
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		go func() {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	// Drain the outcome channel into the log so the buffer never stalls when
	// no external telemetry consumer is attached.
	go a.logOutcomes(ctx)

	slog.Info("pipeline running", "backends", len(a.backends))
	return a.proc.Run(ctx)
}

// logOutcomes reports per-attempt telemetry records at debug level.
func (a *App) logOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-a.outcomes:
			if !ok {
				return
			}
			slog.Debug("injection outcome",
				"utterance", o.UtteranceID,
				"method", o.Method,
				"result", o.Result,
				"latency_ms", o.LatencyMs,
				"confirmation", o.Confirmation,
			)
		}
	}
}

// Shutdown stops the HTTP server first, then runs the closers in the order
// they were registered. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
