// Package injection implements the strategy orchestrator: given a flushed
// payload and the current desktop context, it computes a method order,
// fast-fails across backends under a strict total budget, keeps per-(app,
// method) success rates and per-method cooldowns current, and verifies the
// landing through the confirmation probe.
//
// Inject takes a shared receiver — concurrent calls are supported. All
// mutable state (success rates, cooldowns, the availability cache) sits
// behind fine-grained interior locks; there is no coarse orchestrator lock.
// Adapters serialise themselves where their resource demands it (the
// clipboard adapter does).
package injection

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Coldaine/coldvox/internal/config"
	"github.com/Coldaine/coldvox/internal/confirm"
	"github.com/Coldaine/coldvox/internal/focus"
	"github.com/Coldaine/coldvox/internal/observe"
	"github.com/Coldaine/coldvox/internal/resilience"
	"github.com/Coldaine/coldvox/internal/textproc"
	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/types"

	"go.opentelemetry.io/otel/metric"
)

// Attempt is the per-attempt record forwarded to the outbound telemetry
// channel by the processor.
type Attempt struct {
	Method         types.Method
	Result         string
	Latency        time.Duration
	CooldownActive bool
	Confirmation   types.ConfirmOutcome
}

// AttemptObserver receives one record per adapter attempt, in order.
type AttemptObserver func(Attempt)

// Orchestrator owns the ordered backend list, the success tracker, and the
// cooldown map. Construct with [New]; the zero value is not usable.
type Orchestrator struct {
	cfg      config.InjectionConfig
	backends []backend.Backend // platform default order

	cooldowns *resilience.CooldownMap
	success   *resilience.SuccessTracker
	focus     *focus.Provider
	prober    *confirm.Prober
	activator backend.Activator
	metrics   *observe.Metrics
	observer  AttemptObserver

	allow []config.AppPattern
	block []config.AppPattern

	// availability is the per-run cache of IsAvailable answers.
	availMu sync.Mutex
	avail   map[types.Method]bool

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithFocusProvider wires the focus gate. Without one, gating is skipped and
// the app class is unknown.
func WithFocusProvider(p *focus.Provider) Option {
	return func(o *Orchestrator) { o.focus = p }
}

// WithProber wires the confirmation probe.
func WithProber(p *confirm.Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithActivator wires the pre-attempt window-activation assist.
func WithActivator(a backend.Activator) Option {
	return func(o *Orchestrator) { o.activator = a }
}

// WithMetrics wires a metrics instance. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAttemptObserver registers the per-attempt telemetry callback.
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithClock replaces the orchestrator's clock. Tests use this to step time
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an [Orchestrator] over backends, which must already be in
// platform default order (AT-SPI insert before clipboard paste on Linux).
func New(cfg config.InjectionConfig, backends []backend.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		backends: backends,
		cooldowns: resilience.NewCooldownMap(resilience.CooldownConfig{
			Initial: cfg.CooldownInitial(),
			Max:     cfg.CooldownMax(),
		}),
		success: resilience.NewSuccessTracker(),
		allow:   config.CompilePatterns(cfg.Allowlist),
		block:   config.CompilePatterns(cfg.Blocklist),
		avail:   make(map[types.Method]bool),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Methods returns the platform default method order, pruned to compiled-in
// adapters.
func (o *Orchestrator) Methods() []types.Method {
	out := make([]types.Method, len(o.backends))
	for i, b := range o.backends {
		out[i] = b.Method()
	}
	return out
}

// SuccessSnapshot exposes the success record for one (app, method) pair.
// Intended for tests and debugging.
func (o *Orchestrator) SuccessSnapshot(appClass string, m types.Method) resilience.SuccessRecord {
	return o.success.Snapshot(appClass, string(m))
}

// Inject delivers text into the focused application. Empty text is a no-op.
// The call returns within the configured total latency budget plus scheduler
// slack, whatever the adapters do.
func (o *Orchestrator) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if len(text) > o.cfg.MaxText() {
		return newError(KindOther, "payload exceeds size limit")
	}

	start := o.now()
	if o.metrics != nil {
		o.metrics.ActiveInjections.Add(ctx, 1)
		defer o.metrics.ActiveInjections.Add(ctx, -1)
		defer func() {
			o.metrics.InjectionDuration.Record(ctx, o.now().Sub(start).Seconds())
		}()
	}

	// ── Focus gating ─────────────────────────────────────────────────────
	st := types.FocusStatus{Kind: types.FocusUnknown}
	if o.focus != nil {
		st = o.focus.Status(ctx)
	}
	if err := o.gate(ctx, st); err != nil {
		return err
	}

	// ── Method order ─────────────────────────────────────────────────────
	order := o.methodOrder(ctx, st.AppClass, start)
	if len(order) == 0 {
		return newError(KindAllMethodsFailed, "no eligible method")
	}

	// ── Optional window-activation assist ────────────────────────────────
	if o.activator != nil && st.AppClass != "" {
		actx, cancel := context.WithTimeout(ctx, o.cfg.PasteActionTimeout())
		if err := o.activator.Activate(actx, st.AppClass); err != nil {
			slog.Debug("window activation assist failed", "app", st.AppClass, "err", err)
		}
		cancel()
	}

	// ── Fast-fail loop ───────────────────────────────────────────────────
	total := o.cfg.MaxTotalLatency()
	var lastErr error
	for _, b := range order {
		elapsed := o.now().Sub(start)
		remaining := total - elapsed
		if remaining <= 0 {
			if o.metrics != nil {
				o.metrics.BudgetExhaustions.Add(ctx, 1)
			}
			return &Error{Kind: KindBudgetExhausted, Detail: "total latency budget expired", Err: lastErr}
		}

		attemptBudget := o.cfg.PerMethodTimeout()
		if remaining < attemptBudget {
			attemptBudget = remaining
		}

		method := b.Method()
		attemptStart := o.now()
		err := o.attempt(ctx, b, text, attemptBudget)
		latency := o.now().Sub(attemptStart)

		if err == nil {
			// Confirmation is a soft signal: it runs inside whatever is left
			// of the total budget, capped at its own 75 ms, and its outcome
			// never rescinds the success.
			outcome := o.confirmLanding(ctx, text, total-o.now().Sub(start))

			o.success.Record(st.AppClass, string(method), true, o.now())
			o.cooldowns.RecordSuccess(string(method))
			if o.metrics != nil {
				o.metrics.RecordMethodAttempt(ctx, string(method), "ok", latency.Seconds())
				o.metrics.RecordConfirmation(ctx, outcome.String())
			}
			o.observe(Attempt{
				Method:       method,
				Result:       "ok",
				Latency:      latency,
				Confirmation: outcome,
			})
			slog.Info("text injected",
				"method", method,
				"app", st.AppClass,
				"text", textproc.Digest(text),
				"latency", latency,
				"confirmation", outcome,
			)
			return nil
		}

		lastErr = err
		kind := kindFromBackend(backend.KindOf(err))
		o.success.Record(st.AppClass, string(method), false, o.now())
		o.cooldowns.RecordFailure(string(method), o.now())
		if o.metrics != nil {
			o.metrics.RecordMethodAttempt(ctx, string(method), kind.String(), latency.Seconds())
		}
		o.observe(Attempt{
			Method:  method,
			Result:  kind.String(),
			Latency: latency,
		})
		slog.Debug("injection method failed, trying next",
			"method", method,
			"kind", kind,
			"err", err,
		)
	}

	return &Error{Kind: KindAllMethodsFailed, Detail: "every method failed", Err: lastErr}
}

// attempt runs one adapter call under its deadline. The adapter runs in its
// own goroutine so a stuck adapter cannot hold the loop past the deadline;
// cancel-safe adapters observe ctx and release their resources on the way
// out.
func (o *Orchestrator) attempt(ctx context.Context, b backend.Backend, text string, budget time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.InjectText(actx, text)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		return backend.WrapError(backend.KindTimeout, "attempt deadline expired", actx.Err())
	}
}

// gate applies the focus and allow/blocklist policy. A nil return means the
// call may proceed.
func (o *Orchestrator) gate(ctx context.Context, st types.FocusStatus) error {
	if o.cfg.RequireFocus && st.Kind != types.FocusEditableText {
		o.recordRejection(ctx, "require_focus")
		return newError(KindNoEditableFocus, "focused control does not accept text")
	}
	if st.Kind == types.FocusUnknown && !o.cfg.InjectOnUnknownFocusEnabled() {
		o.recordRejection(ctx, "unknown_focus")
		return newError(KindNoEditableFocus, "focus state unknown")
	}

	// Allowlist non-empty: only matching apps are eligible and the blocklist
	// is not consulted. Otherwise a blocklist match rejects.
	if len(o.allow) > 0 {
		if !matchesAny(o.allow, st.AppClass) {
			o.recordRejection(ctx, "not_allowlisted")
			return newError(KindMethodNotAvailable, "app blocked")
		}
		return nil
	}
	if len(o.block) > 0 && matchesAny(o.block, st.AppClass) {
		o.recordRejection(ctx, "blocklisted")
		return newError(KindMethodNotAvailable, "app blocked")
	}
	return nil
}

// methodOrder computes the deterministic attempt order: the platform default
// list pruned of cooldown-active and unavailable methods, stably sorted by
// descending success rate for the focused app with the default order index as
// the tie-break.
func (o *Orchestrator) methodOrder(ctx context.Context, appClass string, now time.Time) []backend.Backend {
	type candidate struct {
		b    backend.Backend
		rate float64
		idx  int
	}

	var cands []candidate
	for i, b := range o.backends {
		method := string(b.Method())
		if o.cooldowns.Active(method, now) {
			if o.metrics != nil {
				o.metrics.CooldownSkips.Add(ctx, 1,
					metric.WithAttributes(observe.Attr("method", method)))
			}
			slog.Debug("method on cooldown, skipped",
				"method", method,
				"until", o.cooldowns.Until(method))
			continue
		}
		if !o.available(ctx, b) {
			continue
		}
		cands = append(cands, candidate{
			b:    b,
			rate: o.success.Rate(appClass, method),
			idx:  i,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rate != cands[j].rate {
			return cands[i].rate > cands[j].rate
		}
		return cands[i].idx < cands[j].idx
	})

	out := make([]backend.Backend, len(cands))
	for i, c := range cands {
		out[i] = c.b
	}
	return out
}

// available answers IsAvailable from the per-run cache, probing the adapter
// on first use.
func (o *Orchestrator) available(ctx context.Context, b backend.Backend) bool {
	o.availMu.Lock()
	defer o.availMu.Unlock()

	m := b.Method()
	if v, ok := o.avail[m]; ok {
		return v
	}
	v := b.IsAvailable(ctx)
	o.avail[m] = v
	return v
}

// confirmLanding runs the confirmation probe inside what remains of the
// total budget.
func (o *Orchestrator) confirmLanding(ctx context.Context, text string, remaining time.Duration) types.ConfirmOutcome {
	if o.prober == nil {
		return types.ConfirmSkipped
	}
	if remaining <= 0 {
		return types.ConfirmSkipped
	}
	cctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return o.prober.Confirm(cctx, text)
}

// observe forwards an attempt record to the registered observer.
func (o *Orchestrator) observe(a Attempt) {
	if o.observer != nil {
		o.observer(a)
	}
}

// recordRejection emits the focus-rejection metric.
func (o *Orchestrator) recordRejection(ctx context.Context, reason string) {
	if o.metrics != nil {
		o.metrics.FocusRejections.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("reason", reason)))
	}
}

// matchesAny reports whether appClass matches at least one pattern.
func matchesAny(pats []config.AppPattern, appClass string) bool {
	for _, p := range pats {
		if p.Match(appClass) {
			return true
		}
	}
	return false
}
