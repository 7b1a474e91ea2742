// Package processor drives the injection pipeline: it consumes transcription
// events from the STT engine, feeds the session aggregator, hands flushed
// payloads to the orchestrator, and forwards per-attempt outcome records to
// the telemetry channel.
//
// The loop is single-threaded and cooperative; parallelism comes from the
// prewarm controller's spawned tasks and the adapters' own I/O. Within one
// utterance the orchestrator call is awaited before new events are consumed,
// which serialises injections without any extra locking.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Coldaine/coldvox/internal/injection"
	"github.com/Coldaine/coldvox/internal/observe"
	"github.com/Coldaine/coldvox/internal/prewarm"
	"github.com/Coldaine/coldvox/internal/session"
	"github.com/Coldaine/coldvox/internal/textproc"
	"github.com/Coldaine/coldvox/pkg/types"
)

// defaultTickInterval drives the session pause/silence timers.
const defaultTickInterval = 25 * time.Millisecond

// idlePrewarmInterval is how often the loop checks for expired prewarm data
// while no utterance is buffered.
const idlePrewarmInterval = 2 * time.Second

// Outcome is the per-attempt record emitted on the outbound channel.
type Outcome struct {
	UtteranceID    uint64
	Method         types.Method
	Result         string
	LatencyMs      int64
	CooldownActive bool
	Confirmation   types.ConfirmOutcome
}

// Injector is the orchestrator capability the processor needs. It is an
// interface so tests can substitute a recorder.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Processor owns the pipeline loop. Construct with [New], then call
// [Processor.Run] from a dedicated goroutine.
type Processor struct {
	events   <-chan types.TranscriptionEvent
	outcomes chan<- Outcome

	agg      *session.Aggregator
	injector Injector
	prewarm  *prewarm.Controller
	metrics  *observe.Metrics

	tick time.Duration

	// current is the utterance the in-flight injection belongs to. Only the
	// Run goroutine touches it; the attempt observer reads it synchronously
	// from inside the awaited Inject call.
	current uint64
}

// Option is a functional option for [New].
type Option func(*Processor)

// WithTickInterval overrides the timer tick. Tests shorten it.
func WithTickInterval(d time.Duration) Option {
	return func(p *Processor) { p.tick = d }
}

// WithMetrics wires a metrics instance. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithPrewarm wires the prewarm controller. Without one, prewarming is off.
func WithPrewarm(c *prewarm.Controller) Option {
	return func(p *Processor) { p.prewarm = c }
}

// New creates a [Processor] reading from events and writing per-attempt
// records to outcomes. outcomes may be nil when no telemetry consumer exists.
func New(events <-chan types.TranscriptionEvent, outcomes chan<- Outcome, agg *session.Aggregator, inj Injector, opts ...Option) *Processor {
	p := &Processor{
		events:   events,
		outcomes: outcomes,
		agg:      agg,
		injector: inj,
		tick:     defaultTickInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnAttempt is the orchestrator attempt observer. Wire it via
// injection.WithAttemptObserver when constructing the orchestrator.
func (p *Processor) OnAttempt(a injection.Attempt) {
	p.emit(Outcome{
		UtteranceID:    p.current,
		Method:         a.Method,
		Result:         a.Result,
		LatencyMs:      a.Latency.Milliseconds(),
		CooldownActive: a.CooldownActive,
		Confirmation:   a.Confirmation,
	})
}

// Run executes the pipeline loop until ctx is cancelled or the event channel
// is closed. On shutdown it drains pending events, resets the session, cancels
// prewarm tasks, and returns ctx.Err() (nil when the channel was closed).
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	idleCheck := time.NewTicker(idlePrewarmInterval)
	defer idleCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()

		case ev, ok := <-p.events:
			if !ok {
				p.shutdown()
				return nil
			}
			p.handleEvent(ctx, ev)

		case now := <-ticker.C:
			if flush := p.agg.OnTick(now); flush != nil {
				p.dispatch(ctx, flush)
			}

		case <-idleCheck.C:
			p.idlePrewarm(ctx)
		}
	}
}

// handleEvent feeds one event through the session and dispatches any flush.
func (p *Processor) handleEvent(ctx context.Context, ev types.TranscriptionEvent) {
	if ev.Kind == types.EventError {
		if p.metrics != nil && p.agg.State() != session.StateIdle {
			p.metrics.SessionDiscards.Add(ctx, 1)
		}
		slog.Debug("transcription error, discarding buffer",
			"utterance", ev.UtteranceID, "reason", ev.Reason)
	}

	if flush := p.agg.OnEvent(ev); flush != nil {
		p.dispatch(ctx, flush)
	}
}

// dispatch hands one flushed payload to the orchestrator and awaits the
// terminal outcome. The loop consumes no events or ticks while the call is
// awaited, so at most one flush is ever outstanding.
func (p *Processor) dispatch(ctx context.Context, flush *session.Flush) {
	if p.metrics != nil {
		p.metrics.RecordSessionFlush(ctx, string(flush.Trigger))
	}

	p.current = flush.UtteranceID
	err := p.injector.Inject(ctx, flush.Text)
	p.current = 0

	if err != nil {
		kind := injection.KindOf(err)
		p.emit(Outcome{
			UtteranceID: flush.UtteranceID,
			Result:      kind.String(),
		})
		slog.Warn("injection failed",
			"utterance", flush.UtteranceID,
			"kind", kind,
			"text", textproc.Digest(flush.Text),
		)
		return
	}
	slog.Debug("utterance injected", "utterance", flush.UtteranceID)
}

// idlePrewarm refreshes expired prewarm caches while the session is idle.
func (p *Processor) idlePrewarm(ctx context.Context) {
	if p.prewarm == nil || p.agg.State() != session.StateIdle {
		return
	}
	if !p.prewarm.IsAnyDataExpired() {
		return
	}
	if err := p.prewarm.ExecuteAllPrewarming(ctx); err != nil {
		slog.Debug("idle prewarm refresh failed", "err", err)
	}
}

// emit writes an outcome record without ever blocking the loop: a full
// telemetry channel drops the record.
func (p *Processor) emit(o Outcome) {
	if p.outcomes == nil {
		return
	}
	select {
	case p.outcomes <- o:
	default:
		slog.Debug("outcome channel full, dropping record", "utterance", o.UtteranceID)
	}
}

// shutdown drains pending events, resets the session, and cancels prewarm.
func (p *Processor) shutdown() {
	for {
		select {
		case _, ok := <-p.events:
			if !ok {
				goto drained
			}
		default:
			goto drained
		}
	}
drained:
	p.agg.Reset()
	if p.prewarm != nil {
		p.prewarm.Close()
	}
	slog.Info("processor stopped")
}
