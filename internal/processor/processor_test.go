package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Coldaine/coldvox/internal/config"
	"github.com/Coldaine/coldvox/internal/injection"
	"github.com/Coldaine/coldvox/internal/session"
	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/backend/mock"
	"github.com/Coldaine/coldvox/pkg/types"
)

// recordingInjector records payloads and returns a scripted error.
type recordingInjector struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingInjector) Inject(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recordingInjector) injected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

func runProcessor(t *testing.T, p *Processor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("processor did not stop")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRun_FinalEventIsInjected(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	inj := &recordingInjector{}
	agg := session.New(config.SessionConfig{})
	p := New(events, nil, agg, inj)

	stop := runProcessor(t, p)
	defer stop()

	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 1, Text: "hello world"}
	waitFor(t, func() bool { return len(inj.injected()) == 1 })

	if got := inj.injected()[0]; got != "hello world" {
		t.Errorf("injected %q, want %q", got, "hello world")
	}
}

func TestRun_SilenceTimerFlushes(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	inj := &recordingInjector{}
	agg := session.New(config.SessionConfig{SilenceTimeoutMs: 30, BufferPauseTimeoutMs: 10})
	p := New(events, nil, agg, inj, WithTickInterval(5*time.Millisecond))

	stop := runProcessor(t, p)
	defer stop()

	now := time.Now()
	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 2, Text: "hello", At: now}
	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 2, Text: "world", At: now.Add(5 * time.Millisecond)}

	waitFor(t, func() bool { return len(inj.injected()) == 1 })
	if got := inj.injected()[0]; got != "hello world" {
		t.Errorf("injected %q, want buffered %q", got, "hello world")
	}
}

func TestRun_ErrorEventDiscards(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	inj := &recordingInjector{}
	agg := session.New(config.SessionConfig{SilenceTimeoutMs: 50})
	p := New(events, nil, agg, inj, WithTickInterval(5*time.Millisecond))

	stop := runProcessor(t, p)
	defer stop()

	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 3, Text: "doomed"}
	events <- types.TranscriptionEvent{Kind: types.EventError, UtteranceID: 3, Reason: "stt failed"}

	// Give the silence window time to have fired had the buffer survived.
	time.Sleep(120 * time.Millisecond)
	if got := inj.injected(); len(got) != 0 {
		t.Errorf("injected %v, want nothing after error event", got)
	}
}

func TestRun_OutcomesCarryUtteranceAndAttempts(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	outcomes := make(chan Outcome, 8)

	b := &mock.Backend{MethodName: types.MethodAtspiInsert, Available: true}
	agg := session.New(config.SessionConfig{})

	var p *Processor
	orch := injection.New(config.InjectionConfig{}, []backend.Backend{b},
		injection.WithAttemptObserver(func(a injection.Attempt) { p.OnAttempt(a) }))
	p = New(events, outcomes, agg, orch)

	stop := runProcessor(t, p)
	defer stop()

	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 7, Text: "hi"}

	select {
	case o := <-outcomes:
		if o.UtteranceID != 7 {
			t.Errorf("UtteranceID = %d, want 7", o.UtteranceID)
		}
		if o.Method != types.MethodAtspiInsert || o.Result != "ok" {
			t.Errorf("outcome = %+v, want atspi ok", o)
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome emitted")
	}
}

func TestRun_TerminalFailureEmitsOutcome(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	outcomes := make(chan Outcome, 8)
	inj := &recordingInjector{err: &injection.Error{Kind: injection.KindNoEditableFocus}}
	agg := session.New(config.SessionConfig{})
	p := New(events, outcomes, agg, inj)

	stop := runProcessor(t, p)
	defer stop()

	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 9, Text: "blocked"}

	select {
	case o := <-outcomes:
		if o.UtteranceID != 9 || o.Result != "no_editable_focus" {
			t.Errorf("outcome = %+v, want utterance 9 no_editable_focus", o)
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome emitted")
	}
}

func TestRun_ClosedEventChannelStops(t *testing.T) {
	events := make(chan types.TranscriptionEvent)
	agg := session.New(config.SessionConfig{})
	p := New(events, nil, agg, &recordingInjector{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	close(events)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on channel close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestRun_ShutdownResetsSession(t *testing.T) {
	events := make(chan types.TranscriptionEvent, 8)
	agg := session.New(config.SessionConfig{SilenceTimeoutMs: 60000})
	p := New(events, nil, agg, &recordingInjector{})

	stop := runProcessor(t, p)
	events <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 1, Text: "pending"}
	// The aggregator is owned by the Run goroutine; wait for the event to be
	// consumed before stopping, then inspect the final state.
	waitFor(t, func() bool { return len(events) == 0 })
	time.Sleep(10 * time.Millisecond)

	stop()
	if agg.State() != session.StateIdle {
		t.Errorf("state = %v, want idle after shutdown", agg.State())
	}
}
