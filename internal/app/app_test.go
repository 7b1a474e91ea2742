package app

import (
	"context"
	"testing"
	"time"

	"github.com/Coldaine/coldvox/internal/config"
	"github.com/Coldaine/coldvox/internal/observe"
	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/backend/mock"
	"github.com/Coldaine/coldvox/pkg/types"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func fakeFocus(st types.FocusStatus) func(context.Context) (types.FocusStatus, error) {
	return func(context.Context) (types.FocusStatus, error) { return st, nil }
}

func TestApp_EndToEndInjection(t *testing.T) {
	b := &mock.Backend{MethodName: types.MethodAtspiInsert, Available: true}
	cfg := &config.Config{}

	a, err := New(context.Background(), cfg,
		WithBackends([]backend.Backend{b}),
		WithFocusBackend(focusBackend(fakeFocus(types.FocusStatus{
			Kind:     types.FocusEditableText,
			AppClass: "org.kde.kate",
		}))),
		WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Events() <- types.TranscriptionEvent{Kind: types.EventFinal, UtteranceID: 1, Text: "end to end"}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(b.Calls()) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.Calls(); len(got) != 1 || got[0].Text != "end to end" {
		t.Errorf("calls = %+v, want one injection of the flushed payload", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// focusBackend adapts a function to the focus backend interface used by the
// app options.
type focusBackend func(context.Context) (types.FocusStatus, error)

func (f focusBackend) Query(ctx context.Context) (types.FocusStatus, error) { return f(ctx) }
