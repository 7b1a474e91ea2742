package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	m, _ := newTestMetrics(t)

	if m.InjectionDuration == nil || m.MethodDuration == nil {
		t.Error("histogram instruments are nil")
	}
	if m.MethodAttempts == nil || m.CooldownSkips == nil || m.BudgetExhaustions == nil {
		t.Error("counter instruments are nil")
	}
	if m.ActiveInjections == nil {
		t.Error("gauge instrument is nil")
	}
}

func TestRecordMethodAttempt_Exports(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMethodAttempt(ctx, "atspi_insert", "ok", 0.012)
	m.RecordConfirmation(ctx, "success")
	m.RecordSessionFlush(ctx, "final")
	m.RecordPrewarmRefresh(ctx, "atspi", "ok")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	for _, want := range []string{
		"coldvox.injection.method.attempts",
		"coldvox.injection.method.duration",
		"coldvox.injection.confirmations",
		"coldvox.session.flushes",
		"coldvox.prewarm.refreshes",
	} {
		if !names[want] {
			t.Errorf("metric %q not exported; got %v", want, names)
		}
	}
}
