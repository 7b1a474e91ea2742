package resilience

import (
	"math"
	"testing"
	"time"
)

func TestSuccessTracker_UnknownPairIsNeutral(t *testing.T) {
	tr := NewSuccessTracker()
	if got := tr.Rate("firefox", "atspi_insert"); got != 0.5 {
		t.Errorf("Rate = %v, want neutral 0.5 for unknown pair", got)
	}
}

func TestSuccessTracker_CountsAndRate(t *testing.T) {
	tr := NewSuccessTracker()
	now := time.Now()

	tr.Record("firefox", "atspi_insert", true, now)
	rec := tr.Snapshot("firefox", "atspi_insert")
	if rec.Attempts != 1 || rec.Successes != 1 {
		t.Fatalf("attempts/successes = %d/%d, want 1/1", rec.Attempts, rec.Successes)
	}
	if rec.Rate != 1.0 {
		t.Errorf("Rate = %v, want 1.0 after a single success", rec.Rate)
	}
	if !rec.LastSuccessAt.Equal(now) {
		t.Errorf("LastSuccessAt = %v, want %v", rec.LastSuccessAt, now)
	}

	tr.Record("firefox", "atspi_insert", false, now.Add(time.Second))
	rec = tr.Snapshot("firefox", "atspi_insert")
	if rec.Attempts != 2 || rec.Successes != 1 {
		t.Fatalf("attempts/successes = %d/%d, want 2/1", rec.Attempts, rec.Successes)
	}
	// 0.9·1.0 + 0.1·0 = 0.9
	if math.Abs(rec.Rate-0.9) > 1e-9 {
		t.Errorf("Rate = %v, want 0.9", rec.Rate)
	}
}

func TestSuccessTracker_RecentFailuresDominate(t *testing.T) {
	tr := NewSuccessTracker()
	now := time.Now()

	for i := 0; i < 20; i++ {
		tr.Record("kate", "clipboard_paste", true, now)
	}
	for i := 0; i < 10; i++ {
		tr.Record("kate", "clipboard_paste", false, now)
	}

	if got := tr.Rate("kate", "clipboard_paste"); got > 0.5 {
		t.Errorf("Rate = %v, want <= 0.5 after a run of recent failures", got)
	}
}

func TestSuccessTracker_PairsAreIndependent(t *testing.T) {
	tr := NewSuccessTracker()
	now := time.Now()

	tr.Record("firefox", "atspi_insert", false, now)
	tr.Record("kate", "atspi_insert", true, now)

	if got := tr.Rate("firefox", "atspi_insert"); got != 0 {
		t.Errorf("firefox rate = %v, want 0", got)
	}
	if got := tr.Rate("kate", "atspi_insert"); got != 1 {
		t.Errorf("kate rate = %v, want 1", got)
	}
}
