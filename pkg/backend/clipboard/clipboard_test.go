package clipboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Coldaine/coldvox/pkg/backend"
)

// fakeTool is an in-memory clipboard.
type fakeTool struct {
	mu       sync.Mutex
	contents []byte
	readErr  error
	writeErr error
	writes   [][]byte
	avail    bool
}

func (f *fakeTool) Name() string                   { return "fake" }
func (f *fakeTool) Available(context.Context) bool { return f.avail }
func (f *fakeTool) Read(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	cp := make([]byte, len(f.contents))
	copy(cp, f.contents)
	return cp, nil
}
func (f *fakeTool) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.contents = cp
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeTool) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.contents)
}

// fakeTrigger is a scriptable paste trigger.
type fakeTrigger struct {
	name   string
	avail  bool
	err    error
	pastes int
}

func (f *fakeTrigger) Name() string                   { return f.name }
func (f *fakeTrigger) Available(context.Context) bool { return f.avail }
func (f *fakeTrigger) Paste(context.Context) error {
	f.pastes++
	return f.err
}

func newAdapter(tool Tool, trig PasteTrigger) *Adapter {
	return New(tool, []PasteTrigger{trig}, Config{
		RestoreClipboard: true,
		RestoreDelay:     5 * time.Millisecond,
		PasteTimeout:     50 * time.Millisecond,
	})
}

func TestInjectText_RestoresAfterSuccess(t *testing.T) {
	tool := &fakeTool{contents: []byte("previous"), avail: true}
	trig := &fakeTrigger{name: "t", avail: true}
	a := newAdapter(tool, trig)

	if err := a.InjectText(context.Background(), "injected"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trig.pastes != 1 {
		t.Errorf("pastes = %d, want 1", trig.pastes)
	}
	if got := tool.current(); got != "previous" {
		t.Errorf("clipboard = %q, want %q restored", got, "previous")
	}
	// Sequence: payload write then restore write.
	if len(tool.writes) != 2 || string(tool.writes[0]) != "injected" {
		t.Errorf("writes = %v, want [injected previous]", tool.writes)
	}
}

func TestInjectText_RestoresAfterPasteFailure(t *testing.T) {
	tool := &fakeTool{contents: []byte("keep me"), avail: true}
	trig := &fakeTrigger{name: "t", avail: true, err: errors.New("chord failed")}
	a := newAdapter(tool, trig)

	err := a.InjectText(context.Background(), "lost")
	if err == nil {
		t.Fatal("expected error")
	}
	if backend.KindOf(err) != backend.KindProcess {
		t.Errorf("kind = %v, want process", backend.KindOf(err))
	}
	if got := tool.current(); got != "keep me" {
		t.Errorf("clipboard = %q, want %q restored after failure", got, "keep me")
	}
}

func TestInjectText_RestoresOnCancellationDuringDelay(t *testing.T) {
	tool := &fakeTool{contents: []byte("original"), avail: true}
	trig := &fakeTrigger{name: "t", avail: true}
	a := New(tool, []PasteTrigger{trig}, Config{
		RestoreClipboard: true,
		RestoreDelay:     time.Minute, // force cancellation to cut the wait
		PasteTimeout:     50 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := a.InjectText(ctx, "short lived")
	if backend.KindOf(err) != backend.KindTimeout {
		t.Fatalf("err = %v, want timeout kind", err)
	}
	if got := tool.current(); got != "original" {
		t.Errorf("clipboard = %q, want %q restored on cancellation", got, "original")
	}
}

func TestInjectText_BackupReadFailureAborts(t *testing.T) {
	tool := &fakeTool{readErr: errors.New("no display"), avail: true}
	trig := &fakeTrigger{name: "t", avail: true}
	a := newAdapter(tool, trig)

	err := a.InjectText(context.Background(), "x")
	if backend.KindOf(err) != backend.KindClipboard {
		t.Fatalf("err = %v, want clipboard kind", err)
	}
	if trig.pastes != 0 {
		t.Error("paste fired despite failed backup")
	}
}

func TestInjectText_NoTriggerAvailable(t *testing.T) {
	tool := &fakeTool{contents: []byte("prev"), avail: true}
	trig := &fakeTrigger{name: "t", avail: false}
	a := newAdapter(tool, trig)

	err := a.InjectText(context.Background(), "x")
	if backend.KindOf(err) != backend.KindNotAvailable {
		t.Fatalf("err = %v, want not_available kind", err)
	}
	if got := tool.current(); got != "prev" {
		t.Errorf("clipboard = %q, want %q restored", got, "prev")
	}
}

func TestInjectText_TriggerChainFallsThrough(t *testing.T) {
	tool := &fakeTool{avail: true}
	bad := &fakeTrigger{name: "bad", avail: true, err: errors.New("nope")}
	good := &fakeTrigger{name: "good", avail: true}
	a := New(tool, []PasteTrigger{bad, good}, Config{
		RestoreClipboard: true,
		RestoreDelay:     time.Millisecond,
		PasteTimeout:     50 * time.Millisecond,
	})

	if err := a.InjectText(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bad.pastes != 1 || good.pastes != 1 {
		t.Errorf("pastes bad=%d good=%d, want 1/1", bad.pastes, good.pastes)
	}
}

func TestInjectText_RestoreDisabled(t *testing.T) {
	tool := &fakeTool{contents: []byte("prev"), avail: true}
	trig := &fakeTrigger{name: "t", avail: true}
	a := New(tool, []PasteTrigger{trig}, Config{
		RestoreClipboard: false,
		RestoreDelay:     time.Millisecond,
		PasteTimeout:     50 * time.Millisecond,
	})

	if err := a.InjectText(context.Background(), "stays"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tool.current(); got != "stays" {
		t.Errorf("clipboard = %q, want %q when restore disabled", got, "stays")
	}
}

func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name string
		tool *fakeTool
		trig *fakeTrigger
		want bool
	}{
		{"both available", &fakeTool{avail: true}, &fakeTrigger{avail: true}, true},
		{"no tool", &fakeTool{avail: false}, &fakeTrigger{avail: true}, false},
		{"no trigger", &fakeTool{avail: true}, &fakeTrigger{avail: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(tt.tool, tt.trig)
			if got := a.IsAvailable(context.Background()); got != tt.want {
				t.Errorf("IsAvailable = %v, want %v", got, tt.want)
			}
		})
	}
}
