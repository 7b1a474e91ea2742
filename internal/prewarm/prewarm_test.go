package prewarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Coldaine/coldvox/pkg/types"
)

func TestGetAtspiContext_RefreshesWhenStale(t *testing.T) {
	var calls atomic.Int64
	c := New(map[string]Refresher{
		CacheAtspi: func(context.Context) (any, error) {
			calls.Add(1)
			return AtspiContext{TargetApp: "kate", CapturedAt: time.Now()}, nil
		},
	}, WithTTL(time.Hour))
	defer c.Close()

	got := c.GetAtspiContext(context.Background())
	if got.TargetApp != "kate" {
		t.Fatalf("TargetApp = %q, want kate", got.TargetApp)
	}
	// Second call inside the TTL answers from cache.
	c.GetAtspiContext(context.Background())
	if calls.Load() != 1 {
		t.Errorf("refresher calls = %d, want 1", calls.Load())
	}
}

func TestGetAtspiContext_ServesStaleOnRefreshFailure(t *testing.T) {
	healthy := true
	c := New(map[string]Refresher{
		CacheAtspi: func(context.Context) (any, error) {
			if !healthy {
				return nil, errors.New("bus down")
			}
			return AtspiContext{TargetApp: "firefox"}, nil
		},
	}, WithTTL(time.Nanosecond)) // everything is immediately stale
	defer c.Close()

	c.GetAtspiContext(context.Background())
	healthy = false
	time.Sleep(time.Millisecond)

	got := c.GetAtspiContext(context.Background())
	if got.TargetApp != "firefox" {
		t.Errorf("TargetApp = %q, want stale firefox value", got.TargetApp)
	}
}

func TestExecuteAllPrewarming_PublishesAtomically(t *testing.T) {
	// Both refreshers gate on the same barrier; when the batch publishes,
	// both caches must become fresh together.
	var barrier sync.WaitGroup
	barrier.Add(1)

	c := New(map[string]Refresher{
		CacheAtspi: func(context.Context) (any, error) {
			barrier.Wait()
			return AtspiContext{}, nil
		},
		CacheClipboard: func(context.Context) (any, error) {
			barrier.Wait()
			return "clipboard-ready", nil
		},
	}, WithTTL(time.Hour))
	defer c.Close()

	if !c.IsAnyDataExpired() {
		t.Fatal("caches should start expired")
	}

	done := make(chan error, 1)
	go func() { done <- c.ExecuteAllPrewarming(context.Background()) }()

	// While the refreshers are blocked nothing may be published.
	time.Sleep(5 * time.Millisecond)
	if !c.IsAnyDataExpired() {
		t.Fatal("partial refresh observed before the batch completed")
	}

	barrier.Done()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsAnyDataExpired() {
		t.Error("caches still expired after full refresh")
	}
}

func TestExecuteAllPrewarming_KeepsSuccessesOnPartialFailure(t *testing.T) {
	c := New(map[string]Refresher{
		CacheAtspi: func(context.Context) (any, error) {
			return AtspiContext{TargetApp: "kate"}, nil
		},
		CacheClipboard: func(context.Context) (any, error) {
			return nil, errors.New("no display")
		},
	}, WithTTL(time.Hour))
	defer c.Close()

	if err := c.ExecuteAllPrewarming(context.Background()); err == nil {
		t.Fatal("expected error from failing refresher")
	}
	// The successful cache is still usable.
	if got := c.GetAtspiContext(context.Background()); got.TargetApp != "kate" {
		t.Errorf("TargetApp = %q, want kate published despite sibling failure", got.TargetApp)
	}
}

func TestOnSessionBuffering_FireAndForget(t *testing.T) {
	refreshed := make(chan struct{})
	c := New(map[string]Refresher{
		CacheAtspi: func(context.Context) (any, error) {
			close(refreshed)
			return AtspiContext{}, nil
		},
	})
	defer c.Close()

	c.OnSessionBuffering(CacheAtspi)
	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}

	// Unknown cache names are a no-op.
	c.OnSessionBuffering("nonexistent")
}

func TestClose_CancelsInFlightRefresh(t *testing.T) {
	started := make(chan struct{})
	c := New(map[string]Refresher{
		CacheAtspi: func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	c.OnSessionBuffering(CacheAtspi)
	<-started

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the in-flight refresh")
	}
}

func TestLastFocus_RoundTrip(t *testing.T) {
	c := New(nil)
	defer c.Close()

	st := types.FocusStatus{Kind: types.FocusEditableText, AppClass: "kate"}
	c.SetLastFocus(st)
	if got := c.LastFocus(); got != st {
		t.Errorf("LastFocus = %+v, want %+v", got, st)
	}
}
