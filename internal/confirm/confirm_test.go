package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Coldaine/coldvox/pkg/types"
)

// scriptedSource returns queued reads, repeating the last one when drained.
type scriptedSource struct {
	mu    sync.Mutex
	reads []string
	err   error
}

func (s *scriptedSource) ReadText(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if len(s.reads) == 0 {
		return "", nil
	}
	out := s.reads[0]
	if len(s.reads) > 1 {
		s.reads = s.reads[1:]
	}
	return out, nil
}

func TestConfirm_SuccessOnPrefixAppearing(t *testing.T) {
	src := &scriptedSource{reads: []string{"", "", "hello world"}}
	p := New(src, WithBudget(60*time.Millisecond), WithInterval(time.Millisecond))

	if got := p.Confirm(context.Background(), "hello world"); got != types.ConfirmSuccess {
		t.Errorf("Confirm = %v, want success", got)
	}
}

func TestConfirm_TimeoutWhenNothingChanges(t *testing.T) {
	src := &scriptedSource{reads: []string{"stale"}}
	p := New(src, WithBudget(20*time.Millisecond), WithInterval(5*time.Millisecond))

	if got := p.Confirm(context.Background(), "never lands"); got != types.ConfirmTimeout {
		t.Errorf("Confirm = %v, want timeout", got)
	}
}

func TestConfirm_MismatchWhenOtherTextAppears(t *testing.T) {
	src := &scriptedSource{reads: []string{"before", "before typed-by-someone-else"}}
	p := New(src, WithBudget(20*time.Millisecond), WithInterval(5*time.Millisecond))

	if got := p.Confirm(context.Background(), "expected words"); got != types.ConfirmMismatch {
		t.Errorf("Confirm = %v, want mismatch", got)
	}
}

func TestConfirm_ErrorFromSource(t *testing.T) {
	src := &scriptedSource{err: errors.New("bus gone")}
	p := New(src, WithBudget(20*time.Millisecond), WithInterval(5*time.Millisecond))

	if got := p.Confirm(context.Background(), "text"); got != types.ConfirmError {
		t.Errorf("Confirm = %v, want error", got)
	}
}

func TestConfirm_SkippedCases(t *testing.T) {
	p := New(nil)
	if got := p.Confirm(context.Background(), "text"); got != types.ConfirmSkipped {
		t.Errorf("nil source: Confirm = %v, want skipped", got)
	}

	p = New(&scriptedSource{})
	if got := p.Confirm(context.Background(), ""); got != types.ConfirmSkipped {
		t.Errorf("empty text: Confirm = %v, want skipped", got)
	}
}

func TestConfirm_GraphemePrefixMatching(t *testing.T) {
	// A multi-code-point emoji is one grapheme cluster; a prefix of 3
	// clusters over "👨‍👩‍👧ab..." is "👨‍👩‍👧ab" and must match as a unit.
	family := "\U0001F468‍\U0001F469‍\U0001F467"
	injected := family + "abc def"
	src := &scriptedSource{reads: []string{"", family + "ab"}}
	p := New(src, WithBudget(40*time.Millisecond), WithInterval(time.Millisecond), WithPrefixLen(3))

	if got := p.Confirm(context.Background(), injected); got != types.ConfirmSuccess {
		t.Errorf("Confirm = %v, want success on grapheme prefix", got)
	}
}

func TestConfirm_BudgetIsRespected(t *testing.T) {
	src := &scriptedSource{reads: []string{"never matches"}}
	p := New(src, WithBudget(75*time.Millisecond), WithInterval(10*time.Millisecond))

	start := time.Now()
	p.Confirm(context.Background(), "text")
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("probe took %v, want well under 150ms for a 75ms budget", elapsed)
	}
}
