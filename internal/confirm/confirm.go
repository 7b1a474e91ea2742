// Package confirm verifies that injected text actually appeared in the
// focused control.
//
// The probe polls the focused object's text through an injectable [Source]
// and looks for a short grapheme-cluster prefix of the injected string. The
// whole check runs inside a tight budget (75 ms by default) so it never
// stretches an injection call; its outcome is a soft signal recorded as a
// metric, never grounds for retrying a method.
//
// Grapheme clusters — not bytes, not code points — are the match unit, so an
// emoji assembled from several code points or a combining-mark sequence never
// produces a false mismatch.
package confirm

import (
	"context"
	"strings"
	"time"

	"github.com/Coldaine/coldvox/internal/textproc"
	"github.com/Coldaine/coldvox/pkg/types"
)

// Default probe timing and prefix length.
const (
	DefaultBudget    = 75 * time.Millisecond
	DefaultInterval  = 10 * time.Millisecond
	DefaultPrefixLen = 4
)

// Source reads the focused control's current text. Production wraps the
// accessibility bus; tests substitute a scripted source.
type Source interface {
	// ReadText returns the tail of the focused object's text — enough to
	// contain a freshly inserted payload.
	ReadText(ctx context.Context) (string, error)
}

// SourceFunc adapts a plain function to the [Source] interface.
type SourceFunc func(ctx context.Context) (string, error)

// ReadText calls f.
func (f SourceFunc) ReadText(ctx context.Context) (string, error) { return f(ctx) }

// Prober polls a [Source] for an injected prefix. Safe for concurrent use;
// each Confirm call is independent.
type Prober struct {
	source    Source
	budget    time.Duration
	interval  time.Duration
	prefixLen int
}

// Option is a functional option for [New].
type Option func(*Prober)

// WithBudget overrides the total probe budget.
func WithBudget(d time.Duration) Option {
	return func(p *Prober) { p.budget = d }
}

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Prober) { p.interval = d }
}

// WithPrefixLen overrides the number of grapheme clusters matched. Values
// are clamped to [3, 6].
func WithPrefixLen(n int) Option {
	return func(p *Prober) {
		if n < 3 {
			n = 3
		}
		if n > 6 {
			n = 6
		}
		p.prefixLen = n
	}
}

// New creates a [Prober] over source with the default 75 ms / 10 ms timing.
func New(source Source, opts ...Option) *Prober {
	p := &Prober{
		source:    source,
		budget:    DefaultBudget,
		interval:  DefaultInterval,
		prefixLen: DefaultPrefixLen,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Confirm polls for the grapheme prefix of text. It returns:
//
//   - ConfirmSuccess when the prefix shows up within the budget,
//   - ConfirmMismatch when the text changed but the prefix never appeared,
//   - ConfirmTimeout when nothing changed before the budget expired,
//   - ConfirmError when the source itself failed,
//   - ConfirmSkipped when there is no source or text is empty.
func (p *Prober) Confirm(ctx context.Context, text string) types.ConfirmOutcome {
	if p.source == nil || text == "" {
		return types.ConfirmSkipped
	}

	prefix := textproc.GraphemePrefix(text, p.prefixLen)
	if prefix == "" {
		return types.ConfirmSkipped
	}

	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	baseline, err := p.source.ReadText(ctx)
	if err != nil {
		return types.ConfirmError
	}
	changed := false

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		current, err := p.source.ReadText(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return types.ConfirmError
		}
		if strings.Contains(current, prefix) {
			return types.ConfirmSuccess
		}
		if current != baseline {
			changed = true
		}

		select {
		case <-ctx.Done():
			if changed {
				return types.ConfirmMismatch
			}
			return types.ConfirmTimeout
		case <-ticker.C:
		}
	}

	if changed {
		return types.ConfirmMismatch
	}
	return types.ConfirmTimeout
}
