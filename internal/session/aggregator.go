// Package session converts the stream of transcription events into
// injection-ready text payloads.
//
// The aggregator is a small state machine: final transcripts accumulate in a
// buffer, and configurable pause/silence timers, a size cap, and
// sentence-ending punctuation decide when the buffer flushes. With both
// timers at zero (the default) every final flushes immediately; the state
// machine is still the correct model because the timers are configurable.
//
// The aggregator is owned by a single processor task and is not safe for
// concurrent use.
package session

import (
	"time"
	"unicode/utf8"

	"github.com/Coldaine/coldvox/internal/config"
	"github.com/Coldaine/coldvox/internal/textproc"
	"github.com/Coldaine/coldvox/pkg/types"
)

// State is the aggregator's position in the buffering lifecycle.
type State int

const (
	// StateIdle means no utterance is buffered.
	StateIdle State = iota

	// StateBuffering means finals are accumulating and the pause timer runs.
	StateBuffering

	// StateWaitingForSilence means the pause timer fired and the buffer
	// flushes once the silence timer elapses without new finals.
	StateWaitingForSilence
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateWaitingForSilence:
		return "waiting-for-silence"
	default:
		return "idle"
	}
}

// Trigger names why a buffer flushed. Used as the metric label.
type Trigger string

// Flush triggers.
const (
	TriggerImmediate   Trigger = "final"
	TriggerSize        Trigger = "size"
	TriggerPunctuation Trigger = "punctuation"
	TriggerSilence     Trigger = "silence"
)

// Flush is an injection-ready payload handed to the orchestrator.
type Flush struct {
	Text        string
	UtteranceID uint64
	Trigger     Trigger
}

// Aggregator is the session state machine. Create one per processor with
// [New]; it lives until shutdown.
type Aggregator struct {
	cfg config.SessionConfig

	state       State
	buffer      string
	utteranceID uint64
	lastEventAt time.Time
	startAt     time.Time

	// onBuffering, when set, fires every time the state enters Buffering.
	// The processor hooks the prewarm controller here.
	onBuffering func()
}

// Option is a functional option for [New].
type Option func(*Aggregator)

// WithBufferingHook registers fn to run whenever the session enters the
// Buffering state. Used to kick speculative prewarm.
func WithBufferingHook(fn func()) Option {
	return func(a *Aggregator) { a.onBuffering = fn }
}

// New creates an idle [Aggregator] with the given flush policy.
func New(cfg config.SessionConfig, opts ...Option) *Aggregator {
	a := &Aggregator{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State returns the current state.
func (a *Aggregator) State() State { return a.state }

// Buffer returns the current buffered text. Intended for tests and debugging.
func (a *Aggregator) Buffer() string { return a.buffer }

// OnEvent feeds one transcription event through the state machine. It
// returns a non-nil [*Flush] when the event completed a payload. Malformed
// text is sanitised, never rejected; the aggregator cannot fail.
func (a *Aggregator) OnEvent(ev types.TranscriptionEvent) *Flush {
	now := ev.At
	if now.IsZero() {
		now = time.Now()
	}

	switch ev.Kind {
	case types.EventError:
		a.reset()
		return nil

	case types.EventPartial:
		// Partials never touch the buffer and never cause a flush.
		return nil
	}

	text := textproc.Normalize(ev.Text, a.cfg.KeepNewlines)
	if text == "" {
		return nil
	}

	switch a.state {
	case StateIdle:
		a.state = StateBuffering
		a.buffer = text
		a.utteranceID = ev.UtteranceID
		a.startAt = now
		a.lastEventAt = now
		if a.onBuffering != nil {
			a.onBuffering()
		}
		return a.evaluateBuffer()

	case StateBuffering, StateWaitingForSilence:
		if ev.UtteranceID != a.utteranceID {
			// A new speech segment arrived while the old one was still
			// buffered. Hand the old buffer off and start over with the new
			// text so no speech is lost.
			out := a.take(TriggerSilence)
			a.state = StateBuffering
			a.buffer = text
			a.utteranceID = ev.UtteranceID
			a.startAt = now
			a.lastEventAt = now
			if a.onBuffering != nil {
				a.onBuffering()
			}
			return out
		}

		a.buffer = a.buffer + " " + text
		a.lastEventAt = now
		a.state = StateBuffering
		return a.evaluateBuffer()
	}
	return nil
}

// OnTick advances the pause and silence timers. The processor calls it on a
// periodic tick; it returns a non-nil [*Flush] when the silence timer fired.
func (a *Aggregator) OnTick(now time.Time) *Flush {
	switch a.state {
	case StateBuffering:
		if now.Sub(a.lastEventAt) >= a.cfg.BufferPauseTimeout() {
			a.state = StateWaitingForSilence
		}
		if a.state != StateWaitingForSilence {
			return nil
		}
		fallthrough

	case StateWaitingForSilence:
		if now.Sub(a.lastEventAt) >= a.cfg.SilenceTimeout() {
			return a.take(TriggerSilence)
		}
	}
	return nil
}

// Reset discards any buffered text and returns the aggregator to Idle.
func (a *Aggregator) Reset() { a.reset() }

// evaluateBuffer applies the in-Buffering flush rules: size first (size wins
// when both fire on the same event), then sentence-ending punctuation, then
// the zero-timer immediate path.
func (a *Aggregator) evaluateBuffer() *Flush {
	if utf8.RuneCountInString(a.buffer) >= a.cfg.MaxBuffer() {
		return a.take(TriggerSize)
	}
	if textproc.EndsWithTerminator(a.buffer) {
		return a.take(TriggerPunctuation)
	}
	if a.cfg.SilenceTimeout() == 0 && a.cfg.BufferPauseTimeout() == 0 {
		return a.take(TriggerImmediate)
	}
	return nil
}

// take hands the buffer off and returns to Idle.
func (a *Aggregator) take(trigger Trigger) *Flush {
	out := &Flush{
		Text:        a.buffer,
		UtteranceID: a.utteranceID,
		Trigger:     trigger,
	}
	a.reset()
	return out
}

// reset clears all buffered state. The buffer-non-empty-iff-not-idle
// invariant is maintained here and in OnEvent only.
func (a *Aggregator) reset() {
	a.state = StateIdle
	a.buffer = ""
	a.utteranceID = 0
	a.lastEventAt = time.Time{}
	a.startAt = time.Time{}
}
