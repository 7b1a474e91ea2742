// Package mock provides test doubles for the backend package interfaces.
//
// Use Backend to script availability and injection outcomes and to inspect
// the texts that were injected.
//
// Example:
//
//	b := &mock.Backend{
//	    MethodName: types.MethodAtspiInsert,
//	    Available:  true,
//	}
//	err := b.InjectText(ctx, "hello")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/Coldaine/coldvox/pkg/types"
)

// InjectCall records a single invocation of Backend.InjectText.
type InjectCall struct {
	// Text is the payload passed to InjectText.
	Text string

	// Deadline is the context deadline observed during the call (zero when
	// the context carried none).
	Deadline time.Time
}

// Backend is a scriptable mock implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	// MethodName is returned by Method.
	MethodName types.Method

	// Available is returned by IsAvailable.
	Available bool

	// InjectErr, if non-nil, is returned from InjectText.
	InjectErr error

	// InjectDelay makes InjectText sleep before returning, honouring context
	// cancellation. Use it to exercise budget enforcement.
	InjectDelay time.Duration

	// InjectFunc, if non-nil, replaces the default InjectText behaviour
	// entirely (after the call is recorded).
	InjectFunc func(ctx context.Context, text string) error

	// InjectCalls records every call to InjectText in order.
	InjectCalls []InjectCall

	// AvailableCalls counts calls to IsAvailable.
	AvailableCalls int
}

// Method returns MethodName.
func (b *Backend) Method() types.Method { return b.MethodName }

// IsAvailable records the call and returns Available.
func (b *Backend) IsAvailable(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AvailableCalls++
	return b.Available
}

// InjectText records the call, optionally sleeps for InjectDelay, then
// returns InjectErr or delegates to InjectFunc.
func (b *Backend) InjectText(ctx context.Context, text string) error {
	b.mu.Lock()
	call := InjectCall{Text: text}
	if d, ok := ctx.Deadline(); ok {
		call.Deadline = d
	}
	b.InjectCalls = append(b.InjectCalls, call)
	fn := b.InjectFunc
	delay := b.InjectDelay
	err := b.InjectErr
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, text)
	}
	return err
}

// Calls returns a copy of the recorded InjectText calls. Thread-safe.
func (b *Backend) Calls() []InjectCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]InjectCall, len(b.InjectCalls))
	copy(out, b.InjectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InjectCalls = nil
	b.AvailableCalls = 0
}
