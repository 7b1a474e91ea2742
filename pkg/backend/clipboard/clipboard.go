// Package clipboard implements the unified clipboard-paste injection backend.
//
// The sequence for one attempt is: back up the current clipboard, write the
// payload, fire a paste trigger in the focused application, wait for the app
// to read the selection, then restore the backup. The backup is held in a
// scoped guard whose release runs on every exit path — early error returns
// and context cancellation included — so the user's clipboard always survives
// an injection, however it ends.
//
// Clipboard tooling is pluggable: wl-copy/wl-paste on Wayland, xclip on X11,
// or any [Tool] supplied by tests. Paste triggers form a mini-chain tried in
// order; triggers whose helper is absent are skipped, a failing trigger falls
// through to the next, and the first one that succeeds wins.
//
// The adapter serialises all attempts behind an internal mutex — the system
// clipboard is a singleton and two interleaved backup/restore sequences would
// trample each other.
package clipboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/types"
)

// Tool abstracts the platform clipboard: read the current contents, write new
// contents. Implementations shell out to wl-clipboard or xclip; tests supply
// an in-memory fake.
type Tool interface {
	// Name identifies the tool in logs ("wl-clipboard", "xclip").
	Name() string

	// Available cheaply reports whether the tool can run (binary present,
	// display reachable).
	Available(ctx context.Context) bool

	// Read returns the current clipboard contents. An empty clipboard is not
	// an error; it returns empty bytes.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the clipboard contents.
	Write(ctx context.Context, data []byte) error
}

// PasteTrigger fires a paste action in the focused application, typically a
// synthetic Ctrl+V chord.
type PasteTrigger interface {
	// Name identifies the trigger in logs and errors ("ydotool", "wtype").
	Name() string

	// Available cheaply reports whether the trigger can run.
	Available(ctx context.Context) bool

	// Paste fires the paste action.
	Paste(ctx context.Context) error
}

// Config holds the adapter's tuning knobs, resolved from the injection
// configuration at construction.
type Config struct {
	// RestoreClipboard backs up and restores the clipboard around the paste.
	RestoreClipboard bool

	// RestoreDelay is how long to wait after the paste trigger before
	// restoring the backup, giving the target app time to read the selection.
	RestoreDelay time.Duration

	// PasteTimeout bounds a single paste trigger invocation.
	PasteTimeout time.Duration
}

// Adapter implements backend.Backend using the clipboard plus a paste trigger.
type Adapter struct {
	tool     Tool
	triggers []PasteTrigger
	cfg      Config

	// mu serialises the backup/write/paste/restore sequence. The clipboard is
	// a system-wide singleton.
	mu sync.Mutex
}

// Compile-time assertion that Adapter satisfies the backend contract.
var _ backend.Backend = (*Adapter)(nil)

// New constructs a clipboard Adapter using tool for clipboard access and the
// given paste triggers, tried in order.
func New(tool Tool, triggers []PasteTrigger, cfg Config) *Adapter {
	if cfg.RestoreDelay <= 0 {
		cfg.RestoreDelay = 500 * time.Millisecond
	}
	if cfg.PasteTimeout <= 0 {
		cfg.PasteTimeout = 200 * time.Millisecond
	}
	return &Adapter{tool: tool, triggers: triggers, cfg: cfg}
}

// Method returns types.MethodClipboardPaste.
func (a *Adapter) Method() types.Method { return types.MethodClipboardPaste }

// IsAvailable reports whether the clipboard tool and at least one paste
// trigger can run.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	if a.tool == nil || !a.tool.Available(ctx) {
		return false
	}
	for _, t := range a.triggers {
		if t.Available(ctx) {
			return true
		}
	}
	return false
}

// InjectText runs the full clipboard sequence. The previous clipboard
// contents are restored on every exit path, including context cancellation
// during the post-paste delay.
func (a *Adapter) InjectText(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 1. Back up.
	var g *restoreGuard
	if a.cfg.RestoreClipboard {
		prev, err := a.tool.Read(ctx)
		if err != nil {
			return backend.WrapError(backend.KindClipboard, "clipboard backup failed", err)
		}
		g = newRestoreGuard(a.tool, prev)
		defer g.restore()
	}

	// 2. Write the payload.
	if err := a.tool.Write(ctx, []byte(text)); err != nil {
		return backend.WrapError(backend.KindClipboard, "clipboard write failed", err)
	}

	// 3. Fire the paste trigger chain.
	if err := a.firePaste(ctx); err != nil {
		return err
	}

	// 4. Give the target app time to read the selection before the deferred
	// restore replaces it. Cancellation cuts the wait short; the guard still
	// restores on the way out.
	if g != nil {
		select {
		case <-time.After(a.cfg.RestoreDelay):
		case <-ctx.Done():
			return backend.WrapError(backend.KindTimeout, "cancelled during restore delay", ctx.Err())
		}
	}
	return nil
}

// firePaste tries each configured paste trigger in order.
func (a *Adapter) firePaste(ctx context.Context) error {
	var lastErr error
	tried := 0
	for _, t := range a.triggers {
		if !t.Available(ctx) {
			continue
		}
		tried++

		pctx, cancel := context.WithTimeout(ctx, a.cfg.PasteTimeout)
		err := t.Paste(pctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Debug("paste trigger failed, trying next", "trigger", t.Name(), "err", err)
	}

	if tried == 0 {
		return backend.NewError(backend.KindNotAvailable, "no viable paste trigger")
	}
	return backend.WrapError(backend.KindProcess, "all paste triggers failed", lastErr)
}

// restoreGuard owns the clipboard backup. restore is idempotent and runs with
// its own short deadline detached from the attempt's (possibly expired)
// context, so a cancelled attempt still puts the clipboard back.
type restoreGuard struct {
	tool Tool
	prev []byte
	once sync.Once
}

func newRestoreGuard(tool Tool, prev []byte) *restoreGuard {
	cp := make([]byte, len(prev))
	copy(cp, prev)
	return &restoreGuard{tool: tool, prev: cp}
}

func (g *restoreGuard) restore() {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := g.tool.Write(ctx, g.prev); err != nil {
			slog.Warn("clipboard restore failed", "tool", g.tool.Name(), "err", err)
		}
	})
}

// ─── Platform clipboard tools ─────────────────────────────────────────────────

// WlClipboard shells out to wl-copy / wl-paste (Wayland).
type WlClipboard struct{}

// Name returns "wl-clipboard".
func (WlClipboard) Name() string { return "wl-clipboard" }

// Available reports whether wl-copy is on PATH and a Wayland display is set.
func (WlClipboard) Available(context.Context) bool {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return false
	}
	_, err := exec.LookPath("wl-copy")
	return err == nil
}

// Read runs wl-paste --no-newline. An empty selection exits non-zero on some
// compositors; that is treated as an empty clipboard, not an error.
func (WlClipboard) Read(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "wl-paste", "--no-newline").Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, nil
		}
		return nil, fmt.Errorf("wl-paste: %w", err)
	}
	return out, nil
}

// Write pipes data into wl-copy.
func (WlClipboard) Write(ctx context.Context, data []byte) error {
	cmd := exec.CommandContext(ctx, "wl-copy")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("wl-copy stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("wl-copy start: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("wl-copy write: %w", err)
	}
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wl-copy: %w", err)
	}
	return nil
}

// XClipboard shells out to xclip (X11).
type XClipboard struct{}

// Name returns "xclip".
func (XClipboard) Name() string { return "xclip" }

// Available reports whether xclip is on PATH and an X display is set.
func (XClipboard) Available(context.Context) bool {
	if os.Getenv("DISPLAY") == "" {
		return false
	}
	_, err := exec.LookPath("xclip")
	return err == nil
}

// Read runs xclip -selection clipboard -o.
func (XClipboard) Read(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "xclip", "-selection", "clipboard", "-o").Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, nil
		}
		return nil, fmt.Errorf("xclip read: %w", err)
	}
	return out, nil
}

// Write pipes data into xclip -selection clipboard.
func (XClipboard) Write(ctx context.Context, data []byte) error {
	cmd := exec.CommandContext(ctx, "xclip", "-selection", "clipboard")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("xclip stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("xclip start: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("xclip write: %w", err)
	}
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("xclip: %w", err)
	}
	return nil
}

// DetectTool returns the clipboard tool matching the current session:
// wl-clipboard under Wayland, xclip under X11, nil when neither is usable.
func DetectTool(ctx context.Context) Tool {
	if (WlClipboard{}).Available(ctx) {
		return WlClipboard{}
	}
	if (XClipboard{}).Available(ctx) {
		return XClipboard{}
	}
	return nil
}
