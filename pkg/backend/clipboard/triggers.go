package clipboard

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// YdotoolTrigger fires Ctrl+V through the ydotool daemon (uinput-backed
// synthetic input; works on any compositor but needs /dev/uinput access).
type YdotoolTrigger struct{}

// Name returns "ydotool".
func (YdotoolTrigger) Name() string { return "ydotool" }

// Available reports whether the ydotool binary is on PATH.
func (YdotoolTrigger) Available(context.Context) bool {
	_, err := exec.LookPath("ydotool")
	return err == nil
}

// Paste issues the Ctrl+V key chord: 29 is KEY_LEFTCTRL, 47 is KEY_V.
func (YdotoolTrigger) Paste(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "ydotool", "key", "29:1", "47:1", "47:0", "29:0").CombinedOutput()
	if err != nil {
		return fmt.Errorf("ydotool key: %w (output: %s)", err, out)
	}
	return nil
}

// WtypeTrigger fires Ctrl+V through wtype (wlroots virtual-keyboard
// protocol; no daemon required).
type WtypeTrigger struct{}

// Name returns "wtype".
func (WtypeTrigger) Name() string { return "wtype" }

// Available reports whether wtype is on PATH and the session is Wayland.
func (WtypeTrigger) Available(context.Context) bool {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return false
	}
	_, err := exec.LookPath("wtype")
	return err == nil
}

// Paste issues the Ctrl+V key chord.
func (WtypeTrigger) Paste(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "wtype", "-M", "ctrl", "-k", "v", "-m", "ctrl").CombinedOutput()
	if err != nil {
		return fmt.Errorf("wtype: %w (output: %s)", err, out)
	}
	return nil
}

// XdotoolTrigger fires Ctrl+V through xdotool (X11 only).
type XdotoolTrigger struct{}

// Name returns "xdotool".
func (XdotoolTrigger) Name() string { return "xdotool" }

// Available reports whether xdotool is on PATH and an X display is set.
func (XdotoolTrigger) Available(context.Context) bool {
	if os.Getenv("DISPLAY") == "" {
		return false
	}
	_, err := exec.LookPath("xdotool")
	return err == nil
}

// Paste issues the Ctrl+V key chord.
func (XdotoolTrigger) Paste(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v").CombinedOutput()
	if err != nil {
		return fmt.Errorf("xdotool key: %w (output: %s)", err, out)
	}
	return nil
}

// KdotoolActivator raises a window by class through kdotool (KDE Wayland).
// It implements backend.Activator — an assist, not an injection method.
type KdotoolActivator struct{}

// Name returns "kdotool".
func (KdotoolActivator) Name() string { return "kdotool" }

// Available reports whether kdotool is on PATH.
func (KdotoolActivator) Available(context.Context) bool {
	_, err := exec.LookPath("kdotool")
	return err == nil
}

// Activate searches for a window of the given class and activates it.
func (KdotoolActivator) Activate(ctx context.Context, appClass string) error {
	if appClass == "" {
		return fmt.Errorf("kdotool: empty app class")
	}
	out, err := exec.CommandContext(ctx, "kdotool", "search", "--class", appClass, "windowactivate").CombinedOutput()
	if err != nil {
		return fmt.Errorf("kdotool activate %q: %w (output: %s)", appClass, err, out)
	}
	return nil
}
