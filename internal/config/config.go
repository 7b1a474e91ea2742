// Package config provides the configuration schema and loader for the ColdVox
// text-injection service.
package config

import "time"

// Config is the root configuration structure for ColdVox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Injection InjectionConfig `yaml:"injection"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds network and logging settings for the ColdVox service.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics endpoint listens on
	// (e.g., ":8090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is the configured slog verbosity.
type LogLevel string

// Valid log levels.
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InjectionConfig holds every knob of the strategy orchestrator and the
// backend adapters. All fields have working defaults; an empty block is a
// valid configuration.
type InjectionConfig struct {
	// AllowYdotool enables the ydotool synthetic-input paste trigger.
	// ydotool types into whatever holds focus, so it is off by default.
	AllowYdotool bool `yaml:"allow_ydotool"`

	// AllowEnigo enables the wtype and xdotool input-synthesis paste triggers.
	AllowEnigo bool `yaml:"allow_enigo"`

	// AllowKdotool enables the kdotool window-activation assist on KDE.
	AllowKdotool bool `yaml:"allow_kdotool"`

	// RestoreClipboard backs up and restores clipboard contents around a
	// clipboard paste. Default: true.
	RestoreClipboard *bool `yaml:"restore_clipboard"`

	// ClipboardRestoreDelayMs is how long to wait after the paste trigger
	// before restoring the clipboard backup. Default: 500.
	ClipboardRestoreDelayMs int `yaml:"clipboard_restore_delay_ms"`

	// PasteActionTimeoutMs bounds a single paste trigger invocation. Default: 200.
	PasteActionTimeoutMs int `yaml:"paste_action_timeout_ms"`

	// PerMethodTimeoutMs bounds any single method attempt. Default: 250.
	PerMethodTimeoutMs int `yaml:"per_method_timeout_ms"`

	// MaxTotalLatencyMs bounds one whole injection call across all attempted
	// methods. Default: 800.
	MaxTotalLatencyMs int `yaml:"max_total_latency_ms"`

	// CooldownInitialMs is the base of the exponential cooldown: after n
	// consecutive failures (n at or above the threshold) the cooldown is
	// min(max, initial * 2^(n-1)). Default: 1000.
	CooldownInitialMs int `yaml:"cooldown_initial_ms"`

	// CooldownMaxMs caps the exponential cooldown. Default: 30000.
	CooldownMaxMs int `yaml:"cooldown_max_ms"`

	// Allowlist restricts injection to focused apps matching at least one
	// pattern. Patterns compile as regexes where possible, otherwise they
	// match as substrings. When non-empty, Blocklist is ignored.
	Allowlist []string `yaml:"allowlist"`

	// Blocklist rejects focused apps matching any pattern. Only consulted
	// when Allowlist is empty.
	Blocklist []string `yaml:"blocklist"`

	// InjectOnUnknownFocus proceeds when the focus provider cannot classify
	// the focused control. Default: true.
	InjectOnUnknownFocus *bool `yaml:"inject_on_unknown_focus"`

	// RequireFocus refuses to inject unless an editable-text control holds
	// focus. Default: false.
	RequireFocus bool `yaml:"require_focus"`

	// FocusCacheDurationMs is the TTL of a focus query result. Default: 200.
	FocusCacheDurationMs int `yaml:"focus_cache_duration_ms"`

	// MaxTextBytes rejects injection payloads larger than this. Default: 65536.
	MaxTextBytes int `yaml:"max_text_bytes"`
}

// SessionConfig holds the flush policy of the session aggregator.
type SessionConfig struct {
	// SilenceTimeoutMs flushes the buffer after this much silence once the
	// pause timeout has elapsed. 0 flushes immediately on every final. Default: 0.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`

	// BufferPauseTimeoutMs is how long a buffering utterance may idle before
	// the session starts waiting for silence. 0 skips the pause phase. Default: 0.
	BufferPauseTimeoutMs int `yaml:"buffer_pause_timeout_ms"`

	// MaxBufferSize force-flushes once the buffer reaches this many
	// characters. Default: 5000.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// KeepNewlines preserves newline characters during whitespace
	// normalisation instead of collapsing them to spaces. Default: false.
	KeepNewlines bool `yaml:"keep_newlines"`
}

// Defaults for InjectionConfig and SessionConfig.
const (
	DefaultClipboardRestoreDelay = 500 * time.Millisecond
	DefaultPasteActionTimeout    = 200 * time.Millisecond
	DefaultPerMethodTimeout      = 250 * time.Millisecond
	DefaultMaxTotalLatency       = 800 * time.Millisecond
	DefaultCooldownInitial       = 1000 * time.Millisecond
	DefaultCooldownMax           = 30 * time.Second
	DefaultFocusCacheDuration    = 200 * time.Millisecond
	DefaultMaxTextBytes          = 64 * 1024
	DefaultMaxBufferSize         = 5000
)

// msOrDefault converts a millisecond count to a duration, substituting def
// when the value is unset (zero) or negative.
func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// ms converts a millisecond count to a duration. Unlike [msOrDefault] a zero
// stays zero — the session timers treat 0 as "flush immediately".
func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// RestoreClipboardEnabled resolves the tri-state RestoreClipboard field.
func (c InjectionConfig) RestoreClipboardEnabled() bool {
	return c.RestoreClipboard == nil || *c.RestoreClipboard
}

// InjectOnUnknownFocusEnabled resolves the tri-state InjectOnUnknownFocus field.
func (c InjectionConfig) InjectOnUnknownFocusEnabled() bool {
	return c.InjectOnUnknownFocus == nil || *c.InjectOnUnknownFocus
}

// ClipboardRestoreDelay returns the configured delay or its default.
func (c InjectionConfig) ClipboardRestoreDelay() time.Duration {
	return msOrDefault(c.ClipboardRestoreDelayMs, DefaultClipboardRestoreDelay)
}

// PasteActionTimeout returns the configured timeout or its default.
func (c InjectionConfig) PasteActionTimeout() time.Duration {
	return msOrDefault(c.PasteActionTimeoutMs, DefaultPasteActionTimeout)
}

// PerMethodTimeout returns the configured per-attempt budget or its default.
func (c InjectionConfig) PerMethodTimeout() time.Duration {
	return msOrDefault(c.PerMethodTimeoutMs, DefaultPerMethodTimeout)
}

// MaxTotalLatency returns the configured total budget or its default.
func (c InjectionConfig) MaxTotalLatency() time.Duration {
	return msOrDefault(c.MaxTotalLatencyMs, DefaultMaxTotalLatency)
}

// CooldownInitial returns the configured initial cooldown or its default.
func (c InjectionConfig) CooldownInitial() time.Duration {
	return msOrDefault(c.CooldownInitialMs, DefaultCooldownInitial)
}

// CooldownMax returns the configured cooldown cap or its default.
func (c InjectionConfig) CooldownMax() time.Duration {
	return msOrDefault(c.CooldownMaxMs, DefaultCooldownMax)
}

// FocusCacheDuration returns the configured focus TTL or its default.
func (c InjectionConfig) FocusCacheDuration() time.Duration {
	return msOrDefault(c.FocusCacheDurationMs, DefaultFocusCacheDuration)
}

// MaxText returns the configured payload cap in bytes or its default.
func (c InjectionConfig) MaxText() int {
	if c.MaxTextBytes <= 0 {
		return DefaultMaxTextBytes
	}
	return c.MaxTextBytes
}

// SilenceTimeout returns the configured silence timer. Zero means "flush
// immediately on final".
func (c SessionConfig) SilenceTimeout() time.Duration { return ms(c.SilenceTimeoutMs) }

// BufferPauseTimeout returns the configured pause timer. Zero skips the
// waiting-for-silence phase.
func (c SessionConfig) BufferPauseTimeout() time.Duration { return ms(c.BufferPauseTimeoutMs) }

// MaxBuffer returns the configured flush threshold in characters.
func (c SessionConfig) MaxBuffer() int {
	if c.MaxBufferSize <= 0 {
		return DefaultMaxBufferSize
	}
	return c.MaxBufferSize
}
