package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.Injection.PerMethodTimeout(); got != 250*time.Millisecond {
		t.Errorf("PerMethodTimeout = %v, want 250ms", got)
	}
	if got := cfg.Injection.MaxTotalLatency(); got != 800*time.Millisecond {
		t.Errorf("MaxTotalLatency = %v, want 800ms", got)
	}
	if got := cfg.Injection.ClipboardRestoreDelay(); got != 500*time.Millisecond {
		t.Errorf("ClipboardRestoreDelay = %v, want 500ms", got)
	}
	if got := cfg.Injection.CooldownMax(); got != 30*time.Second {
		t.Errorf("CooldownMax = %v, want 30s", got)
	}
	if !cfg.Injection.RestoreClipboardEnabled() {
		t.Error("RestoreClipboardEnabled = false, want true by default")
	}
	if !cfg.Injection.InjectOnUnknownFocusEnabled() {
		t.Error("InjectOnUnknownFocusEnabled = false, want true by default")
	}
	if cfg.Injection.RequireFocus {
		t.Error("RequireFocus = true, want false by default")
	}
	if got := cfg.Session.SilenceTimeout(); got != 0 {
		t.Errorf("SilenceTimeout = %v, want 0 (flush immediately)", got)
	}
	if got := cfg.Session.MaxBuffer(); got != DefaultMaxBufferSize {
		t.Errorf("MaxBuffer = %d, want %d", got, DefaultMaxBufferSize)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	yml := `
server:
  listen_addr: ":8090"
  log_level: debug
injection:
  allow_ydotool: true
  restore_clipboard: false
  per_method_timeout_ms: 100
  max_total_latency_ms: 400
  allowlist: ["org.kde.kate", "firefox"]
  require_focus: true
session:
  silence_timeout_ms: 300
  buffer_pause_timeout_ms: 100
  max_buffer_size: 200
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Injection.AllowYdotool {
		t.Error("AllowYdotool = false, want true")
	}
	if cfg.Injection.RestoreClipboardEnabled() {
		t.Error("RestoreClipboardEnabled = true, want false when explicitly disabled")
	}
	if got := cfg.Injection.PerMethodTimeout(); got != 100*time.Millisecond {
		t.Errorf("PerMethodTimeout = %v, want 100ms", got)
	}
	if len(cfg.Injection.Allowlist) != 2 {
		t.Errorf("Allowlist len = %d, want 2", len(cfg.Injection.Allowlist))
	}
	if got := cfg.Session.SilenceTimeout(); got != 300*time.Millisecond {
		t.Errorf("SilenceTimeout = %v, want 300ms", got)
	}
}

func TestLoadFromReader_UnknownFieldFails(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("transcription:\n  enabled: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"negative per-method", func(c *Config) { c.Injection.PerMethodTimeoutMs = -1 }},
		{"cooldown initial above max", func(c *Config) {
			c.Injection.CooldownInitialMs = 60000
			c.Injection.CooldownMaxMs = 30000
		}},
		{"negative silence", func(c *Config) { c.Session.SilenceTimeoutMs = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mut(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCompilePatterns_InvalidRegexFallsBackToSubstring(t *testing.T) {
	pats := CompilePatterns([]string{"org\\.kde\\..*", "[invalid", ""})
	if len(pats) != 2 {
		t.Fatalf("len = %d, want 2 (empty pattern skipped)", len(pats))
	}
	if !pats[0].Match("org.kde.konsole") {
		t.Error("regex pattern should match org.kde.konsole")
	}
	if pats[0].Match("org.gnome.Terminal") {
		t.Error("regex pattern should not match org.gnome.Terminal")
	}
	// "[invalid" is not a regex; it matches as a case-insensitive substring.
	if !pats[1].Match("App-[Invalid-Build") {
		t.Error("substring fallback should match")
	}
}
