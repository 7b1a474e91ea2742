package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid all-defaults config.
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Invalid allow/blocklist patterns are warnings, not errors — such patterns
// still take part in matching as plain substrings (see [CompilePatterns]).
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	inj := cfg.Injection
	if inj.PerMethodTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("injection.per_method_timeout_ms must not be negative"))
	}
	if inj.MaxTotalLatencyMs < 0 {
		errs = append(errs, fmt.Errorf("injection.max_total_latency_ms must not be negative"))
	}
	if inj.MaxTotalLatencyMs > 0 && inj.PerMethodTimeoutMs > inj.MaxTotalLatencyMs {
		slog.Warn("injection.per_method_timeout_ms exceeds max_total_latency_ms; the total budget wins",
			"per_method_ms", inj.PerMethodTimeoutMs,
			"total_ms", inj.MaxTotalLatencyMs,
		)
	}
	if inj.CooldownInitialMs > 0 && inj.CooldownMaxMs > 0 && inj.CooldownInitialMs > inj.CooldownMaxMs {
		errs = append(errs, fmt.Errorf("injection.cooldown_initial_ms %d exceeds cooldown_max_ms %d", inj.CooldownInitialMs, inj.CooldownMaxMs))
	}
	if len(inj.Allowlist) > 0 && len(inj.Blocklist) > 0 {
		slog.Warn("both allowlist and blocklist are set; blocklist is ignored while the allowlist is non-empty")
	}
	warnInvalidPatterns("allowlist", inj.Allowlist)
	warnInvalidPatterns("blocklist", inj.Blocklist)

	sess := cfg.Session
	if sess.SilenceTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.silence_timeout_ms must not be negative"))
	}
	if sess.BufferPauseTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.buffer_pause_timeout_ms must not be negative"))
	}
	if sess.MaxBufferSize < 0 {
		errs = append(errs, fmt.Errorf("session.max_buffer_size must not be negative"))
	}

	return errors.Join(errs...)
}

// CompilePatterns compiles app-class patterns into [AppPattern] values.
// Patterns that fail regex compilation fall back to substring matching, so a
// literal pattern like "org.kde.konsole" works either way. Empty patterns are
// skipped with a warning.
func CompilePatterns(list []string) []AppPattern {
	out := make([]AppPattern, 0, len(list))
	for _, p := range list {
		if p == "" {
			slog.Warn("empty app-class pattern skipped")
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Warn("app-class pattern is not a valid regex; matching as substring",
				"pattern", p, "err", err)
			out = append(out, AppPattern{raw: p})
			continue
		}
		out = append(out, AppPattern{raw: p, re: re})
	}
	return out
}

// AppPattern matches focused app classes either as a compiled regex or, when
// compilation failed at load time, as a plain substring.
type AppPattern struct {
	raw string
	re  *regexp.Regexp
}

// Match reports whether appClass matches the pattern.
func (p AppPattern) Match(appClass string) bool {
	if p.re != nil {
		return p.re.MatchString(appClass)
	}
	return containsFold(appClass, p.raw)
}

// String returns the original pattern text.
func (p AppPattern) String() string { return p.raw }

// containsFold is a case-insensitive substring check. App classes are
// reverse-DNS-ish identifiers whose casing varies by toolkit.
func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// warnInvalidPatterns logs a startup warning for each pattern in list that
// does not compile as a regex. The pattern still participates as a substring.
func warnInvalidPatterns(field string, list []string) {
	for _, p := range list {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			slog.Warn("injection pattern does not compile as regex; will match as substring",
				"field", field, "pattern", p, "err", err)
		}
	}
}
