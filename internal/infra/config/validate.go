package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateStream(cfg, ve)
	validateRetry(cfg, ve)
	validateUsage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validReasoningEfforts = map[string]bool{
	"":        true,
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
			ve.Add("llm.failover.fallbacks set but no providers are configured")
		}
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CODEXSTREAM_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, envName(p.Name))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): base_url %q must be an absolute http(s) URL", i, p.Name, p.BaseURL)
			}
		}
		if !validReasoningEfforts[p.ReasoningEffort] {
			ve.Add("llm.providers[%d] (%s): reasoning_effort %q is invalid (want: minimal, low, medium, high)",
				i, p.Name, p.ReasoningEffort)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must not be negative", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
			if name == cfg.LLM.DefaultProvider {
				ve.Add("llm.failover.fallbacks: %q is already the default provider", name)
			}
		}
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled && (cb.Timeout < 0 || cb.Interval < 0) {
		ve.Add("llm.circuit_breaker timeout and interval must not be negative")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.Capacity <= 0 {
		ve.Add("stream.capacity must be > 0")
	}
	if cfg.Stream.IdleTimeout == 0 {
		ve.Add("stream.idle_timeout must not be zero (use a negative value to disable)")
	}
}

func validateRetry(cfg *Config, ve *ValidationError) {
	r := cfg.Retry
	if r.MaxRetries < 0 {
		ve.Add("retry.max_retries must be >= 0")
	}
	if r.BaseDelay <= 0 {
		ve.Add("retry.base_delay must be > 0")
	}
	if r.Factor < 1 {
		ve.Add("retry.factor must be >= 1")
	}
	if r.MaxDelay < r.BaseDelay {
		ve.Add("retry.max_delay must be >= retry.base_delay")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		ve.Add("retry.jitter must be within [0, 1]")
	}
	if r.RequestsPerSecond < 0 {
		ve.Add("retry.requests_per_second must be >= 0")
	}
	if r.Burst < 0 {
		ve.Add("retry.burst must be >= 0")
	}
}

func validateUsage(cfg *Config, ve *ValidationError) {
	if cfg.Usage.Enabled && cfg.Usage.Path == "" {
		ve.Add("usage.path must not be empty when usage is enabled")
	}
}

var (
	validLogLevels  = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"": true, "text": true, "json": true}
	validExporters  = map[string]bool{"": true, "noop": true, "stdout": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
