package config

import (
	"strings"
	"testing"
	"time"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func validProvider() ProviderConfig {
	return ProviderConfig{
		Name:   "openai",
		APIKey: "sk-test",
		Model:  "gpt-5-codex",
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := Defaults()
	backup := validProvider()
	backup.Name = "backup"
	backup.BaseURL = "http://localhost:8080/v1"
	backup.ReasoningEffort = "low"
	cfg.LLM.Providers = []ProviderConfig{validProvider(), backup}
	cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"backup"}}
	cfg.Usage = UsageConfig{Enabled: true, Path: "/tmp/usage.db"}
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "stdout"

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		want   string
	}{
		{
			name:   "default provider empty",
			mutate: func(cfg *Config) { cfg.LLM.DefaultProvider = "" },
			want:   "llm.default_provider must not be empty",
		},
		{
			name: "fallbacks without providers",
			mutate: func(cfg *Config) {
				cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"x"}}
			},
			want: "no providers are configured",
		},
		{
			name: "provider name empty",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.Name = ""
				cfg.LLM.Providers = []ProviderConfig{validProvider(), p}
			},
			want: "llm.providers[1].name must not be empty",
		},
		{
			name: "duplicate provider",
			mutate: func(cfg *Config) {
				cfg.LLM.Providers = []ProviderConfig{validProvider(), validProvider()}
			},
			want: "duplicate provider name",
		},
		{
			name: "api key empty",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.Name = "my-proxy"
				p.APIKey = ""
				cfg.LLM.DefaultProvider = "my-proxy"
				cfg.LLM.Providers = []ProviderConfig{p}
			},
			want: "CODEXSTREAM_LLM_PROVIDER_MY_PROXY_API_KEY",
		},
		{
			name: "model empty",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.Model = ""
				cfg.LLM.Providers = []ProviderConfig{p}
			},
			want: "model must not be empty",
		},
		{
			name: "relative base url",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.BaseURL = "api.openai.com/v1"
				cfg.LLM.Providers = []ProviderConfig{p}
			},
			want: "must be an absolute http(s) URL",
		},
		{
			name: "bad reasoning effort",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.ReasoningEffort = "extreme"
				cfg.LLM.Providers = []ProviderConfig{p}
			},
			want: `reasoning_effort "extreme" is invalid`,
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				p := validProvider()
				p.RespTimeout = -time.Second
				cfg.LLM.Providers = []ProviderConfig{p}
			},
			want: "timeouts must not be negative",
		},
		{
			name: "default not in providers",
			mutate: func(cfg *Config) {
				cfg.LLM.DefaultProvider = "nonexistent"
				cfg.LLM.Providers = []ProviderConfig{validProvider()}
			},
			want: "does not match any configured provider",
		},
		{
			name: "unknown fallback",
			mutate: func(cfg *Config) {
				cfg.LLM.Providers = []ProviderConfig{validProvider()}
				cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}}
			},
			want: `unknown provider "ghost"`,
		},
		{
			name: "fallback is default",
			mutate: func(cfg *Config) {
				cfg.LLM.Providers = []ProviderConfig{validProvider()}
				cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"openai"}}
			},
			want: "already the default provider",
		},
		{
			name: "negative breaker timeout",
			mutate: func(cfg *Config) {
				cfg.LLM.Providers = []ProviderConfig{validProvider()}
				cfg.LLM.CircuitBreaker.Timeout = -time.Second
			},
			want: "llm.circuit_breaker timeout and interval must not be negative",
		},
		{
			name:   "zero capacity",
			mutate: func(cfg *Config) { cfg.Stream.Capacity = 0 },
			want:   "stream.capacity must be > 0",
		},
		{
			name:   "zero idle timeout",
			mutate: func(cfg *Config) { cfg.Stream.IdleTimeout = 0 },
			want:   "stream.idle_timeout must not be zero",
		},
		{
			name:   "negative max retries",
			mutate: func(cfg *Config) { cfg.Retry.MaxRetries = -1 },
			want:   "retry.max_retries must be >= 0",
		},
		{
			name:   "zero base delay",
			mutate: func(cfg *Config) { cfg.Retry.BaseDelay = 0 },
			want:   "retry.base_delay must be > 0",
		},
		{
			name:   "factor below one",
			mutate: func(cfg *Config) { cfg.Retry.Factor = 0.5 },
			want:   "retry.factor must be >= 1",
		},
		{
			name:   "max delay below base",
			mutate: func(cfg *Config) { cfg.Retry.MaxDelay = time.Millisecond },
			want:   "retry.max_delay must be >= retry.base_delay",
		},
		{
			name:   "jitter out of range",
			mutate: func(cfg *Config) { cfg.Retry.Jitter = 1.5 },
			want:   "retry.jitter must be within [0, 1]",
		},
		{
			name:   "negative rps",
			mutate: func(cfg *Config) { cfg.Retry.RequestsPerSecond = -1 },
			want:   "retry.requests_per_second must be >= 0",
		},
		{
			name:   "negative burst",
			mutate: func(cfg *Config) { cfg.Retry.Burst = -1 },
			want:   "retry.burst must be >= 0",
		},
		{
			name:   "usage without path",
			mutate: func(cfg *Config) { cfg.Usage = UsageConfig{Enabled: true} },
			want:   "usage.path must not be empty",
		},
		{
			name:   "bad log level",
			mutate: func(cfg *Config) { cfg.Logger.Level = "verbose" },
			want:   `logger.level "verbose" is invalid`,
		},
		{
			name:   "bad log format",
			mutate: func(cfg *Config) { cfg.Logger.Format = "xml" },
			want:   `logger.format "xml" is invalid`,
		},
		{
			name: "bad exporter",
			mutate: func(cfg *Config) {
				cfg.Tracer.Enabled = true
				cfg.Tracer.Exporter = "jaeger"
			},
			want: `tracer.exporter "jaeger" is invalid`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateNegativeIdleTimeoutDisables(t *testing.T) {
	cfg := Defaults()
	cfg.Stream.IdleTimeout = -1
	if err := Validate(cfg); err != nil {
		t.Errorf("negative idle timeout should be accepted: %v", err)
	}
}

func TestValidateDisabledTracerIgnoresExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Exporter = "jaeger"
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled tracer should not validate exporter: %v", err)
	}
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = ""
	cfg.Stream.Capacity = 0
	cfg.Retry.Factor = 0
	cfg.Logger.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("first error")
	ve.Add("second %s", "error")

	msg := ve.Error()
	if !strings.HasPrefix(msg, "config validation failed:") {
		t.Errorf("unexpected prefix: %s", msg)
	}
	if !strings.Contains(msg, "first error") || !strings.Contains(msg, "second error") {
		t.Errorf("missing error details: %s", msg)
	}
}
