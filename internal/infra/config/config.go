package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM      LLMConfig    `yaml:"llm"`
	Stream   StreamConfig `yaml:"stream"`
	Retry    RetryConfig  `yaml:"retry"`
	Usage    UsageConfig  `yaml:"usage"`
	Logger   LoggerConfig `yaml:"logger"`
	Tracer   TracerConfig `yaml:"tracer"`
	Includes []string     `yaml:"includes,omitempty"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FailoverConfig holds provider failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single Responses API endpoint.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Instructions      string        `yaml:"instructions,omitempty"`
	ReasoningEffort   string        `yaml:"reasoning_effort,omitempty"`
	ReasoningSummary  string        `yaml:"reasoning_summary,omitempty"`
	Include           []string      `yaml:"include,omitempty"`
	ParallelToolCalls bool          `yaml:"parallel_tool_calls"`
	ConnTimeout       time.Duration `yaml:"conn_timeout"`
	RespTimeout       time.Duration `yaml:"resp_timeout"`
	Pool              PoolConfig    `yaml:"pool"`
}

// StreamConfig holds event stream settings.
type StreamConfig struct {
	Capacity    int           `yaml:"capacity"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RetryConfig holds the request attempt policy.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	Factor            float64       `yaml:"factor"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Jitter            float64       `yaml:"jitter"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// UsageConfig holds the token usage ledger settings.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// defaultDataDir returns the persistent data directory under $HOME/.codexstream.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".codexstream")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Stream: StreamConfig{
			Capacity:    1024,
			IdleTimeout: 300 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:     4,
			BaseDelay:      200 * time.Millisecond,
			Factor:         2,
			MaxDelay:       30 * time.Second,
			Jitter:         0.1,
			AttemptTimeout: 60 * time.Second,
		},
		Usage: UsageConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "usage.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "codex-stream",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CODEXSTREAM_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CODEXSTREAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODEXSTREAM_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CODEXSTREAM_LLM_FALLBACKS"); v != "" {
		cfg.LLM.Failover.Enabled = true
		cfg.LLM.Failover.Fallbacks = splitAndTrim(v, ",")
	}
	if v := os.Getenv("CODEXSTREAM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CODEXSTREAM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CODEXSTREAM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CODEXSTREAM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CODEXSTREAM_STREAM_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.Capacity = n
		}
	}
	if v := os.Getenv("CODEXSTREAM_STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.IdleTimeout = d
		}
	}
	if v := os.Getenv("CODEXSTREAM_RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("CODEXSTREAM_RETRY_ATTEMPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.AttemptTimeout = d
		}
	}
	if v := os.Getenv("CODEXSTREAM_RETRY_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("CODEXSTREAM_USAGE_ENABLED"); v != "" {
		cfg.Usage.Enabled = v == "true"
	}
	if v := os.Getenv("CODEXSTREAM_USAGE_PATH"); v != "" {
		cfg.Usage.Path = v
	}

	// Per-provider overrides: CODEXSTREAM_LLM_PROVIDER_<NAME>_{API_KEY,MODEL,BASE_URL}
	for i := range cfg.LLM.Providers {
		prefix := "CODEXSTREAM_LLM_PROVIDER_" + envName(cfg.LLM.Providers[i].Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			cfg.LLM.Providers[i].Model = v
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			cfg.LLM.Providers[i].BaseURL = v
		}
	}
}

// envName upper-cases a provider name and maps characters that are not
// valid in environment variable names to underscores.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

// Provider returns the provider configuration with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
