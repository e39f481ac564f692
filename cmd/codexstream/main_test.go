package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-stream/internal/adapter/llm"
	"codex-stream/internal/adapter/usage"
	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
	"codex-stream/internal/usecase/eventbus"
	"codex-stream/internal/usecase/eventstream"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testConfig(providers ...config.ProviderConfig) *config.Config {
	cfg := config.Defaults()
	cfg.LLM.Providers = providers
	if len(providers) > 0 {
		cfg.LLM.DefaultProvider = providers[0].Name
	}
	cfg.Retry.MaxRetries = 0
	return cfg
}

func TestParseStreamFlags(t *testing.T) {
	t.Setenv("CODEXSTREAM_CONFIG", "")
	f, err := parseStreamFlags([]string{"--provider", "azure", "-reasoning", "--schema=s.json", "hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "codexstream.yaml", f.ConfigPath)
	assert.Equal(t, "azure", f.Provider)
	assert.True(t, f.Reasoning)
	assert.Equal(t, "s.json", f.SchemaPath)
	assert.Equal(t, []string{"hello", "world"}, f.Args)
}

func TestParseStreamFlagsConfigEnv(t *testing.T) {
	t.Setenv("CODEXSTREAM_CONFIG", "/etc/codexstream.yaml")
	f, err := parseStreamFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/codexstream.yaml", f.ConfigPath)
}

func TestParseStreamFlagsUnknown(t *testing.T) {
	_, err := parseStreamFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestApplyStreamFlags(t *testing.T) {
	cfg := testConfig(
		config.ProviderConfig{Name: "openai", Model: "gpt-5"},
		config.ProviderConfig{Name: "azure", Model: "gpt-4.1"},
	)

	require.NoError(t, applyStreamFlags(cfg, streamFlags{Provider: "azure", Model: "o3"}))
	assert.Equal(t, "azure", cfg.LLM.DefaultProvider)
	azure, _ := cfg.Provider("azure")
	assert.Equal(t, "o3", azure.Model)
	openai, _ := cfg.Provider("openai")
	assert.Equal(t, "gpt-5", openai.Model)

	err := applyStreamFlags(cfg, streamFlags{Provider: "missing"})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestBuildPrompt(t *testing.T) {
	t.Run("args", func(t *testing.T) {
		p, err := buildPrompt(streamFlags{Args: []string{"say", "hi"}, Instructions: "be brief"}, strings.NewReader("ignored"))
		require.NoError(t, err)
		require.Len(t, p.Input, 1)
		assert.Equal(t, "say hi", p.Input[0].Text())
		assert.Equal(t, domain.RoleUser, p.Input[0].Role)
		assert.Equal(t, "be brief", p.BaseInstructionsOverride)
		assert.Nil(t, p.OutputSchema)
	})

	t.Run("stdin", func(t *testing.T) {
		p, err := buildPrompt(streamFlags{Args: []string{"-"}}, strings.NewReader("  from stdin\n"))
		require.NoError(t, err)
		assert.Equal(t, "from stdin", p.Input[0].Text())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := buildPrompt(streamFlags{}, strings.NewReader("   "))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("schema", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"type":"object"}`), 0o600))
		p, err := buildPrompt(streamFlags{Args: []string{"x"}, SchemaPath: path}, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"object"}`, string(p.OutputSchema))
	})

	t.Run("missing schema", func(t *testing.T) {
		_, err := buildPrompt(streamFlags{Args: []string{"x"}, SchemaPath: filepath.Join(t.TempDir(), "nope.json")}, nil)
		assert.ErrorContains(t, err, "read schema")
	})
}

func TestRunEncrypt(t *testing.T) {
	t.Setenv("CODEXSTREAM_CONFIG_KEY", "passphrase")
	var out bytes.Buffer
	require.NoError(t, runEncrypt(strings.NewReader("sk-secret\n"), &out))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "enc:"))
	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)
}

func TestRunEncryptErrors(t *testing.T) {
	t.Setenv("CODEXSTREAM_CONFIG_KEY", "")
	assert.ErrorContains(t, runEncrypt(strings.NewReader("x"), &bytes.Buffer{}), "CODEXSTREAM_CONFIG_KEY")

	t.Setenv("CODEXSTREAM_CONFIG_KEY", "k")
	assert.ErrorContains(t, runEncrypt(strings.NewReader(" \n"), &bytes.Buffer{}), "empty secret")
}

func TestShowUsage(t *testing.T) {
	var buf bytes.Buffer
	showUsage(&buf)
	assert.Contains(t, buf.String(), "codexstream usage")
	assert.Contains(t, buf.String(), "--reasoning")
}

func TestRender(t *testing.T) {
	window := int64(300)
	s := eventstream.FromEvents(
		domain.RateLimits{Snapshot: domain.RateLimitSnapshot{Primary: &domain.RateLimitWindow{UsedPercent: 12.5, WindowMinutes: &window}}},
		domain.Created{},
		domain.ReasoningSummaryDelta{Delta: "thinking"},
		domain.ReasoningSummaryPartAdded{},
		domain.ReasoningSummaryDelta{Delta: "more"},
		domain.OutputTextDelta{Delta: "Hello"},
		domain.OutputTextDelta{Delta: ", world"},
		domain.WebSearchCallBegin{CallID: "ws_1"},
		domain.OutputItemDone{Item: domain.ResponseItem{Type: domain.ItemFunctionCall, Name: "lookup", CallID: "call_1", Arguments: `{"q":1}`}},
		domain.OutputItemDone{Item: domain.AssistantMessage("Hello, world")},
		domain.Completed{ResponseID: "resp_1", TokenUsage: &domain.TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}},
	)

	var out, diag bytes.Buffer
	res, err := render(context.Background(), s, &out, &diag, true)
	require.NoError(t, err)

	assert.Equal(t, "Hello, world\n", out.String())
	assert.Equal(t, "thinking\n\nmore\n", diag.String())
	require.NotNil(t, res.Completed)
	assert.Equal(t, "resp_1", res.Completed.ResponseID)
	require.NotNil(t, res.RateLimits)
	assert.Equal(t, 1, res.Searches)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "lookup", res.ToolCalls[0].Name)

	var summary bytes.Buffer
	printSummary(&summary, res)
	assert.Contains(t, summary.String(), `tool call call_1 lookup({"q":1})`)
	assert.Contains(t, summary.String(), "total=7")
	assert.Contains(t, summary.String(), "rate limits: primary 12.5% of 300m")
}

func TestRenderHidesReasoning(t *testing.T) {
	s := eventstream.FromEvents(
		domain.ReasoningSummaryDelta{Delta: "secret"},
		domain.OutputTextDelta{Delta: "answer"},
		domain.Completed{ResponseID: "r"},
	)
	var out, diag bytes.Buffer
	_, err := render(context.Background(), s, &out, &diag, false)
	require.NoError(t, err)
	assert.Equal(t, "answer\n", out.String())
	assert.Empty(t, diag.String())
}

func TestRenderError(t *testing.T) {
	s := eventstream.FromError(&domain.ProtocolError{Message: "boom"})
	var out bytes.Buffer
	_, err := render(context.Background(), s, &out, &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestFormatRateLimits(t *testing.T) {
	resets := int64(90)
	got := formatRateLimits(domain.RateLimitSnapshot{
		Primary:   &domain.RateLimitWindow{UsedPercent: 50},
		Secondary: &domain.RateLimitWindow{UsedPercent: 7.3, ResetsInSeconds: &resets},
	})
	assert.Equal(t, "primary 50.0%; secondary 7.3%, resets in 90s", got)
	assert.Empty(t, formatRateLimits(domain.RateLimitSnapshot{}))
}

func TestPrintUsage(t *testing.T) {
	store, err := usage.NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, domain.UsageRecord{StreamID: "a", Provider: "openai", Model: "gpt-5", Usage: domain.TokenUsage{TotalTokens: 10}}))
	require.NoError(t, store.Record(ctx, domain.UsageRecord{StreamID: "b", Provider: "azure", ErrorCode: domain.CodeServer}))

	var out bytes.Buffer
	require.NoError(t, printUsage(ctx, store, "", 10, &out))
	assert.Contains(t, out.String(), "streams: 2 (failed 1)")
	assert.Contains(t, out.String(), "total=10")
	assert.Contains(t, out.String(), "SERVER_ERROR")
	assert.Contains(t, out.String(), "gpt-5")

	out.Reset()
	require.NoError(t, printUsage(ctx, store, "openai", 0, &out))
	assert.Contains(t, out.String(), "streams: 1 (failed 0)")
	assert.NotContains(t, out.String(), "PROVIDER")
}

func TestInitClients(t *testing.T) {
	cfg := testConfig(
		config.ProviderConfig{Name: "openai", Model: "gpt-5", APIKey: "k1"},
		config.ProviderConfig{Name: "azure", Model: "gpt-5", APIKey: "k2"},
	)
	cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"azure"}}

	clients, err := initClients(cfg, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"azure", "openai"}, clients.Registry.List())
	assert.Equal(t, "openai+failover", clients.Default.Name())

	s, err := clients.Registry.Get("azure")
	require.NoError(t, err)
	_, isBreaker := s.(*llm.CircuitBreakerClient)
	assert.True(t, isBreaker)
}

func TestInitClientsWithoutBreaker(t *testing.T) {
	cfg := testConfig(config.ProviderConfig{Name: "openai", Model: "gpt-5"})
	cfg.LLM.CircuitBreaker.Enabled = false

	clients, err := initClients(cfg, nil, discardLogger())
	require.NoError(t, err)
	_, isClient := clients.Default.(*llm.Client)
	assert.True(t, isClient)
}

func TestInitClientsErrors(t *testing.T) {
	cfg := testConfig(config.ProviderConfig{Name: "openai"}, config.ProviderConfig{Name: "openai"})
	_, err := initClients(cfg, nil, discardLogger())
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	cfg = testConfig(config.ProviderConfig{Name: "openai"})
	cfg.LLM.DefaultProvider = "missing"
	_, err = initClients(cfg, nil, discardLogger())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	cfg = testConfig(config.ProviderConfig{Name: "openai"})
	cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}}
	_, err = initClients(cfg, nil, discardLogger())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestStreamEndToEnd(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("x-codex-primary-used-percent", "25")
		for _, p := range []string{
			`{"type":"response.created","response":{}}`,
			`{"type":"response.output_text.delta","delta":"Hi"}`,
			`{"type":"response.output_text.delta","delta":" there"}`,
			`{"type":"response.completed","response":{"id":"resp_e2e","usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}))
	defer srv.Close()

	cfg := testConfig(config.ProviderConfig{Name: "openai", Model: "gpt-5", APIKey: "sk-e2e", BaseURL: srv.URL})
	store, err := usage.NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer store.Close()

	bus := eventbus.New(discardLogger())
	usage.Attach(bus, store, discardLogger())

	clients, err := initClients(cfg, bus, discardLogger())
	require.NoError(t, err)

	prompt, err := buildPrompt(streamFlags{Args: []string{"hello"}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := clients.Default.Stream(ctx, prompt)
	require.NoError(t, err)

	var out bytes.Buffer
	res, err := render(ctx, s, &out, &bytes.Buffer{}, false)
	require.NoError(t, err)
	assert.Equal(t, "Hi there\n", out.String())
	assert.Equal(t, "Bearer sk-e2e", <-gotAuth)
	require.NotNil(t, res.RateLimits)
	assert.InDelta(t, 25, res.RateLimits.Primary.UsedPercent, 1e-9)

	// The finished notice is published after the terminal event is read.
	require.Eventually(t, func() bool {
		totals, err := store.Totals(ctx, "openai")
		return err == nil && totals.Streams == 1
	}, 2*time.Second, 10*time.Millisecond)
	bus.Close()

	totals, err := store.Totals(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), totals.TotalTokens)
	assert.Zero(t, totals.Failed)
}
