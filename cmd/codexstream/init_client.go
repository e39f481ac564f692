package main

import (
	"fmt"
	"log/slog"

	"codex-stream/internal/adapter/llm"
	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
	"codex-stream/internal/usecase/eventstream"
)

// clientComponents holds the configured streamers.
type clientComponents struct {
	Registry *llm.Registry
	// Default is the streamer for llm.default_provider, wrapped with failover
	// when enabled.
	Default llm.Streamer
}

// initClients builds one client per configured provider, wraps each with a
// circuit breaker when enabled and chains the fallbacks.
func initClients(cfg *config.Config, pub domain.LifecyclePublisher, log *slog.Logger) (*clientComponents, error) {
	registry := llm.NewRegistry()

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		var s llm.Streamer = newClient(cfg, pc, pub, log)
		if cbCfg.Enabled {
			s = llm.NewCircuitBreakerClient(s, cbCfg, log)
		}
		if err := registry.Register(s); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Debug("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	def, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		var fallbacks []llm.Streamer
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if name == cfg.LLM.DefaultProvider {
				continue
			}
			fb, err := registry.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		if len(fallbacks) > 0 {
			def = llm.NewFailoverStreamer(def, fallbacks, log)
			log.Debug("provider failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
		}
	}

	return &clientComponents{Registry: registry, Default: def}, nil
}

func newClient(cfg *config.Config, pc config.ProviderConfig, pub domain.LifecyclePublisher, log *slog.Logger) *llm.Client {
	return llm.NewClient(llm.Options{
		Name:              pc.Name,
		BaseURL:           pc.BaseURL,
		Model:             pc.Model,
		Instructions:      pc.Instructions,
		Include:           pc.Include,
		ParallelToolCalls: pc.ParallelToolCalls,
		ReasoningEffort:   pc.ReasoningEffort,
		ReasoningSummary:  pc.ReasoningSummary,
		Auth:              domain.StaticAuth(pc.APIKey),
		HTTPClient:        llm.NewHTTPClient(pc),
		Retry: llm.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			Factor:     cfg.Retry.Factor,
			MaxDelay:   cfg.Retry.MaxDelay,
			Jitter:     cfg.Retry.Jitter,
		},
		AttemptTimeout:    cfg.Retry.AttemptTimeout,
		RequestsPerSecond: cfg.Retry.RequestsPerSecond,
		Burst:             cfg.Retry.Burst,
		Stream: eventstream.Options{
			Capacity:    cfg.Stream.Capacity,
			IdleTimeout: cfg.Stream.IdleTimeout,
		},
		Publisher: pub,
		Logger:    log,
	})
}
