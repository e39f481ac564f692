package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
	"codex-stream/internal/usecase/eventstream"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerClient wraps a Streamer with a circuit breaker. Once the
// endpoint failed MaxFailures times in a row, Stream fails fast with
// domain.ErrCircuitOpen until the breaker lets a probe through.
//
// Only opening a stream is guarded. Failures delivered through an already
// returned EventStream do not count.
type CircuitBreakerClient struct {
	inner   Streamer
	breaker *gobreaker.CircuitBreaker[*eventstream.EventStream]
}

// NewCircuitBreakerClient wraps inner. Zero fields of cfg take defaults;
// cfg.Enabled is not consulted.
func NewCircuitBreakerClient(inner Streamer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*eventstream.EventStream](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: countsAsSuccess,
	})

	return &CircuitBreakerClient{inner: inner, breaker: cb}
}

// countsAsSuccess keeps caller-side failures from tripping the breaker: an
// invalid prompt or a cancelled context says nothing about the endpoint.
func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAborted) ||
		errors.Is(err, context.Canceled)
}

// Stream implements Streamer.
func (c *CircuitBreakerClient) Stream(ctx context.Context, p domain.Prompt) (*eventstream.EventStream, error) {
	s, err := c.breaker.Execute(func() (*eventstream.EventStream, error) {
		return c.inner.Stream(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider %q: %w: %w", c.inner.Name(), domain.ErrCircuitOpen, err)
	}
	return s, err
}

// Name implements Streamer.
func (c *CircuitBreakerClient) Name() string { return c.inner.Name() }

// State returns the current breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker's request counters for the current generation.
func (c *CircuitBreakerClient) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

var _ Streamer = (*CircuitBreakerClient)(nil)

// --- Connection Pooling ---

// Default connection pool settings: few hosts, long-lived streaming connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
	defaultConnTimeout         = 30 * time.Second
	defaultRespTimeout         = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
// respTimeout bounds the wait for response headers only; the streamed body
// is governed by the EventStream idle timeout.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client for one provider. It sets no overall
// Timeout: http.Client.Timeout would also cut off a long-running stream body.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}
