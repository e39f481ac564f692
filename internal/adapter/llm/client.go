package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"codex-stream/internal/domain"
	"codex-stream/internal/infra/config"
	"codex-stream/internal/infra/tracer"
	"codex-stream/internal/usecase/eventstream"
)

// Streamer starts a streamed model response for a prompt.
type Streamer interface {
	Stream(ctx context.Context, p domain.Prompt) (*eventstream.EventStream, error)
	Name() string
}

// Default client settings.
const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultAttemptTimeout = 60 * time.Second
	defaultProviderName   = "openai"
)

// Options configures a Client.
type Options struct {
	// Name identifies the client in logs, spans and the registry.
	Name    string
	BaseURL string
	Model   string
	// Instructions are sent unless the prompt overrides them.
	Instructions      string
	Include           []string
	ParallelToolCalls bool
	ReasoningEffort   string
	ReasoningSummary  string

	Auth       domain.AuthProvider
	HTTPClient *http.Client

	Retry RetryPolicy
	// AttemptTimeout bounds the wait for response headers of one attempt.
	// Negative disables it.
	AttemptTimeout time.Duration
	// RequestsPerSecond paces attempts on the client side. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	Stream eventstream.Options

	// SessionID is sent as the session_id header and prompt_cache_key. A new
	// ULID is generated when empty.
	SessionID string
	Publisher domain.LifecyclePublisher
	Logger    *slog.Logger
}

// Client streams model responses from an OpenAI Responses-compatible endpoint.
// It is safe for concurrent use; every Stream call gets its own EventStream.
type Client struct {
	opts      Options
	url       string
	retry     RetryPolicy
	limiter   *rate.Limiter
	sessionID string
	limits    RateLimitTracker
	logger    *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	now    func() time.Time
}

// NewClient creates a Client. Unset options take their defaults.
func NewClient(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = defaultProviderName
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: NewPooledTransport(0, 0, config.PoolConfig{})}
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = newID()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}

	return &Client{
		opts:      opts,
		url:       baseURL + "/responses",
		retry:     opts.Retry.normalized(),
		limiter:   limiter,
		sessionID: sessionID,
		logger:    logger.With("provider", opts.Name),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Name implements Streamer.
func (c *Client) Name() string { return c.opts.Name }

// SessionID returns the session identifier sent with every request.
func (c *Client) SessionID() string { return c.sessionID }

// RateLimits returns the latest quota snapshot seen by this client.
func (c *Client) RateLimits() (domain.RateLimitSnapshot, time.Time, bool) {
	return c.limits.Latest()
}

// Stream sends p and returns the event stream as soon as the server accepted
// the request. ctx governs the whole stream: cancelling it stops the HTTP read
// and aborts the stream.
//
// Before a stream exists, failed attempts are retried per the retry policy:
// 429 honours Retry-After, 5xx, 408, network errors and attempt timeouts back
// off exponentially with jitter. 401/403 and other 4xx fail at once. Failures
// after the stream was returned are delivered through it.
func (c *Client) Stream(ctx context.Context, p domain.Prompt) (*eventstream.EventStream, error) {
	streamID := newID()
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.opts.Name),
			tracer.StringAttr("llm.model", c.opts.Model),
			tracer.StringAttr("llm.stream_id", streamID),
		),
	)

	if err := validatePrompt(p); err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	body, err := json.Marshal(buildRequest(p, c.opts, c.sessionID))
	if err != nil {
		err = domain.NewDomainError("Client.Stream", domain.ErrInvalidInput, fmt.Sprintf("marshal request: %v", err))
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	var lastErr error
	maxAttempts := c.retry.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.aborted(span, err)
			}
		}

		span.AddEvent("llm.attempt", trace.WithAttributes(tracer.IntAttr("llm.attempt", attempt)))
		resp, cancel, err := c.attempt(ctx, body)
		if err == nil {
			s := c.startStream(ctx, cancel, span, streamID, resp, attempt)
			return s, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, c.aborted(span, ctx.Err())
		}
		if !domain.IsRetryableError(err) || attempt == maxAttempts {
			break
		}

		delay := c.retryDelay(attempt, err)
		span.AddEvent("llm.retry", trace.WithAttributes(
			tracer.IntAttr("llm.attempt", attempt),
			tracer.DurationAttr("llm.retry_delay_ms", delay),
			tracer.StringAttr("llm.error", err.Error()),
		))
		c.logger.Warn("llm attempt failed, retrying",
			"stream_id", streamID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		c.publish(ctx, domain.LifecycleEvent{
			Type:     domain.LifecycleAttemptFailed,
			StreamID: streamID,
			Attempt:  attempt,
			Delay:    delay,
			Err:      err,
		})
		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.aborted(span, err)
		}
	}

	tracer.RecordError(span, lastErr)
	span.End()
	return nil, lastErr
}

// attempt performs one POST. On success the returned cancel func releases the
// request context and must be called once the body was consumed.
func (c *Client) attempt(ctx context.Context, body []byte) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	var timer *time.Timer
	if c.opts.AttemptTimeout > 0 {
		timer = time.AfterFunc(c.opts.AttemptTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	resp, err := doStreamRequest(reqCtx, c.opts.HTTPClient, c.url, body, c.headers())
	if timer != nil && !timer.Stop() && timedOut.Load() {
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		return nil, nil, domain.NewDomainError("Client.Stream", domain.ErrAttemptTimeout,
			fmt.Sprintf("no response within %s", c.opts.AttemptTimeout))
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{
		"OpenAI-Beta": "responses=experimental",
		"session_id":  c.sessionID,
	}
	if c.opts.Auth != nil {
		if v, ok := c.opts.Auth.AuthHeader(); ok {
			headers["Authorization"] = v
		}
	}
	return headers
}

// retryDelay honours a server-provided Retry-After and falls back to jittered backoff.
func (c *Client) retryDelay(attempt int, err error) time.Duration {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.HasRetryAfter {
		return apiErr.RetryAfter
	}
	if c.jitter != nil {
		return c.retry.jittered(c.retry.Backoff(attempt), c.jitter)
	}
	return c.retry.Delay(attempt)
}

func (c *Client) aborted(span trace.Span, cause error) error {
	err := fmt.Errorf("%w: %w", domain.ErrAborted, cause)
	tracer.RecordError(span, err)
	span.End()
	return err
}

// startStream creates the EventStream for an accepted response and starts
// the goroutine that pumps the body into it.
func (c *Client) startStream(ctx context.Context, cancel context.CancelFunc, span trace.Span, streamID string, resp *http.Response, attempt int) *eventstream.EventStream {
	s := eventstream.New(c.opts.Stream)
	s.OnAbort(cancel)

	snap := c.limits.Observe(resp.Header)
	var limits *domain.RateLimitSnapshot
	if !snap.IsEmpty() {
		limits = &snap
		setRateLimitAttrs(span, snap)
		if err := s.AddEvent(domain.RateLimits{Snapshot: snap}); err != nil {
			c.logger.Debug("rate limits not queued", "stream_id", streamID, "error", err)
		}
	}

	c.logger.Debug("llm stream started", "stream_id", streamID, "attempt", attempt, "status", resp.StatusCode)
	c.publish(ctx, domain.LifecycleEvent{
		Type:       domain.LifecycleStreamStarted,
		StreamID:   streamID,
		Attempt:    attempt,
		RateLimits: limits,
	})

	go c.pump(ctx, cancel, span, streamID, resp.Body, s, limits)
	return s
}

// pump owns the response body until the stream is finished. The
// stream.finished notice is published before the terminal transition, so an
// observer that closes the publisher once the consumer saw the end never
// misses it.
func (c *Client) pump(ctx context.Context, cancel context.CancelFunc, span trace.Span, streamID string, body io.ReadCloser, s *eventstream.EventStream, limits *domain.RateLimitSnapshot) {
	defer span.End()
	defer cancel()
	defer body.Close()

	parser := NewParser(c.logger)
	events, err := readSSE(ctx, body, parser, s)

	var (
		completed *domain.Completed
		outcome   error
		abort     bool
	)
	switch {
	case err == nil:
		done, ok := parser.Completion()
		if !ok {
			outcome = &domain.ProtocolError{Message: "stream closed before response.completed"}
			break
		}
		if err := s.Send(ctx, done); err != nil {
			outcome, abort = err, ctx.Err() != nil
			break
		}
		completed = &done
		events++
	case ctx.Err() != nil || errors.Is(err, domain.ErrAborted):
		outcome, abort = domain.ErrAborted, true
	default:
		outcome = err
	}

	// The stream may also have ended on its own (idle timeout, consumer abort).
	finalErr := s.Err()
	if finalErr == nil {
		finalErr = outcome
	}
	if finalErr != nil {
		completed = nil
	}

	c.publish(context.WithoutCancel(ctx), domain.LifecycleEvent{
		Type:       domain.LifecycleStreamFinished,
		StreamID:   streamID,
		Err:        finalErr,
		Completed:  completed,
		RateLimits: limits,
	})

	switch {
	case completed != nil:
		s.Complete()
		logStreamFinished(c.logger, streamID, *completed, events)
		setUsageAttrs(span, completed.TokenUsage)
		tracer.SetOK(span)
		return
	case abort:
		s.Abort()
	default:
		s.Error(outcome)
	}
	tracer.RecordError(span, finalErr)
	c.logger.Debug("llm stream ended with error", "stream_id", streamID, "events", events, "error", finalErr)
}

func (c *Client) publish(ctx context.Context, ev domain.LifecycleEvent) {
	if c.opts.Publisher == nil {
		return
	}
	ev.Provider = c.opts.Name
	ev.Model = c.opts.Model
	ev.Timestamp = c.now()
	c.opts.Publisher.Publish(ctx, ev)
}

// newID returns a new ULID string.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Compile-time interface check.
var _ Streamer = (*Client)(nil)
