package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"codex-stream/internal/domain"
	"codex-stream/internal/infra/tracer"
)

// maxErrorBody is the maximum error body size we keep from a failed attempt.
const maxErrorBody = 64 * 1024

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
// Non-2xx answers are returned as *domain.APIError and network failures wrap
// domain.ErrTransport.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, httpResp.Header, respBody, time.Now())
	}

	return httpResp, nil
}

// mapHTTPError maps an HTTP status code + response body to a *domain.APIError
// wrapping the matching sentinel, so the attempt loop and the circuit breaker
// can classify it with errors.Is.
func mapHTTPError(statusCode int, header http.Header, body []byte, now time.Time) *domain.APIError {
	apiErr := &domain.APIError{StatusCode: statusCode, Body: string(bytes.TrimSpace(body))}

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		apiErr.Err = domain.ErrRateLimit
		apiErr.RetryAfter, apiErr.HasRetryAfter = ParseRetryAfter(header, body, now)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		apiErr.Err = domain.ErrAuthInvalid
	case statusCode == http.StatusRequestTimeout || statusCode >= 500: // 408, 5xx
		apiErr.Err = domain.ErrServer
	default:
		apiErr.Err = domain.ErrInvalidRequest
	}
	return apiErr
}

// logStreamFinished logs the standard debug message after a stream ended.
func logStreamFinished(logger *slog.Logger, streamID string, done domain.Completed, events int) {
	attrs := []any{
		"stream_id", streamID,
		"response_id", done.ResponseID,
		"events", events,
	}
	if done.TokenUsage != nil {
		attrs = append(attrs, "tokens", done.TokenUsage.TotalTokens)
	}
	logger.Debug("llm stream completed", attrs...)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage *domain.TokenUsage) {
	if usage == nil {
		return
	}
	span.SetAttributes(
		tracer.Int64Attr("llm.input_tokens", usage.InputTokens),
		tracer.Int64Attr("llm.cached_input_tokens", usage.CachedInputTokens),
		tracer.Int64Attr("llm.output_tokens", usage.OutputTokens),
		tracer.Int64Attr("llm.reasoning_output_tokens", usage.ReasoningOutputTokens),
		tracer.Int64Attr("llm.total_tokens", usage.TotalTokens),
	)
}

// setRateLimitAttrs adds the quota snapshot to a trace span.
func setRateLimitAttrs(span trace.Span, snap domain.RateLimitSnapshot) {
	if snap.Primary != nil {
		span.SetAttributes(tracer.Float64Attr("llm.ratelimit.primary_used_percent", snap.Primary.UsedPercent))
	}
	if snap.Secondary != nil {
		span.SetAttributes(tracer.Float64Attr("llm.ratelimit.secondary_used_percent", snap.Secondary.UsedPercent))
	}
}
