package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codex-stream/internal/domain"
	"codex-stream/internal/usecase/eventstream"
)

var _ Streamer = (*FailoverStreamer)(nil)

// FailoverStreamer opens the stream on the primary and, when that fails,
// on each fallback in order. Once a stream was returned it is never switched:
// failures after that point arrive through the EventStream.
type FailoverStreamer struct {
	primary   Streamer
	fallbacks []Streamer
	logger    *slog.Logger
}

// NewFailoverStreamer creates a failover-capable Streamer.
func NewFailoverStreamer(primary Streamer, fallbacks []Streamer, logger *slog.Logger) *FailoverStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverStreamer{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Stream implements Streamer. Invalid prompts and cancelled contexts are
// returned at once; every other failure moves on to the next provider. When
// all providers fail the result joins every provider's error.
func (f *FailoverStreamer) Stream(ctx context.Context, p domain.Prompt) (*eventstream.EventStream, error) {
	var errs []error
	for i, s := range append([]Streamer{f.primary}, f.fallbacks...) {
		stream, err := s.Stream(ctx, p)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "provider", s.Name())
			}
			return stream, nil
		}
		if errors.Is(err, domain.ErrInvalidInput) || ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn("llm provider failed", "provider", s.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name returns a composite name.
func (f *FailoverStreamer) Name() string {
	return f.primary.Name() + "+failover"
}
