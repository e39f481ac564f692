package usage

import (
	"context"
	"log/slog"

	"codex-stream/internal/domain"
)

// Subscriber is the part of the lifecycle bus the recorder needs.
type Subscriber interface {
	Subscribe(t domain.LifecycleType, handler domain.LifecycleHandler) func()
}

// Attach records every finished stream published on bus into store. The
// returned func detaches the recorder.
func Attach(bus Subscriber, store domain.UsageStore, logger *slog.Logger) func() {
	return bus.Subscribe(domain.LifecycleStreamFinished, Handler(store, logger))
}

// Handler returns a lifecycle handler that writes stream.finished notices to
// store. Write failures are logged and dropped.
func Handler(store domain.UsageStore, logger *slog.Logger) domain.LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev domain.LifecycleEvent) {
		rec, ok := domain.UsageRecordFrom(ev)
		if !ok {
			return
		}
		if err := store.Record(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("usage record failed", "stream_id", ev.StreamID, "error", err)
		}
	}
}
