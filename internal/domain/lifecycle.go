package domain

import (
	"context"
	"time"
)

// LifecycleType identifies a client lifecycle notice.
type LifecycleType string

const (
	// LifecycleStreamStarted is published when an attempt got a 2xx answer
	// and its event stream was handed to the caller.
	LifecycleStreamStarted LifecycleType = "stream.started"
	// LifecycleAttemptFailed is published for every failed attempt that will be retried.
	LifecycleAttemptFailed LifecycleType = "attempt.failed"
	// LifecycleStreamFinished is published once the stream reached a terminal state.
	LifecycleStreamFinished LifecycleType = "stream.finished"
)

// LifecycleEvent is a notice about one Stream call, for observers such as
// usage recorders. It is separate from the Event values the caller consumes.
type LifecycleEvent struct {
	Type     LifecycleType
	Provider string
	Model    string
	StreamID string
	Attempt  int
	// Delay is the wait before the next attempt (AttemptFailed only).
	Delay time.Duration
	// Err is the attempt error, or the terminal stream error (nil on success).
	Err        error
	Completed  *Completed
	RateLimits *RateLimitSnapshot
	Timestamp  time.Time
}

// LifecycleHandler processes a lifecycle notice.
type LifecycleHandler func(ctx context.Context, ev LifecycleEvent)

// LifecyclePublisher receives lifecycle notices. Publish must not block the caller.
type LifecyclePublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent)
}
