// Package eventbus fans out stream lifecycle notices to in-process observers.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"codex-stream/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.LifecycleHandler
}

// Bus is an in-process, goroutine-safe publisher of lifecycle events.
// It implements domain.LifecyclePublisher.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.LifecycleType][]subscription
	allSubs []subscription
	closed  bool
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ domain.LifecyclePublisher = (*Bus)(nil)

// New creates a bus. A nil logger selects slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[domain.LifecycleType][]subscription),
		logger: logger,
	}
}

// Publish hands ev to every handler subscribed to its type and to every
// catch-all handler. Each handler runs in its own goroutine so a slow
// observer never stalls the stream; panics are recovered and logged.
// Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, ev domain.LifecycleEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("lifecycle event dropped after close", "type", string(ev.Type), "stream_id", ev.StreamID)
		return
	}
	subs := make([]subscription, 0, len(b.typed[ev.Type])+len(b.allSubs))
	subs = append(subs, b.typed[ev.Type]...)
	subs = append(subs, b.allSubs...)
	// Counted under the lock so Close cannot start waiting in between.
	b.wg.Add(len(subs))
	b.mu.RUnlock()

	for _, sub := range subs {
		go b.run(ctx, ev, sub)
	}
}

func (b *Bus) run(ctx context.Context, ev domain.LifecycleEvent, sub subscription) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("lifecycle handler panicked",
				"type", string(ev.Type),
				"stream_id", ev.StreamID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, ev)
}

// Subscribe registers handler for one lifecycle type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(t domain.LifecycleType, handler domain.LifecycleHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.typed[t] = append(b.typed[t], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[t] = slices.DeleteFunc(b.typed[t], func(s subscription) bool { return s.id == id })
	}
}

// SubscribeAll registers handler for every lifecycle type.
func (b *Bus) SubscribeAll(handler domain.LifecycleHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = slices.DeleteFunc(b.allSubs, func(s subscription) bool { return s.id == id })
	}
}

// Close stops accepting events and waits for running handlers. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
