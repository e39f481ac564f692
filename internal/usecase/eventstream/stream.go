// Package eventstream implements the bounded single-producer/single-consumer
// channel that carries domain events from the HTTP read loop to the caller.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"codex-stream/internal/domain"
)

// Default stream settings.
const (
	DefaultCapacity    = 1024
	DefaultIdleTimeout = 300 * time.Second
)

// ErrClosed is returned to a producer that enqueues after Complete or Error.
var ErrClosed = errors.New("event stream closed")

// State is the lifecycle state of an EventStream.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateErrored
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures an EventStream. Zero values select the defaults.
type Options struct {
	// Capacity bounds the number of undelivered events.
	Capacity int
	// IdleTimeout bounds how long Next waits for the next event. Negative disables it.
	IdleTimeout time.Duration
}

// EventStream is a bounded queue of domain events with one writer and one reader.
// The writer uses AddEvent/AddEvents/Send and finishes with exactly one of
// Complete, Error or Abort. The reader pulls with Next or ranges over All.
type EventStream struct {
	mu          sync.Mutex
	queue       []domain.Event
	head        int
	capacity    int
	idleTimeout time.Duration
	state       State
	err         error
	abortHooks  []func()

	ready chan struct{} // wakes a waiting reader
	space chan struct{} // wakes a writer waiting for capacity
	done  chan struct{} // closed on the first terminal transition
}

// New creates an empty stream in the idle state.
func New(opts Options) *EventStream {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	idle := opts.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	return &EventStream{
		queue:       make([]domain.Event, 0, min(capacity, 64)),
		capacity:    capacity,
		idleTimeout: idle,
		ready:       make(chan struct{}, 1),
		space:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// FromEvents returns a completed stream that yields es in order.
func FromEvents(es ...domain.Event) *EventStream {
	s := New(Options{Capacity: max(len(es), 1)})
	_ = s.AddEvents(es)
	s.Complete()
	return s
}

// FromError returns a stream whose first read fails with err.
func FromError(err error) *EventStream {
	s := New(Options{Capacity: 1})
	s.Error(err)
	return s
}

// --- producer side ---

// AddEvent enqueues one event. It fails with domain.ErrBackpressure when the
// buffer is full; the producer is reading faster than the consumer drains.
func (s *EventStream) AddEvent(e domain.Event) error {
	return s.AddEvents([]domain.Event{e})
}

// AddEvents enqueues es atomically: either all fit or none are added.
func (s *EventStream) AddEvents(es []domain.Event) error {
	if len(es) == 0 {
		return nil
	}

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if pending := len(s.queue) - s.head; pending+len(es) > s.capacity {
		s.mu.Unlock()
		return domain.NewDomainError("EventStream.AddEvents", domain.ErrBackpressure,
			fmt.Sprintf("%d pending + %d new exceeds capacity %d", pending, len(es), s.capacity))
	}
	if s.head > 0 && len(s.queue)+len(es) > cap(s.queue) {
		n := copy(s.queue, s.queue[s.head:])
		clear(s.queue[n:])
		s.queue = s.queue[:n]
		s.head = 0
	}
	s.queue = append(s.queue, es...)
	s.state = StateStreaming
	s.mu.Unlock()

	signal(s.ready)
	return nil
}

// Send enqueues e, waiting for buffer space instead of failing with
// backpressure. It returns early when ctx is done or the stream is terminated.
func (s *EventStream) Send(ctx context.Context, e domain.Event) error {
	for {
		err := s.AddEvent(e)
		if !errors.Is(err, domain.ErrBackpressure) {
			return err
		}
		select {
		case <-s.space:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Complete marks that no more events will arrive. Buffered events are still delivered.
func (s *EventStream) Complete() {
	s.finish(StateCompleted, nil)
}

// Error terminates the stream with err. The reader receives buffered events
// first, then err.
func (s *EventStream) Error(err error) {
	if err == nil {
		err = errors.New("event stream failed")
	}
	s.finish(StateErrored, err)
}

// Abort cancels the stream. Buffered events are discarded and the reader gets
// domain.ErrAborted on its next step. Abort after Error is a no-op, and
// repeated calls have the same effect as one.
func (s *EventStream) Abort() {
	s.mu.Lock()
	if s.state == StateAborted || s.state == StateErrored {
		s.mu.Unlock()
		return
	}
	first := !s.terminalLocked()
	s.state = StateAborted
	s.err = domain.ErrAborted
	s.queue = nil
	s.head = 0
	hooks := s.abortHooks
	s.abortHooks = nil
	s.mu.Unlock()

	if first {
		close(s.done)
	}
	signal(s.ready)
	signal(s.space)
	for _, fn := range hooks {
		fn()
	}
}

// OnAbort registers fn to run when the stream is aborted or times out, so
// the producer can stop reading. If that already happened fn runs immediately.
func (s *EventStream) OnAbort(fn func()) {
	s.mu.Lock()
	if s.state == StateAborted || (s.state == StateErrored && errors.Is(s.err, domain.ErrIdleTimeout)) {
		s.mu.Unlock()
		fn()
		return
	}
	s.abortHooks = append(s.abortHooks, fn)
	s.mu.Unlock()
}

// Done is closed once the stream reached a terminal state.
func (s *EventStream) Done() <-chan struct{} { return s.done }

func (s *EventStream) finish(state State, err error) {
	s.mu.Lock()
	if s.terminalLocked() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	s.mu.Unlock()

	close(s.done)
	signal(s.ready)
	signal(s.space)
}

func (s *EventStream) writableLocked() error {
	switch s.state {
	case StateAborted:
		return domain.ErrAborted
	case StateCompleted, StateErrored:
		return ErrClosed
	}
	return nil
}

func (s *EventStream) terminalLocked() bool {
	return s.state == StateCompleted || s.state == StateErrored || s.state == StateAborted
}

// --- consumer side ---

// Next returns the next event. It returns io.EOF once a completed stream is
// drained, the stored error after Error, and domain.ErrAborted after Abort.
// When nothing is buffered it waits for at most the idle timeout; expiry
// fails the stream with domain.ErrIdleTimeout and stops the producer.
// Cancelling ctx aborts the stream.
func (s *EventStream) Next(ctx context.Context) (domain.Event, error) {
	var timeout <-chan time.Time
	for {
		ev, ok, err := s.pop()
		if ok {
			return ev, err
		}

		if timeout == nil && s.idleTimeout > 0 {
			t := time.NewTimer(s.idleTimeout)
			defer t.Stop()
			timeout = t.C
		}

		select {
		case <-s.ready:
		case <-timeout:
			if expired, err := s.expire(); expired {
				return nil, err
			}
			// Something arrived while the timer fired; the next pop succeeds.
		case <-ctx.Done():
			s.Abort()
			return nil, fmt.Errorf("%w: %w", domain.ErrAborted, ctx.Err())
		}
	}
}

// pop takes the next event or terminal result. ok is false when the reader has to wait.
func (s *EventStream) pop() (domain.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAborted {
		return nil, true, s.err
	}
	if s.head < len(s.queue) {
		ev := s.queue[s.head]
		s.queue[s.head] = nil
		s.head++
		if s.head == len(s.queue) {
			s.queue = s.queue[:0]
			s.head = 0
		}
		signal(s.space)
		return ev, true, nil
	}
	switch s.state {
	case StateCompleted:
		return nil, true, io.EOF
	case StateErrored:
		return nil, true, s.err
	}
	return nil, false, nil
}

// expire fails an idle stream with domain.ErrIdleTimeout. It reports false
// when an event or terminal transition raced the timer.
func (s *EventStream) expire() (bool, error) {
	s.mu.Lock()
	if s.terminalLocked() || s.head < len(s.queue) {
		s.mu.Unlock()
		return false, nil
	}
	err := domain.NewDomainError("EventStream.Next", domain.ErrIdleTimeout,
		fmt.Sprintf("no event within %s", s.idleTimeout))
	s.state = StateErrored
	s.err = err
	hooks := s.abortHooks
	s.abortHooks = nil
	s.mu.Unlock()

	close(s.done)
	signal(s.space)
	for _, fn := range hooks {
		fn()
	}
	return true, err
}

// State returns the current lifecycle state.
func (s *EventStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len returns the number of buffered, undelivered events.
func (s *EventStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) - s.head
}

// Capacity returns the buffer bound.
func (s *EventStream) Capacity() int { return s.capacity }

// Err returns the terminal error, or nil while streaming or after Complete.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// signal performs a non-blocking wake-up on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
