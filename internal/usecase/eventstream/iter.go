package eventstream

import (
	"context"
	"errors"
	"io"
	"iter"

	"codex-stream/internal/domain"
)

// All ranges over the stream:
//
//	for ev, err := range s.All(ctx) {
//		if err != nil {
//			return err
//		}
//		...
//	}
//
// A terminal error is yielded once, with a nil event. Completion ends the
// sequence without an error. Breaking out of the loop leaves the stream as it is;
// call Abort to release the producer.
func (s *EventStream) All(ctx context.Context) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice. Events read before a failure are
// returned together with the error.
func (s *EventStream) Collect(ctx context.Context) ([]domain.Event, error) {
	var out []domain.Event
	for ev, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Take reads at most n events. Fewer are returned when the stream completes first.
func (s *EventStream) Take(ctx context.Context, n int) ([]domain.Event, error) {
	out := make([]domain.Event, 0, max(n, 0))
	if n <= 0 {
		return out, nil
	}
	for ev, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// Filter yields only the events for which keep returns true. Errors pass through.
func (s *EventStream) Filter(ctx context.Context, keep func(domain.Event) bool) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		for ev, err := range s.All(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if keep(ev) && !yield(ev, nil) {
				return
			}
		}
	}
}

// Map yields fn(ev) for every event of s. Errors pass through with the zero T.
func Map[T any](ctx context.Context, s *EventStream, fn func(domain.Event) T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for ev, err := range s.All(ctx) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(fn(ev), nil) {
				return
			}
		}
	}
}

// Text concatenates all OutputTextDelta events and returns the final
// Completed event. It fails if the stream fails.
func Text(ctx context.Context, s *EventStream) (string, *domain.Completed, error) {
	var (
		text      []byte
		completed *domain.Completed
	)
	for ev, err := range s.All(ctx) {
		if err != nil {
			return string(text), nil, err
		}
		switch e := ev.(type) {
		case domain.OutputTextDelta:
			text = append(text, e.Delta...)
		case domain.Completed:
			completed = &e
		}
	}
	return string(text), completed, nil
}
