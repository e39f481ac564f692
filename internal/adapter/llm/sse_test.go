package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-stream/internal/domain"
	"codex-stream/internal/usecase/eventstream"
)

func readAll(t *testing.T, body string) ([]domain.Event, *Parser, error) {
	t.Helper()
	s := eventstream.New(eventstream.Options{Capacity: 64})
	p := NewParser(nil)
	n, err := readSSE(context.Background(), strings.NewReader(body), p, s)
	if err == nil {
		s.Complete()
	} else {
		s.Error(err)
	}
	events, _ := s.Collect(context.Background())
	assert.Equal(t, n, len(events))
	return events, p, err
}

func TestReadSSEBasic(t *testing.T) {
	body := "data: {\"type\":\"response.created\"}\n\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hi\"}\n\n" +
		"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"r1\"}}\n\n"

	events, p, err := readAll(t, body)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{domain.Created{}, domain.OutputTextDelta{Delta: "Hi"}}, events)

	done, ok := p.Completion()
	require.True(t, ok)
	assert.Equal(t, "r1", done.ResponseID)
}

func TestReadSSESkipsNonDataLines(t *testing.T) {
	body := ": keep-alive\n" +
		"event: response.output_text.delta\n" +
		"id: 7\n" +
		"retry: 1000\n" +
		"data:{\"type\":\"response.output_text.delta\",\"delta\":\"ok\"}\n\n"

	events, _, err := readAll(t, body)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{domain.OutputTextDelta{Delta: "ok"}}, events)
}

func TestReadSSEDoneSentinel(t *testing.T) {
	body := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"a\"}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"b\"}\n\n"

	events, _, err := readAll(t, body)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{domain.OutputTextDelta{Delta: "a"}}, events, "nothing is read after [DONE]")
}

func TestReadSSEMalformedLineContinues(t *testing.T) {
	body := "data: {not json\n\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"after\"}\n\n"

	events, _, err := readAll(t, body)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{domain.OutputTextDelta{Delta: "after"}}, events)
}

func TestReadSSEFailedEvent(t *testing.T) {
	body := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"partial\"}\n\n" +
		"data: {\"type\":\"response.failed\",\"response\":{\"error\":{\"message\":\"boom\"}}}\n\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"never\"}\n\n"

	events, _, err := readAll(t, body)
	require.ErrorIs(t, err, domain.ErrProtocol)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []domain.Event{domain.OutputTextDelta{Delta: "partial"}}, events)
}

func TestReadSSECRLF(t *testing.T) {
	body := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"x\"}\r\n\r\n"

	events, _, err := readAll(t, body)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{domain.OutputTextDelta{Delta: "x"}}, events)
}

// chunkReader returns its input a few bytes at a time.
type chunkReader struct {
	data  string
	chunk int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, io.EOF
	}
	n := min(r.chunk, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestReadSSEReassemblesSplitLines(t *testing.T) {
	body := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"split across reads\"}\n\n"
	s := eventstream.New(eventstream.Options{Capacity: 4})

	n, err := readSSE(context.Background(), &chunkReader{data: body, chunk: 3}, NewParser(nil), s)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutputTextDelta{Delta: "split across reads"}, ev)
}

func TestReadSSELineTooLong(t *testing.T) {
	body := "data: " + strings.Repeat("x", sseMaxLine+1) + "\n"

	_, _, err := readAll(t, body)
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "exceeds")
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestReadSSEReadError(t *testing.T) {
	boom := errors.New("connection reset")
	s := eventstream.New(eventstream.Options{})
	_, err := readSSE(context.Background(), failingReader{boom}, NewParser(nil), s)
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, boom)
}

func TestReadSSEBlocksOnFullBuffer(t *testing.T) {
	var body strings.Builder
	for range 5 {
		body.WriteString("data: {\"type\":\"response.output_text.delta\",\"delta\":\"d\"}\n\n")
	}
	s := eventstream.New(eventstream.Options{Capacity: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := readSSE(ctx, strings.NewReader(body.String()), NewParser(nil), s)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, n, "the reader waits for the consumer instead of dropping events")
	assert.Equal(t, 2, s.Len())
}
