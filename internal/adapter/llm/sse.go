package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"codex-stream/internal/domain"
	"codex-stream/internal/usecase/eventstream"
)

// SSE line limits. Output items such as long tool arguments arrive as one line.
const (
	sseInitialBuffer = 64 * 1024
	sseMaxLine       = 4 * 1024 * 1024
)

var (
	sseDataField = []byte("data:")
	sseDone      = []byte("[DONE]")
)

// readSSE reads SSE-formatted lines from body, converts each data payload
// through parser and sends the resulting events to s in order. It returns
// the number of events delivered. A nil error means the body ended or the
// [DONE] sentinel arrived; the caller decides how to finish s.
func readSSE(ctx context.Context, body io.Reader, parser *Parser, s *eventstream.EventStream) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxLine)

	delivered := 0
	for scanner.Scan() {
		line := scanner.Bytes()

		// Skip empty lines, comments and other fields (event:, id:, retry:).
		data, ok := bytes.CutPrefix(line, sseDataField)
		if !ok {
			continue
		}
		data = bytes.TrimPrefix(data, []byte(" "))

		if bytes.Equal(data, sseDone) {
			return delivered, nil
		}

		raw, ok := parser.Parse(data)
		if !ok {
			continue
		}
		events, err := parser.ProcessEvent(raw)
		if err != nil {
			return delivered, err
		}
		for _, ev := range events {
			if err := s.Send(ctx, ev); err != nil {
				return delivered, err
			}
			delivered++
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return delivered, &domain.ProtocolError{Message: fmt.Sprintf("sse line exceeds %d bytes", sseMaxLine)}
		}
		return delivered, fmt.Errorf("%w: read sse body: %w", domain.ErrTransport, err)
	}
	return delivered, nil
}
