package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Prompt.Validate", ErrInvalidInput, "prompt input is empty")
	want := "Prompt.Validate: prompt input is empty: invalid input"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Client.Stream", ErrAborted, "")
	want := "Client.Stream: stream aborted"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.Get", ErrProviderNotFound, "codex")
	if !errors.Is(err, ErrProviderNotFound) {
		t.Error("errors.Is should match ErrProviderNotFound")
	}
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Registry.Get", de.Op)
	assert.Equal(t, CodeProviderNotFound, de.Code())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("op", ErrServer)
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, "op: server error", err.Error())
}

func TestTimeoutsAreDistinguishable(t *testing.T) {
	assert.ErrorIs(t, ErrIdleTimeout, ErrTimeout)
	assert.ErrorIs(t, ErrAttemptTimeout, ErrTimeout)
	assert.NotErrorIs(t, ErrIdleTimeout, ErrAttemptTimeout)
	assert.NotErrorIs(t, ErrAttemptTimeout, ErrIdleTimeout)

	assert.Equal(t, CodeIdleTimeout, ErrorCodeOf(ErrIdleTimeout))
	assert.Equal(t, CodeAttemptTimeout, ErrorCodeOf(ErrAttemptTimeout))
	assert.Equal(t, CodeTimeout, ErrorCodeOf(ErrTimeout))
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 429, Body: "slow down", RetryAfter: 2 * time.Second, Err: ErrRateLimit}
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(fmt.Errorf("attempt 3: %w", err)))

	var apiErr *APIError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &apiErr))
	assert.Equal(t, 2*time.Second, apiErr.RetryAfter)
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Code: "server_error", Message: "boom"}
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "server_error")
	assert.Equal(t, CodeProtocol, ErrorCodeOf(err))

	noCode := &ProtocolError{Message: "closed early"}
	assert.Equal(t, "protocol error: closed early", noCode.Error())
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		ErrRateLimit,
		ErrServer,
		ErrTransport,
		ErrAttemptTimeout,
		&APIError{StatusCode: 503, Err: ErrServer},
	}
	for _, err := range retryable {
		assert.True(t, IsRetryableError(err), "%v should be retryable", err)
	}

	fatal := []error{
		ErrAuthInvalid,
		ErrInvalidInput,
		ErrInvalidRequest,
		ErrProtocol,
		ErrIdleTimeout,
		ErrAborted,
		&APIError{StatusCode: 401, Err: ErrAuthInvalid},
		errors.New("plain"),
	}
	for _, err := range fatal {
		assert.False(t, IsRetryableError(err), "%v should not be retryable", err)
	}
}

func TestErrorCodeOf(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("something")))
	assert.Equal(t, CodeInvalidInput, ErrorCodeOf(NewDomainError("Prompt.Validate", ErrInvalidInput, "")))
	assert.Equal(t, CodeAborted, ErrorCodeOf(fmt.Errorf("stream: %w", ErrAborted)))
	assert.Equal(t, CodeBackpressure, ErrorCodeOf(ErrBackpressure))
	assert.Equal(t, CodeCircuitOpen, ErrorCodeOf(fmt.Errorf("%w: open", ErrCircuitOpen)))
}
