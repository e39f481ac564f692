package domain

import (
	"errors"
	"fmt"
	"time"
)

// Category sentinels.
var (
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
)

// Sentinel errors for the streaming client. Callers match them with errors.Is.
var (
	// Request was rejected before or by the server; never retried.
	ErrAuthInvalid    = fmt.Errorf("authentication failed")
	ErrInvalidRequest = fmt.Errorf("request rejected by server")

	// Transport level failures; retried by the attempt loop.
	ErrRateLimit      = fmt.Errorf("rate limit exceeded")
	ErrServer         = fmt.Errorf("server error")
	ErrTransport      = fmt.Errorf("transport error")
	ErrAttemptTimeout = fmt.Errorf("http attempt: %w", ErrTimeout)

	// Failures delivered through an EventStream after it was returned.
	ErrProtocol     = fmt.Errorf("protocol error")
	ErrIdleTimeout  = fmt.Errorf("stream idle: %w", ErrTimeout)
	ErrAborted      = fmt.Errorf("stream aborted")
	ErrBackpressure = fmt.Errorf("event buffer full")

	// ErrParse marks a malformed SSE payload. It is logged and never surfaced.
	ErrParse = fmt.Errorf("malformed stream payload")

	ErrCircuitOpen      = fmt.Errorf("circuit open")
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrEncryption       = fmt.Errorf("encryption operation failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Client.Stream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// APIError is a non-2xx HTTP answer from the model API.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server-requested delay. It is only meaningful when
	// HasRetryAfter is set; zero then means "retry now".
	RetryAfter    time.Duration
	HasRetryAfter bool
	Err           error
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: API error %d", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Err, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// ProtocolError reports that the server accepted the request but ended the
// logical response abnormally: a response.failed event, or a stream that
// closed without response.completed.
type ProtocolError struct {
	// Code is the error code from response.failed, if any.
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrProtocol, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", ErrProtocol, e.Message)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// IsRetryableError reports whether err is a transient error the attempt loop may retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrAttemptTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeServer           ErrorCode = "SERVER_ERROR"
	CodeTransport        ErrorCode = "TRANSPORT"
	CodeAttemptTimeout   ErrorCode = "ATTEMPT_TIMEOUT"
	CodeProtocol         ErrorCode = "PROTOCOL"
	CodeIdleTimeout      ErrorCode = "IDLE_TIMEOUT"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeAborted          ErrorCode = "ABORTED"
	CodeBackpressure     ErrorCode = "BACKPRESSURE"
	CodeParse            ErrorCode = "PARSE"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
)

// errorCodeOrder lists sentinels from most to least specific. The timeout
// sentinels wrap ErrTimeout, so they have to be checked before it.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrRateLimit, CodeRateLimit},
	{ErrServer, CodeServer},
	{ErrTransport, CodeTransport},
	{ErrAttemptTimeout, CodeAttemptTimeout},
	{ErrProtocol, CodeProtocol},
	{ErrIdleTimeout, CodeIdleTimeout},
	{ErrAborted, CodeAborted},
	{ErrBackpressure, CodeBackpressure},
	{ErrParse, CodeParse},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrEncryption, CodeEncryption},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
