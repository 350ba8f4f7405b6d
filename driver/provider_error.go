package driver

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies a model-provider failure into a small set of
// categories suitable for retry and surfacing decisions.
type ProviderErrorKind string

const (
	ProviderErrorAuth           ProviderErrorKind = "auth"
	ProviderErrorInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorUnknown        ProviderErrorKind = "unknown"
)

// ModelProviderError describes a failure returned by a model provider
// (Anthropic, OpenAI, Bedrock) or a CLI subprocess acting as one. It
// crosses the driver/agent/scheduler boundary so the scheduler's retry
// classification (via ameliaerr.Transient) can decide without knowing
// provider-specific details.
type ModelProviderError struct {
	Provider  string
	Operation string
	HTTPCode  int
	Kind      ProviderErrorKind
	Code      string
	Message   string
	RequestID string
	retryable bool
	cause     error
}

// NewModelProviderError constructs a ModelProviderError. provider and kind
// are required.
func NewModelProviderError(provider, operation string, httpCode int, kind ProviderErrorKind, code, message, requestID string, retryable bool, cause error) *ModelProviderError {
	if provider == "" {
		panic("driver: provider is required")
	}
	if kind == "" {
		panic("driver: provider error kind is required")
	}
	return &ModelProviderError{
		Provider:  provider,
		Operation: operation,
		HTTPCode:  httpCode,
		Kind:      kind,
		Code:      code,
		Message:   message,
		RequestID: requestID,
		retryable: retryable,
		cause:     cause,
	}
}

// Retryable reports whether retrying the same request may succeed.
func (e *ModelProviderError) Retryable() bool { return e.retryable }

func (e *ModelProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.HTTPCode > 0 {
		status = fmt.Sprintf("%d ", e.HTTPCode)
	}
	code := ""
	if e.Code != "" {
		code = e.Code + ": "
	}
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.Provider, e.Kind, status, op, code+msg)
}

// Unwrap returns the underlying error to preserve the error chain.
func (e *ModelProviderError) Unwrap() error { return e.cause }

// AsModelProviderError returns the first ModelProviderError in err's chain.
func AsModelProviderError(err error) (*ModelProviderError, bool) {
	var pe *ModelProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
