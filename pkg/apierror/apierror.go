// Package apierror defines the structured error envelope returned to
// clients, with a closed code set mapping 1-1 to HTTP-like statuses.
package apierror

import (
	"net/http"
	"time"
)

// Code identifies an error class. The set is closed: callers must not
// invent new codes.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeTenantMismatch     Code = "TENANT_MISMATCH"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeExternalService    Code = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeInvalidInput:       http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeInvalidState:       http.StatusConflict,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	CodeTenantMismatch:     http.StatusForbidden,
	CodeInternal:           http.StatusInternalServerError,
	CodeExternalService:    http.StatusBadGateway,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatus returns the status a code maps to. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Detail is the error payload inside an Envelope.
type Detail struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Meta carries request correlation facts.
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Trace carries the distributed trace reference.
type Trace struct {
	TraceID string `json:"trace_id"`
}

// Envelope is the wire shape of every error response.
type Envelope struct {
	Success bool   `json:"success"`
	Err     Detail `json:"error"`
	Meta    Meta   `json:"meta"`
	Trace   *Trace `json:"trace,omitempty"`
}

// Error implements the error interface.
func (e *Envelope) Error() string {
	return string(e.Err.Code) + ": " + e.Err.Message
}

// New builds an envelope for the given code.
func New(code Code, message, requestID string, now time.Time) *Envelope {
	return &Envelope{
		Success: false,
		Err:     Detail{Code: code, Message: message},
		Meta:    Meta{RequestID: requestID, Timestamp: now},
	}
}

// WithDetails attaches structured details and returns the envelope.
func (e *Envelope) WithDetails(details any) *Envelope {
	e.Err.Details = details
	return e
}

// WithRetryAfter sets the retry hint in seconds and returns the envelope.
func (e *Envelope) WithRetryAfter(seconds int) *Envelope {
	e.Err.RetryAfter = seconds
	return e
}

// WithTrace attaches the trace reference and returns the envelope.
func (e *Envelope) WithTrace(traceID string) *Envelope {
	if traceID != "" {
		e.Trace = &Trace{TraceID: traceID}
	}
	return e
}
