// Package apperr defines the error kinds shared by the session broker and
// maps them onto HTTP responses.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ValidationError reports a missing or malformed caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError reports a provider (or other dependency) failure.
// Status is the upstream HTTP status, 0 when no response was received.
type UpstreamError struct {
	Op      string
	Status  int
	Body    []byte
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Detail renders the upstream diagnostics as {"status":N,"data":<body>}.
// Non-JSON bodies are embedded as a string.
func (e *UpstreamError) Detail() string {
	var data any
	if len(e.Body) > 0 {
		if json.Valid(e.Body) {
			data = json.RawMessage(e.Body)
		} else {
			data = string(e.Body)
		}
	}
	out, err := json.Marshal(struct {
		Status int `json:"status"`
		Data   any `json:"data"`
	}{Status: e.Status, Data: data})
	if err != nil {
		return ""
	}
	return string(out)
}

// ConnectTimeout reports a control channel that never reached the open state
// within the readiness window.
type ConnectTimeout struct {
	SessionID string
	After     time.Duration
}

func (e *ConnectTimeout) Error() string {
	return fmt.Sprintf("control channel for session %s did not open within %s", e.SessionID, e.After)
}

// TransportError reports a network-level failure: dial errors, resets,
// timeouts and unreadable bodies. It is the only kind that is retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError that is not
// already surfaced as an UpstreamError.
func IsTransport(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return false
	}
	var transport *TransportError
	return errors.As(err, &transport)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// HTTPStatus maps an error kind to the status code returned to clients.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		upstream   *UpstreamError
		timeout    *ConnectTimeout
		transport  *TransportError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream), errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns upstream diagnostics when err carries them.
func Detail(err error) string {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Detail()
	}
	return ""
}

// Message returns the text shown to clients: the caller-facing message of a
// known kind, or the error string otherwise.
func Message(err error) string {
	var (
		validation *ValidationError
		upstream   *UpstreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Message
	case errors.As(err, &upstream) && upstream.Message != "":
		return upstream.Message
	default:
		return err.Error()
	}
}
