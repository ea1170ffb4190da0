package fal

import (
	"errors"
	"fmt"
	"strings"

	"tryon/internal/services"
)

// User-facing failure messages.
const (
	MessageUnexpectedFormat = "Unexpected response format from AI service"
	MessageTimeout          = "Request timeout"
	MessageNoResponse       = "No response from server"
	MessageUnknown          = "An unknown error occurred"
)

// Error is a classified fal.ai failure. Message is safe to return to clients.
type Error struct {
	Op         string
	Message    string
	StatusCode int
	Marker     error
	Err        error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("fal %s: %s", e.Op, e.Message)
}

// Unwrap exposes both the services marker and the transport cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// UserMessage returns the client-safe message carried by err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var falErr *Error
	if errors.As(err, &falErr) && strings.TrimSpace(falErr.Message) != "" {
		return falErr.Message
	}
	if errors.Is(err, services.ErrTimeout) {
		return MessageTimeout
	}
	return MessageUnknown
}

func apiError(op string, status int, body string, cause error) *Error {
	return &Error{
		Op:         op,
		Message:    fmt.Sprintf("API Error: %d - %s", status, strings.TrimSpace(body)),
		StatusCode: status,
		Marker:     services.ErrExternalService,
		Err:        cause,
	}
}

func formatError(op string, cause error) *Error {
	return &Error{Op: op, Message: MessageUnexpectedFormat, Marker: services.ErrExternalService, Err: cause}
}

func timeoutError(op string, cause error) *Error {
	return &Error{Op: op, Message: MessageTimeout, Marker: services.ErrTimeout, Err: cause}
}

func noResponseError(op string, cause error) *Error {
	return &Error{Op: op, Message: MessageNoResponse, Marker: services.ErrTransient, Err: cause}
}

func configError(op, message string) *Error {
	return &Error{Op: op, Message: message, Marker: services.ErrConfiguration}
}
