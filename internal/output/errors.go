package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// Error is a structured error with code, message, and optional hint.
// Code carries the error kind; HTTPStatus is set when a response was received.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: campus auth login",
	}
}

func ErrForbidden(msg string) *Error {
	return &Error{
		Code:       CodeForbidden,
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

func ErrRateLimit(retryAfter int) *Error {
	hint := "Try again later"
	if retryAfter > 0 {
		hint = fmt.Sprintf("Try again in %d seconds", retryAfter)
	}
	return &Error{
		Code:       CodeRateLimit,
		Message:    "Too many requests",
		Hint:       hint,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Unable to connect to server",
		Hint:      "Check your internet connection",
		Retryable: true,
		Cause:     cause,
	}
}

func ErrTimeout(cause error) *Error {
	return &Error{
		Code:      CodeTimeout,
		Message:   "Request timed out",
		Retryable: true,
		Cause:     cause,
	}
}

func ErrServer(status int) *Error {
	return &Error{
		Code:       CodeServer,
		Message:    fmt.Sprintf("Server error (%d)", status),
		Hint:       "Please try again later",
		HTTPStatus: status,
		Retryable:  true,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

func ErrInvalidProfile(msg string) *Error {
	return &Error{
		Code:    CodeInvalidProfile,
		Message: msg,
	}
}

func ErrNoRefreshToken() *Error {
	return &Error{
		Code:    CodeNoRefreshToken,
		Message: "No refresh token available",
		Hint:    "Run: campus auth login",
	}
}

func ErrSessionExpired(cause error) *Error {
	return &Error{
		Code:    CodeSessionExpired,
		Message: "Session expired. Please login again.",
		Hint:    "Run: campus auth login",
		Cause:   cause,
	}
}

func ErrStorage(op string, cause error) *Error {
	return &Error{
		Code:    CodeStorage,
		Message: fmt.Sprintf("Failed to %s", op),
		Cause:   cause,
	}
}

// ErrFromStatus maps a non-2xx HTTP status to its error kind. The body is
// consulted for a server-supplied message on statuses without a fixed one.
func ErrFromStatus(status int, body []byte, retryAfter string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		e := ErrAuth("Please log in to continue")
		e.HTTPStatus = status
		return e
	case status == http.StatusForbidden:
		return ErrForbidden("Access denied")
	case status == http.StatusNotFound:
		return ErrNotFound("Resource")
	case status == http.StatusTooManyRequests:
		return ErrRateLimit(parseRetryAfter(retryAfter))
	case status >= 500:
		return ErrServer(status)
	}
	if msg := MessageFromBody(body); msg != "" {
		return ErrAPI(status, msg)
	}
	return ErrAPI(status, fmt.Sprintf("Server error (%d)", status))
}

// MessageFromBody extracts a human-readable message from a JSON error body,
// checking detail, message and error in that order.
func MessageFromBody(body []byte) string {
	var payload struct {
		Detail  any `json:"detail"`
		Message any `json:"message"`
		Error   any `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	for _, v := range []any{payload.Detail, payload.Message, payload.Error} {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsCode reports whether err is an *Error of the given kind.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// parseRetryAfter parses the Retry-After header value.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}

// ErrTransport classifies a failure to obtain any HTTP response. Deadlines
// and transport timeouts map to the timeout kind, everything else to network.
func ErrTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout(err)
	}
	return ErrNetwork(err)
}
