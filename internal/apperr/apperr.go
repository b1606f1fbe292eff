// Package apperr carries the error taxonomy shared by the pipeline and
// the HTTP layer: client errors render as 4xx with their message, server
// errors as 5xx with a generic description.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain codes carried alongside HTTP status for errors the reference
// clients dispatch on.
const (
	CodeInvalidToken = 10001
)

// ClientError is a request the service refuses: malformed input, quota,
// filtered extension, name collision, rate limit. The message is safe to
// show to the client.
type ClientError struct {
	Message string
	Status  int // HTTP status, default 400
	Code    int // optional domain code
}

func (e *ClientError) Error() string {
	return e.Message
}

// Clientf builds a ClientError with a formatted message.
func Clientf(format string, args ...any) *ClientError {
	return &ClientError{Message: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

// ClientStatusf builds a ClientError with an explicit HTTP status.
func ClientStatusf(status int, format string, args ...any) *ClientError {
	return &ClientError{Message: fmt.Sprintf(format, args...), Status: status}
}

// AsClient extracts a ClientError from an error chain.
func AsClient(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ServerError is an internal failure with a client-safe description.
// Quiet suppresses stack-level logging when the cause is well understood
// (identifier exhaustion, scanner down).
type ServerError struct {
	Message string
	Quiet   bool
	Err     error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// Serverf wraps err as a ServerError with a client-safe description.
func Serverf(err error, format string, args ...any) *ServerError {
	return &ServerError{Message: fmt.Sprintf(format, args...), Err: err}
}

// AsServer extracts a ServerError from an error chain.
func AsServer(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
