package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure with a client-visible status. Handlers return it to
// produce a 4xx/5xx without it being treated as an unhandled failure.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error. An empty detail falls back to the status text.
func NewError(status int, detail string) *Error {
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &Error{Status: status, Detail: detail}
}

func BadRequest(detail string) *Error   { return NewError(http.StatusBadRequest, detail) }
func Unauthorized(detail string) *Error { return NewError(http.StatusUnauthorized, detail) }
func Forbidden(detail string) *Error    { return NewError(http.StatusForbidden, detail) }
func NotFound(detail string) *Error     { return NewError(http.StatusNotFound, detail) }

// ErrorBody is the structured body of every error response.
type ErrorBody struct {
	Detail    string `json:"detail"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse renders a structured JSON error.
func ErrorResponse(status int, detail, requestID string) *Response {
	if detail == "" {
		detail = http.StatusText(status)
	}
	data, _ := json.Marshal(ErrorBody{Detail: detail, Status: status, RequestID: requestID})
	return Data(status, MIMEApplicationJSON, data)
}

// StatusFor reports the status a (response, error) pair will be sent with:
// an *Error keeps its own status, any other error is a 500 and a nil
// response is a 204.
func StatusFor(resp *Response, err error) int {
	if err != nil {
		var he *Error
		if errors.As(err, &he) {
			return he.Status
		}
		return http.StatusInternalServerError
	}
	if resp == nil {
		return http.StatusNoContent
	}
	return resp.Status
}
