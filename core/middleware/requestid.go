package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/searchktools/quickapi/core/http"
)

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// maxRequestIDLen bounds client supplied ids.
const maxRequestIDLen = 128

// RequestIDFromContext returns the request id, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID stores id in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// EnsureRequestID returns req carrying a request id in its context. An id
// already in the context wins, then a sane X-Request-Id header, then a
// freshly generated one.
func EnsureRequestID(req *http.Request) (*http.Request, string) {
	if id := RequestIDFromContext(req.Context()); id != "" {
		return req, id
	}
	id := req.GetHeader(http.HeaderRequestID)
	if id == "" || len(id) > maxRequestIDLen {
		id = generateRequestID()
	}
	return req.WithContext(ContextWithRequestID(req.Context(), id)), id
}

// RequestID assigns every request an id and echoes it in the X-Request-Id
// response header.
func RequestID() Middleware {
	return func(req *http.Request, next Next) (*http.Response, error) {
		req, id := EnsureRequestID(req)
		resp, err := next(req)
		if resp != nil {
			resp.SetHeader(http.HeaderRequestID, id)
		}
		return resp, err
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
