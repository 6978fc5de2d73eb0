package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/stream"
)

// Timeout puts a deadline on the request context. A handler that fails
// because the deadline passed is answered with 503. For streaming responses
// the deadline is released when the stream is closed. Protocol upgrades get
// no deadline: the session outlives the request.
func Timeout(d time.Duration) Middleware {
	return func(req *http.Request, next Next) (*http.Response, error) {
		if d <= 0 || isUpgrade(req) {
			return next(req)
		}
		ctx, cancel := context.WithTimeout(req.Context(), d)

		resp, err := next(req.WithContext(ctx))
		switch {
		case resp != nil && resp.Takeover != nil:
			takeover := resp.Takeover
			resp.Takeover = func(conn net.Conn, rw *bufio.ReadWriter) {
				defer cancel()
				takeover(conn, rw)
			}
			return resp, err
		case resp != nil && resp.IsStream():
			resp.Stream = stream.OnClose(resp.Stream, cancel)
			return resp, err
		}
		cancel()

		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &http.Error{Status: nethttp.StatusServiceUnavailable, Detail: "request timed out", Err: err}
		}
		return resp, err
	}
}

func isUpgrade(req *http.Request) bool {
	if req.GetHeader("Upgrade") == "" {
		return false
	}
	for _, v := range req.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}
