package middleware

import (
	"log/slog"
	"time"

	"github.com/searchktools/quickapi/core/http"
)

// Logger emits one structured entry per request. Server errors are logged at
// error level, client errors at warn, everything else at info.
func Logger(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(req *http.Request, next Next) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)

		status := http.StatusFor(resp, err)
		attrs := []slog.Attr{
			slog.String("request_id", RequestIDFromContext(req.Context())),
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("route", req.Route),
			slog.Int("status", status),
			slog.Bool("stream", resp != nil && resp.IsStream()),
			slog.Duration("duration", time.Since(start)),
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(req.Context(), level, "request", attrs...)

		return resp, err
	}
}
