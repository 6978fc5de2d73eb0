package middleware

import (
	"errors"
	"time"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/observability"
	"github.com/searchktools/quickapi/core/stream"
)

// Metrics records request counts, latency and in-flight requests. Streaming
// responses are tracked as active streams until they are closed. mon may be
// nil.
func Metrics(m *observability.Metrics, mon *observability.Monitor) Middleware {
	return func(req *http.Request, next Next) (*http.Response, error) {
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		start := time.Now()

		resp, err := next(req)

		elapsed := time.Since(start)

		status := http.StatusFor(resp, err)
		route := req.Route
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(req.Method, route, observability.StatusClass(status)).Inc()
		m.RequestDuration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())
		if mon != nil {
			mon.Record(req.Method+" "+route, elapsed, status >= 500)
		}

		var pe *PanicError
		if errors.As(err, &pe) {
			m.PanicsTotal.Inc()
		}

		if resp != nil && resp.IsStream() {
			m.ActiveStreams.Inc()
			resp.Stream = stream.OnClose(
				stream.Observe(resp.Stream, func([]byte) { m.StreamChunks.Inc() }),
				m.ActiveStreams.Dec,
			)
		}
		return resp, err
	}
}
