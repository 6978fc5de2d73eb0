package middleware

import (
	"math"
	nethttp "net/http"
	"strconv"
	"sync"
	"time"

	"github.com/searchktools/quickapi/core/http"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(req *http.Request) string

// ByRemoteAddr keys requests by client address.
func ByRemoteAddr(req *http.Request) string {
	return req.RemoteAddr
}

type window struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter allows requestsPerSecond requests per key in each one second
// window and answers the rest with 429. A nil key limits globally.
func RateLimiter(requestsPerSecond int, key KeyFunc) Middleware {
	var (
		mu        sync.Mutex
		windows   = make(map[string]*window)
		lastSweep = time.Now()
	)

	return func(req *http.Request, next Next) (*http.Response, error) {
		if requestsPerSecond <= 0 {
			return next(req)
		}
		k := ""
		if key != nil {
			k = key(req)
		}

		mu.Lock()
		now := time.Now()

		if now.Sub(lastSweep) > time.Minute {
			for id, w := range windows {
				if now.Sub(w.lastRefill) > time.Minute {
					delete(windows, id)
				}
			}
			lastSweep = now
		}

		w, ok := windows[k]
		if !ok {
			w = &window{tokens: requestsPerSecond, lastRefill: now}
			windows[k] = w
		}
		if now.Sub(w.lastRefill) >= time.Second {
			w.tokens = requestsPerSecond
			w.lastRefill = now
		}

		if w.tokens > 0 {
			w.tokens--
			mu.Unlock()
			return next(req)
		}
		retry := time.Second - now.Sub(w.lastRefill)
		mu.Unlock()

		resp := http.ErrorResponse(nethttp.StatusTooManyRequests, "", RequestIDFromContext(req.Context()))
		resp.SetHeader("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		return resp, nil
	}
}
