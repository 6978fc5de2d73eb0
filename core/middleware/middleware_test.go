package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/searchktools/quickapi/core/http"
)

func newReq(method, path string) *http.Request {
	return http.NewRequest(context.Background(), method, path, nil, nil)
}

func okHandler(*http.Request) (*http.Response, error) {
	return http.Text(200, "ok"), nil
}

func build(t *testing.T, final Next, mws ...Middleware) Next {
	t.Helper()
	h, err := NewChain(mws...).Then(final)
	if err != nil {
		t.Fatalf("Then error: %v", err)
	}
	return h
}

// TestChainOrder - first registered is outermost
func TestChainOrder(t *testing.T) {
	var order []string

	mark := func(name string) Middleware {
		return func(req *http.Request, next Next) (*http.Response, error) {
			order = append(order, name+":in")
			resp, err := next(req)
			order = append(order, name+":out")
			return resp, err
		}
	}

	h := build(t, func(req *http.Request) (*http.Response, error) {
		order = append(order, "handler")
		return okHandler(req)
	}, mark("a"), mark("b"), mark("c"))

	if _, err := h(newReq("GET", "/")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"a:in", "b:in", "c:in", "handler", "c:out", "b:out", "a:out"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d steps, got %d (%v)", len(expected), len(order), order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Expected order[%d] = %s, got %s", i, v, order[i])
		}
	}
}

// TestChainShortCircuit - a middleware that answers itself stops the chain
func TestChainShortCircuit(t *testing.T) {
	var first, second, final int

	h := build(t,
		func(req *http.Request) (*http.Response, error) {
			final++
			return okHandler(req)
		},
		func(req *http.Request, next Next) (*http.Response, error) {
			first++
			return http.Text(403, "stop"), nil
		},
		func(req *http.Request, next Next) (*http.Response, error) {
			second++
			return next(req)
		},
	)

	resp, err := h(newReq("GET", "/"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Status != 403 {
		t.Errorf("Expected 403, got %d", resp.Status)
	}
	if first != 1 || second != 0 || final != 0 {
		t.Errorf("Expected calls 1/0/0, got %d/%d/%d", first, second, final)
	}
}

func TestChainHandlerRunsOnce(t *testing.T) {
	calls := 0
	pass := func(req *http.Request, next Next) (*http.Response, error) { return next(req) }

	h := build(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return okHandler(req)
	}, pass, pass, pass)

	for i := 0; i < 3; i++ {
		h(newReq("GET", "/"))
	}
	if calls != 3 {
		t.Errorf("Expected 3 handler calls, got %d", calls)
	}
}

func TestChainContractViolations(t *testing.T) {
	tests := []struct {
		name string
		mw   Middleware
	}{
		{"next twice", func(req *http.Request, next Next) (*http.Response, error) {
			next(req)
			return next(req)
		}},
		{"next twice swallowed", func(req *http.Request, next Next) (*http.Response, error) {
			resp, _ := next(req)
			next(req)
			return resp, nil
		}},
		{"nothing", func(req *http.Request, next Next) (*http.Response, error) {
			return nil, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := build(t, okHandler, tt.mw)
			_, err := h(newReq("GET", "/"))
			var ce *ContractError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *ContractError, got %v", err)
			}
			if ce.Index != 0 {
				t.Errorf("Expected index 0, got %d", ce.Index)
			}
		})
	}
}

func TestChainNilMiddlewareAtBuild(t *testing.T) {
	_, err := NewChain(RequestID(), nil).Then(okHandler)
	var ce *ContractError
	if !errors.As(err, &ce) || ce.Index != 1 {
		t.Errorf("Expected build-time *ContractError at index 1, got %v", err)
	}
}

// TestScopedMiddleware - a DELETE-only middleware does not run for GET while
// a global one does
func TestScopedMiddleware(t *testing.T) {
	var global, deleteOnly int

	h := build(t, okHandler,
		func(req *http.Request, next Next) (*http.Response, error) {
			global++
			return next(req)
		},
		Only(func(req *http.Request, next Next) (*http.Response, error) {
			deleteOnly++
			return next(req)
		}, "delete"),
	)

	h(newReq("GET", "/items/42"))
	if global != 1 || deleteOnly != 0 {
		t.Errorf("GET: expected global=1 deleteOnly=0, got %d/%d", global, deleteOnly)
	}

	h(newReq("DELETE", "/items/42"))
	if global != 2 || deleteOnly != 1 {
		t.Errorf("DELETE: expected global=2 deleteOnly=1, got %d/%d", global, deleteOnly)
	}
}

func TestExcept(t *testing.T) {
	ran := 0
	h := build(t, okHandler, Except(func(req *http.Request, next Next) (*http.Response, error) {
		ran++
		return next(req)
	}, "/health"))

	h(newReq("GET", "/health/live"))
	h(newReq("GET", "/items"))
	if ran != 1 {
		t.Errorf("Expected 1 run, got %d", ran)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := build(t, func(*http.Request) (*http.Response, error) {
		panic("test panic")
	}, Recovery())

	resp, err := h(newReq("GET", "/"))
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PanicError, got %v", err)
	}
	if pe.Value != "test panic" || len(pe.Stack) == 0 {
		t.Errorf("Unexpected panic error %+v", pe)
	}
	if resp != nil {
		t.Error("Expected nil response after panic")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := build(t, func(req *http.Request) (*http.Response, error) {
		seen = RequestIDFromContext(req.Context())
		return okHandler(req)
	}, RequestID())

	resp, _ := h(newReq("GET", "/"))
	if len(seen) != 32 {
		t.Errorf("Expected generated 32 char id, got %q", seen)
	}
	if resp.Header.Get(http.HeaderRequestID) != seen {
		t.Errorf("Expected header %q, got %q", seen, resp.Header.Get(http.HeaderRequestID))
	}

	req := newReq("GET", "/")
	req.Header.Set("X-Request-ID", "abc")
	h(req)
	if seen != "abc" {
		t.Errorf("Expected client id abc, got %q", seen)
	}
}

func TestRateLimiter(t *testing.T) {
	h := build(t, okHandler, RateLimiter(2, nil))

	for i := 0; i < 2; i++ {
		if resp, _ := h(newReq("GET", "/")); resp.Status != 200 {
			t.Errorf("Request %d should not be rate limited", i+1)
		}
	}

	resp, _ := h(newReq("GET", "/"))
	if resp.Status != 429 {
		t.Errorf("Third request should be rate limited, got %d", resp.Status)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	time.Sleep(1100 * time.Millisecond)

	if resp, _ := h(newReq("GET", "/")); resp.Status != 200 {
		t.Error("Request after refill should not be rate limited")
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	h := build(t, okHandler, RateLimiter(1, ByRemoteAddr))

	a := newReq("GET", "/")
	a.RemoteAddr = "10.0.0.1:1000"
	b := newReq("GET", "/")
	b.RemoteAddr = "10.0.0.2:1000"

	if resp, _ := h(a); resp.Status != 200 {
		t.Error("First request from a should pass")
	}
	if resp, _ := h(b); resp.Status != 200 {
		t.Error("First request from b should pass")
	}
	if resp, _ := h(a); resp.Status != 429 {
		t.Error("Second request from a should be limited")
	}
}

func TestTimeout(t *testing.T) {
	h := build(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}, Timeout(20*time.Millisecond))

	_, err := h(newReq("GET", "/slow"))
	var he *http.Error
	if !errors.As(err, &he) || he.Status != 503 {
		t.Errorf("Expected 503 *http.Error, got %v", err)
	}
}

// TestTimeoutTakeoverKeepsContext - the deadline is released after the
// hijacked session, not when the 101 response is returned
func TestTimeoutTakeoverKeepsContext(t *testing.T) {
	var during, after error
	var reqCtx context.Context
	h := build(t, func(req *http.Request) (*http.Response, error) {
		reqCtx = req.Context()
		resp := &http.Response{Status: 101}
		resp.Takeover = func(net.Conn, *bufio.ReadWriter) {
			during = req.Context().Err()
		}
		return resp, nil
	}, Timeout(time.Hour))

	resp, err := h(newReq("GET", "/ws"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reqCtx.Err() != nil {
		t.Fatalf("Context cancelled before the session ran: %v", reqCtx.Err())
	}
	resp.Takeover(nil, nil)
	after = reqCtx.Err()

	if during != nil {
		t.Errorf("Expected live context inside the session, got %v", during)
	}
	if !errors.Is(after, context.Canceled) {
		t.Errorf("Expected context cancelled after the session, got %v", after)
	}
}

func TestTimeoutSkipsUpgradeRequests(t *testing.T) {
	h := build(t, func(req *http.Request) (*http.Response, error) {
		if _, ok := req.Context().Deadline(); ok {
			return http.Text(500, "deadline set"), nil
		}
		return http.Text(200, "ok"), nil
	}, Timeout(time.Minute))

	header := textproto.MIMEHeader{}
	header.Set("Connection", "keep-alive, Upgrade")
	header.Set("Upgrade", "websocket")
	resp, _ := h(http.NewRequest(context.Background(), "GET", "/ws", header, nil))
	if resp.Status != 200 {
		t.Errorf("Expected no deadline on an upgrade request, got %d", resp.Status)
	}

	resp, _ = h(newReq("GET", "/plain"))
	if resp.Status != 500 {
		t.Errorf("Expected a deadline on a plain request, got %d", resp.Status)
	}
}

func BenchmarkChain(b *testing.B) {
	pass := func(req *http.Request, next Next) (*http.Response, error) { return next(req) }
	h, _ := NewChain(pass, pass, pass, pass).Then(okHandler)
	req := newReq("GET", "/")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h(req)
	}
}
