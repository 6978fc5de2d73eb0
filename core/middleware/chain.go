// Package middleware provides the ordered wrapper pipeline that runs around
// every routed handler, plus the built-in middleware.
package middleware

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/searchktools/quickapi/core/http"
)

// Next invokes the remainder of the chain.
type Next func(req *http.Request) (*http.Response, error)

// Middleware either calls next exactly once or produces the response itself.
type Middleware func(req *http.Request, next Next) (*http.Response, error)

// ContractError reports a middleware that broke the call-next-once rule.
type ContractError struct {
	Index  int
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("middleware %d: %s", e.Index, e.Reason)
}

// Chain is an ordered list of middleware. The first one added is the
// outermost: it sees the request first and the response last.
type Chain struct {
	mws []Middleware
}

// NewChain creates a chain from mws in order.
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{mws: make([]Middleware, 0, len(mws)+8)}
	return c.Use(mws...)
}

// Use appends middleware to the chain.
func (c *Chain) Use(mws ...Middleware) *Chain {
	c.mws = append(c.mws, mws...)
	return c
}

// Middlewares returns a copy of the chain's middleware in order.
func (c *Chain) Middlewares() []Middleware {
	return slices.Clone(c.mws)
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	return len(c.mws)
}

// Then composes the chain around final. Nil middleware and a nil final
// handler are reported here rather than on the first request.
func (c *Chain) Then(final Next) (Next, error) {
	if final == nil {
		return nil, &ContractError{Index: len(c.mws), Reason: "nil handler"}
	}
	for i, mw := range c.mws {
		if mw == nil {
			return nil, &ContractError{Index: i, Reason: "nil middleware"}
		}
	}

	h := final
	for i := len(c.mws) - 1; i >= 0; i-- {
		h = guard(i, c.mws[i], h)
	}
	return h, nil
}

// guard enforces the contract for the middleware at position i.
func guard(i int, mw Middleware, inner Next) Next {
	return func(req *http.Request) (*http.Response, error) {
		var calls atomic.Int32
		next := func(r *http.Request) (*http.Response, error) {
			if calls.Add(1) > 1 {
				return nil, &ContractError{Index: i, Reason: "next called more than once"}
			}
			return inner(r)
		}

		resp, err := mw(req, next)

		switch n := calls.Load(); {
		case n > 1:
			return nil, &ContractError{Index: i, Reason: "next called more than once"}
		case n == 0 && resp == nil && err == nil:
			return nil, &ContractError{Index: i, Reason: "returned no response and did not call next"}
		}
		return resp, err
	}
}

// When runs mw only for requests accepted by match; others go straight to next.
func When(match func(*http.Request) bool, mw Middleware) Middleware {
	if mw == nil {
		return nil
	}
	return func(req *http.Request, next Next) (*http.Response, error) {
		if !match(req) {
			return next(req)
		}
		return mw(req, next)
	}
}

// Only restricts mw to the given methods.
func Only(mw Middleware, methods ...string) Middleware {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = true
	}
	return When(func(req *http.Request) bool {
		return set[req.Method]
	}, mw)
}

// Except skips mw for paths under any of the prefixes.
func Except(mw Middleware, prefixes ...string) Middleware {
	return When(func(req *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(req.Path, p) {
				return false
			}
		}
		return true
	}, mw)
}
