package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
	"github.com/searchktools/quickapi/core/router"
	"github.com/searchktools/quickapi/core/websocket"
)

// Engine collects routes and middleware and builds an immutable Dispatcher.
// Registration errors are collected and reported by Build, so routes can be
// declared without checking each call.
type Engine struct {
	opts  Options
	table *router.Table
	chain *middleware.Chain

	routeMW map[*router.Route][]middleware.Middleware
	errs    []error
	built   bool
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		opts:    opts,
		table:   router.New(),
		chain:   middleware.NewChain(),
		routeMW: make(map[*router.Route][]middleware.Middleware),
	}
}

// Use appends global middleware. It runs for every matched route, in
// registration order, outside any route-level middleware.
func (e *Engine) Use(mws ...middleware.Middleware) *Engine {
	if e.built {
		e.errs = append(e.errs, fmt.Errorf("use: %w", ErrEngineBuilt))
		return e
	}
	e.chain.Use(mws...)
	return e
}

// Handle registers handler for method and pattern, wrapped in route-level
// middleware mws.
func (e *Engine) Handle(method, pattern string, handler http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	method = strings.ToUpper(method)
	if !slices.Contains(Methods, method) {
		e.errs = append(e.errs, fmt.Errorf("%s %s: %w", method, pattern, ErrUnknownMethod))
		return e
	}
	if e.built {
		e.errs = append(e.errs, fmt.Errorf("%s %s: %w", method, pattern, ErrEngineBuilt))
		return e
	}

	r, err := e.table.Register(method, pattern, handler)
	if err != nil {
		e.errs = append(e.errs, err)
		return e
	}
	if len(mws) > 0 {
		e.routeMW[r] = mws
	}
	return e
}

// GET registers a GET route
func (e *Engine) GET(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("GET", pattern, h, mws...)
}

// POST registers a POST route
func (e *Engine) POST(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("POST", pattern, h, mws...)
}

// PUT registers a PUT route
func (e *Engine) PUT(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("PUT", pattern, h, mws...)
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("DELETE", pattern, h, mws...)
}

// PATCH registers a PATCH route
func (e *Engine) PATCH(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("PATCH", pattern, h, mws...)
}

// HEAD registers a HEAD route
func (e *Engine) HEAD(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("HEAD", pattern, h, mws...)
}

// OPTIONS registers an OPTIONS route
func (e *Engine) OPTIONS(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Engine {
	return e.Handle("OPTIONS", pattern, h, mws...)
}

// WebSocket registers a GET route that upgrades the connection and runs fn.
// Middleware runs before the upgrade, so authentication and logging apply.
func (e *Engine) WebSocket(pattern string, fn websocket.SessionFunc, mws ...middleware.Middleware) *Engine {
	if fn == nil {
		e.errs = append(e.errs, fmt.Errorf("websocket %s: nil session func", pattern))
		return e
	}
	maxMsg := e.opts.MaxWebSocketMessage
	return e.GET(pattern, func(req *http.Request) (*http.Response, error) {
		return websocket.Upgrade(req, maxMsg, fn)
	}, mws...)
}

// Group returns a registrar that prefixes patterns and adds middleware.
func (e *Engine) Group(prefix string, mws ...middleware.Middleware) *Group {
	return &Group{engine: e, prefix: strings.TrimSuffix(prefix, "/"), mws: mws}
}

// Routes lists the registered routes in registration order.
func (e *Engine) Routes() []*router.Route {
	return e.table.Routes()
}

// Build freezes the route table and composes every middleware chain. It
// fails with all registration errors joined, including duplicate routes and
// nil middleware.
func (e *Engine) Build() (*Dispatcher, error) {
	errs := slices.Clone(e.errs)

	handlers := make(map[*router.Route]middleware.Next)
	for _, r := range e.table.Routes() {
		chain := middleware.NewChain()
		chain.Use(e.globalMiddleware()...)
		chain.Use(e.routeMW[r]...)

		next, err := chain.Then(middleware.Next(r.Handler))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Method, r.Pattern, err))
			continue
		}
		handlers[r] = next
	}
	options, err := middleware.NewChain(e.globalMiddleware()...).Then(autoOptions)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	e.built = true
	e.table.Freeze()

	return &Dispatcher{
		opts:     e.opts,
		logger:   e.opts.Logger,
		table:    e.table,
		handlers: handlers,
		options:  options,
	}, nil
}

func (e *Engine) globalMiddleware() []middleware.Middleware {
	return e.chain.Middlewares()
}

// Group registers routes under a common prefix and middleware.
type Group struct {
	engine *Engine
	prefix string
	mws    []middleware.Middleware
}

// Handle registers a route on the group.
func (g *Group) Handle(method, pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	all := append(slices.Clone(g.mws), mws...)
	g.engine.Handle(method, g.prefix+pattern, h, all...)
	return g
}

func (g *Group) GET(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	return g.Handle("GET", pattern, h, mws...)
}

func (g *Group) POST(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	return g.Handle("POST", pattern, h, mws...)
}

func (g *Group) PUT(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	return g.Handle("PUT", pattern, h, mws...)
}

func (g *Group) PATCH(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	return g.Handle("PATCH", pattern, h, mws...)
}

func (g *Group) DELETE(pattern string, h http.HandlerFunc, mws ...middleware.Middleware) *Group {
	return g.Handle("DELETE", pattern, h, mws...)
}

// WebSocket registers an upgrade route on the group.
func (g *Group) WebSocket(pattern string, fn websocket.SessionFunc, mws ...middleware.Middleware) *Group {
	all := append(slices.Clone(g.mws), mws...)
	g.engine.WebSocket(g.prefix+pattern, fn, all...)
	return g
}
