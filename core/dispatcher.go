package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"runtime/debug"
	"strings"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
	"github.com/searchktools/quickapi/core/router"
)

// HandlerError is an unhandled failure of a routed handler: a panic or an
// error that is not an *http.Error.
type HandlerError struct {
	Method    string
	Route     string
	RequestID string

	Err   error
	Panic any
	Stack []byte
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s %s: panic: %v", e.Method, e.Route, e.Panic)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Route, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Dispatcher routes requests to handlers through their middleware chains. It
// is immutable and safe for concurrent use.
type Dispatcher struct {
	opts     Options
	logger   *slog.Logger
	table    *router.Table
	handlers map[*router.Route]middleware.Next

	// options answers OPTIONS for paths without an explicit OPTIONS route,
	// wrapped in the global middleware so CORS preflights work.
	options middleware.Next
}

type allowKeyType struct{}

var allowKey = allowKeyType{}

func autoOptions(req *http.Request) (*http.Response, error) {
	resp := http.NewResponse(nethttp.StatusNoContent)
	if allow, ok := req.Context().Value(allowKey).(string); ok {
		resp.SetHeader(http.HeaderAllow, allow)
	}
	return resp, nil
}

// Routes lists the routes served, in registration order.
func (d *Dispatcher) Routes() []*router.Route {
	return d.table.Routes()
}

// Dispatch resolves req and runs it. It always returns a response: routing
// failures become 404/405, handler failures become error responses.
func (d *Dispatcher) Dispatch(req *http.Request) *http.Response {
	req, reqID := middleware.EnsureRequestID(req)

	route, params, err := d.table.Match(req.Method, req.Path)
	if err != nil {
		return d.routingError(req, reqID, err)
	}

	req.Params = params
	req.Route = route.Pattern

	resp, err := d.invoke(d.handlers[route], req, reqID)
	return d.finalize(req, reqID, resp, err)
}

func (d *Dispatcher) routingError(req *http.Request, reqID string, err error) *http.Response {
	var mna *router.MethodNotAllowedError
	if !errors.As(err, &mna) {
		d.countRoutingError(nethttp.StatusNotFound)
		return http.ErrorResponse(nethttp.StatusNotFound, "", reqID)
	}

	if req.Method == nethttp.MethodOptions {
		allow := strings.Join(append(mna.Allowed, nethttp.MethodOptions), ", ")
		req = req.WithContext(context.WithValue(req.Context(), allowKey, allow))
		resp, err := d.invoke(d.options, req, reqID)
		return d.finalize(req, reqID, resp, err)
	}

	d.countRoutingError(nethttp.StatusMethodNotAllowed)
	resp := http.ErrorResponse(nethttp.StatusMethodNotAllowed, "", reqID)
	resp.SetHeader(http.HeaderAllow, strings.Join(mna.Allowed, ", "))
	return resp
}

func (d *Dispatcher) countRoutingError(status int) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.RoutingErrors.WithLabelValues(fmt.Sprint(status)).Inc()
	}
}

// invoke runs h, turning a panic into a *HandlerError.
func (d *Dispatcher) invoke(h middleware.Next, req *http.Request, reqID string) (resp *http.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			if d.opts.Metrics != nil {
				d.opts.Metrics.PanicsTotal.Inc()
			}
			resp, err = nil, &HandlerError{
				Method:    req.Method,
				Route:     req.Route,
				RequestID: reqID,
				Panic:     v,
				Stack:     debug.Stack(),
			}
		}
	}()
	return h(req)
}

func (d *Dispatcher) finalize(req *http.Request, reqID string, resp *http.Response, err error) *http.Response {
	if err != nil {
		return d.failure(req, reqID, err)
	}
	if resp == nil {
		return http.NewResponse(nethttp.StatusNoContent)
	}
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	if resp.Status == 0 {
		resp.Status = nethttp.StatusOK
	}
	return resp
}

func (d *Dispatcher) failure(req *http.Request, reqID string, err error) *http.Response {
	var he *http.Error
	if errors.As(err, &he) {
		if he.Status >= 500 {
			d.logger.LogAttrs(req.Context(), slog.LevelWarn, "handler returned server error",
				slog.String("request_id", reqID),
				slog.String("method", req.Method),
				slog.String("route", req.Route),
				slog.Int("status", he.Status),
				slog.String("error", err.Error()),
			)
		}
		return http.ErrorResponse(he.Status, he.Detail, reqID)
	}

	var herr *HandlerError
	if !errors.As(err, &herr) {
		herr = &HandlerError{Method: req.Method, Route: req.Route, RequestID: reqID, Err: err}
	}

	attrs := []slog.Attr{
		slog.String("request_id", reqID),
		slog.String("method", req.Method),
		slog.String("route", req.Route),
		slog.String("error", herr.Error()),
	}
	var pe *middleware.PanicError
	switch {
	case herr.Stack != nil:
		attrs = append(attrs, slog.String("stack", string(herr.Stack)))
	case errors.As(err, &pe):
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	d.logger.LogAttrs(req.Context(), slog.LevelError, "handler failed", attrs...)

	detail := nethttp.StatusText(nethttp.StatusInternalServerError)
	if d.opts.Debug {
		detail = herr.Error()
	}
	return http.ErrorResponse(nethttp.StatusInternalServerError, detail, reqID)
}
