package core

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
	"github.com/searchktools/quickapi/core/stream"
)

// ServeHTTP adapts the dispatcher to net/http. Buffered bodies are written
// with a Content-Length, streams are pumped chunk by chunk with a flush
// after each, and takeover responses hijack the connection.
func (d *Dispatcher) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req := http.NewRequest(r.Context(), r.Method, target, textproto.MIMEHeader(r.Header), r.Body)
	req.Proto = r.Proto
	req.RemoteAddr = r.RemoteAddr
	if d.opts.MaxBodySize > 0 {
		req.SetMaxBodySize(d.opts.MaxBodySize)
	}
	req, _ = middleware.EnsureRequestID(req)

	resp := d.Dispatch(req)

	switch {
	case resp.Takeover != nil:
		d.writeTakeover(w, req, resp)
	case resp.IsStream():
		d.writeStream(w, req, resp)
	default:
		writeBuffered(w, req, resp)
	}
}

func requestID(req *http.Request) string {
	return middleware.RequestIDFromContext(req.Context())
}

func copyHeader(dst nethttp.Header, src textproto.MIMEHeader) {
	for k, vs := range src {
		dst[k] = vs
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != nethttp.StatusNoContent && status != nethttp.StatusNotModified
}

func writeBuffered(w nethttp.ResponseWriter, req *http.Request, resp *http.Response) {
	h := w.Header()
	copyHeader(h, resp.Header)

	if !bodyAllowed(resp.Status) {
		h.Del(http.HeaderContentLength)
		w.WriteHeader(resp.Status)
		return
	}
	h.Set(http.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if req.Method != nethttp.MethodHead {
		w.Write(resp.Body)
	}
}

// flushWriter flushes through the response controller. Writers that cannot
// flush (some test recorders) are treated as flushed.
type flushWriter struct {
	w  nethttp.ResponseWriter
	rc *nethttp.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *flushWriter) Flush() error {
	if err := f.rc.Flush(); err != nil && !errors.Is(err, nethttp.ErrNotSupported) {
		return err
	}
	return nil
}

func (d *Dispatcher) writeStream(w nethttp.ResponseWriter, req *http.Request, resp *http.Response) {
	h := w.Header()
	copyHeader(h, resp.Header)
	h.Del(http.HeaderContentLength)
	w.WriteHeader(resp.Status)

	if req.Method == nethttp.MethodHead || !bodyAllowed(resp.Status) {
		resp.Stream.Close()
		return
	}

	fw := &flushWriter{w: w, rc: nethttp.NewResponseController(w)}
	// Send the head before the first chunk is produced.
	if err := fw.Flush(); err != nil {
		resp.Stream.Close()
		return
	}

	n, err := stream.Pump(req.Context(), resp.Stream, fw)
	if err == nil || req.Context().Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	attrs := []any{
		"request_id", requestID(req),
		"route", req.Route,
		"chunks", n,
		"error", err,
	}
	var pe *stream.PanicError
	if errors.As(err, &pe) {
		d.logger.Error("stream producer panicked", append(attrs, "stack", string(pe.Stack))...)
	} else {
		d.logger.Warn("stream aborted", attrs...)
	}
	// The status line is gone already. Aborting the connection keeps the
	// truncated body from reading as a complete response.
	panic(nethttp.ErrAbortHandler)
}

func (d *Dispatcher) writeTakeover(w nethttp.ResponseWriter, req *http.Request, resp *http.Response) {
	conn, rw, err := nethttp.NewResponseController(w).Hijack()
	if err != nil {
		d.logger.Error("connection takeover failed",
			"request_id", requestID(req),
			"route", req.Route,
			"proto", req.Proto,
			"error", err,
		)
		writeBuffered(w, req, http.ErrorResponse(nethttp.StatusInternalServerError, "connection upgrade not supported", requestID(req)))
		return
	}

	// Server read/write timeouts do not apply to the upgraded protocol.
	conn.SetDeadline(time.Time{})

	fmt.Fprintf(rw, "HTTP/1.1 %d %s\r\n", resp.Status, nethttp.StatusText(resp.Status))
	nethttp.Header(resp.Header).Write(rw)
	rw.WriteString("\r\n")
	if err := rw.Flush(); err != nil {
		conn.Close()
		return
	}

	resp.Takeover(conn, rw)
}
