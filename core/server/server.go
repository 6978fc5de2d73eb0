// Package server puts an http.Handler on the wire: HTTP/1.1 plus HTTP/2,
// either over TLS with ALPN or as cleartext h2c.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var ErrServerClosed = errors.New("server is closed")

// Config contains transport configuration. Zero values get defaults.
type Config struct {
	Addr    string
	Handler http.Handler

	// TLSConfig enables h2 over TLS. Without it, h2c is served when H2C is set.
	TLSConfig *tls.Config
	H2C       bool

	ReadHeaderTimeout time.Duration
	// ReadTimeout and WriteTimeout default to none: they would cut off
	// long-lived streams.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32

	Socket SocketOptions

	Logger *slog.Logger
}

// SocketOptions are applied to the listening socket and to every accepted
// connection.
type SocketOptions struct {
	NoDelay   bool
	KeepAlive time.Duration
	ReuseAddr bool
	ReusePort bool
}

// DefaultSocketOptions disables Nagle and probes idle peers after 30s.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{NoDelay: true, KeepAlive: 30 * time.Second, ReuseAddr: true}
}

// Server wraps http.Server with connection accounting and socket tuning.
type Server struct {
	cfg    Config
	srv    *http.Server
	h2     *http2.Server
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool

	activeConns atomic.Int64
	totalConns  atomic.Uint64
}

// New creates a server. It does not listen until Serve or ListenAndServe.
func New(cfg Config) *Server {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 1 << 20
	}
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.MaxReadFrameSize == 0 {
		cfg.MaxReadFrameSize = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}
	s.h2 = &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxReadFrameSize:     cfg.MaxReadFrameSize,
		IdleTimeout:          cfg.IdleTimeout,
	}

	handler := cfg.Handler
	if cfg.TLSConfig == nil && cfg.H2C {
		handler = h2c.NewHandler(handler, s.h2)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ConnState:         s.trackConn,
	}
	if cfg.TLSConfig != nil {
		s.srv.TLSConfig = cfg.TLSConfig.Clone()
		s.srv.TLSConfig.NextProtos = []string{"h2", "http/1.1"}
	}
	return s
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.activeConns.Add(1)
		s.totalConns.Add(1)
	case http.StateHijacked, http.StateClosed:
		s.activeConns.Add(-1)
	}
}

// Listen opens the listening socket with the configured socket options.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{
		Control:   listenControl(s.cfg.Socket),
		KeepAlive: -1,
	}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return &tunedListener{Listener: ln, opts: s.cfg.Socket, logger: s.logger}, nil
}

// Serve accepts connections on ln until Shutdown or Close. It returns nil
// after a graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	proto := "http/1.1"
	var err error
	switch {
	case s.cfg.TLSConfig != nil:
		if err := http2.ConfigureServer(s.srv, s.h2); err != nil {
			return fmt.Errorf("configure http2: %w", err)
		}
		proto = "h2"
		s.logger.Info("server listening", "addr", ln.Addr().String(), "proto", proto)
		err = s.srv.ServeTLS(ln, "", "")
	default:
		if s.cfg.H2C {
			proto = "h2c"
		}
		s.logger.Info("server listening", "addr", ln.Addr().String(), "proto", proto)
		err = s.srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done. Hijacked connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.srv.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.srv.Close()
}

// Stats is a snapshot of connection counters.
type Stats struct {
	ActiveConnections int64  `json:"active_connections"`
	TotalConnections  uint64 `json:"total_connections"`
}

func (s *Server) Stats() Stats {
	return Stats{
		ActiveConnections: s.activeConns.Load(),
		TotalConnections:  s.totalConns.Load(),
	}
}

// tunedListener applies per-connection socket options on Accept.
type tunedListener struct {
	net.Listener
	opts   SocketOptions
	logger *slog.Logger
}

func (l *tunedListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tuneConn(tc, l.opts); err != nil {
			l.logger.Debug("socket tuning failed", "remote", c.RemoteAddr().String(), "error", err)
		}
	}
	return c, nil
}
