package core

import (
	"errors"
	"log/slog"

	"github.com/searchktools/quickapi/core/observability"
)

// HTTP methods accepted by Engine.Handle.
var Methods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

// Limits applied when Options leaves them zero.
const (
	DefaultMaxBodySize         = 10 << 20
	DefaultMaxWebSocketMessage = 1 << 20
)

var (
	ErrEngineBuilt   = errors.New("engine already built")
	ErrUnknownMethod = errors.New("unknown HTTP method")
)

// Options configures the engine and the dispatcher it builds.
type Options struct {
	// Debug exposes failure detail in 500 bodies.
	Debug bool

	Logger *slog.Logger

	// Metrics, when set, counts routing errors and panics the dispatcher
	// recovers itself. Per-request metrics come from middleware.Metrics.
	Metrics *observability.Metrics

	// MaxBodySize caps Request.Body. Negative disables the cap.
	MaxBodySize int64

	MaxWebSocketMessage int64
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBodySize == 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.MaxWebSocketMessage == 0 {
		o.MaxWebSocketMessage = DefaultMaxWebSocketMessage
	}
}
