// Package config loads server configuration in layers: built-in defaults,
// a YAML file, QUICKAPI_* environment variables and finally command-line
// flags. The result is validated before use.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Env   string `yaml:"env"`
	Debug bool   `yaml:"debug"`

	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Limits    LimitsConfig    `yaml:"limits"`
	CORS      CORSConfig      `yaml:"cors"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Docs      DocsConfig      `yaml:"docs"`
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`                // default: 8080
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default: 10s
	ReadTimeout       time.Duration `yaml:"read_timeout"`        // default: none
	WriteTimeout      time.Duration `yaml:"write_timeout"`       // default: none, streams are long-lived
	IdleTimeout       time.Duration `yaml:"idle_timeout"`        // default: 120s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // default: 15s
	H2C               bool          `yaml:"h2c"`
	TCPNoDelay        bool          `yaml:"tcp_nodelay"` // default: true
	KeepAlive         time.Duration `yaml:"keep_alive"`  // default: 30s
	ReusePort         bool          `yaml:"reuse_port"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// NewLogger builds a logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel maps Level to a slog level, info when unknown.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// LimitsConfig bounds request handling.
type LimitsConfig struct {
	MaxBodySize         int64         `yaml:"max_body_size"`         // bytes, default: 10MiB, negative disables
	MaxWebSocketMessage int64         `yaml:"max_websocket_message"` // bytes, default: 1MiB
	RequestTimeout      time.Duration `yaml:"request_timeout"`       // 0 disables
}

type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowOrigins     []string      `yaml:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// JWTConfig configures bearer token authentication. SecretFile is read
// when Secret is empty.
type JWTConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Secret       string        `yaml:"secret"`
	SecretFile   string        `yaml:"secret_file"`
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	Leeway       time.Duration `yaml:"leeway"`
	ExcludePaths []string      `yaml:"exclude_paths"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second"` // per client address
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`   // default: true
	Path      string `yaml:"path"`      // default: /metrics
	Namespace string `yaml:"namespace"` // default: quickapi
}

type DocsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: /openapi.json
	UIPath  string `yaml:"ui_path"` // default: /docs, empty disables the page
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			TCPNoDelay:        true,
			KeepAlive:         30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Limits: LimitsConfig{
			MaxBodySize:         10 << 20,
			MaxWebSocketMessage: 1 << 20,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization"},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 100},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "quickapi"},
		Docs:      DocsConfig{Enabled: true, Path: "/openapi.json", UIPath: "/docs", Title: "QuickAPI", Version: "0.1.0"},
	}
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

func (c *Config) String() string {
	return fmt.Sprintf("env=%s addr=%s debug=%t", c.Env, c.Server.Addr(), c.Debug)
}
