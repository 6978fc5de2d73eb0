package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be within 0-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	if c.JWT.Enabled && c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt.secret or jwt.secret_file is required when jwt is enabled"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be > 0, got %d", c.RateLimit.RequestsPerSecond))
	}
	if c.CORS.Enabled && len(c.CORS.AllowOrigins) == 0 {
		errs = append(errs, fmt.Errorf("cors.allow_origins must not be empty when cors is enabled"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path))
	}
	if c.Docs.Enabled && !strings.HasPrefix(c.Docs.Path, "/") {
		errs = append(errs, fmt.Errorf("docs.path must start with '/', got %q", c.Docs.Path))
	}
	if c.Docs.Enabled && c.Docs.UIPath != "" && !strings.HasPrefix(c.Docs.UIPath, "/") {
		errs = append(errs, fmt.Errorf("docs.ui_path must start with '/', got %q", c.Docs.UIPath))
	}

	return errors.Join(errs...)
}
