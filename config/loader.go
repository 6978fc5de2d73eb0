package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUICKAPI_"

// Load loads configuration from a layered set of sources:
//  1. Built-in defaults
//  2. YAML config file (explicit path, QUICKAPI_CONFIG, ./quickapi.yaml)
//  3. QUICKAPI_* environment variables
//  4. File reference resolution (jwt.secret_file)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// New loads configuration from flags on top of Load. It exits on -h and
// on invalid flags, like flag.Parse.
func New() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse registers the flags on fs, parses args and applies the flags that
// were set over the file and environment layers.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	var (
		path         = fs.String("config", "", "path to a YAML config file")
		port         = fs.Int("port", 8080, "HTTP server port")
		env          = fs.String("env", "development", "environment (development/production)")
		debug        = fs.Bool("debug", false, "expose failure detail in 500 responses")
		readTimeout  = fs.Duration("read-timeout", 0, "HTTP read timeout")
		writeTimeout = fs.Duration("write-timeout", 0, "HTTP write timeout")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "env":
			cfg.Env = *env
		case "debug":
			cfg.Debug = *debug
		case "read-timeout":
			cfg.Server.ReadTimeout = *readTimeout
		case "write-timeout":
			cfg.Server.WriteTimeout = *writeTimeout
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"quickapi.yaml", "quickapi.yml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile decodes path into cfg. Fields absent from the file keep
// their current values; unknown fields are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a number", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a boolean", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	str("ENV", &cfg.Env)
	boolean("DEBUG", &cfg.Debug)
	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	boolean("H2C", &cfg.Server.H2C)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("JWT_SECRET", &cfg.JWT.Secret)
	boolean("JWT_ENABLED", &cfg.JWT.Enabled)
	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	boolean("DOCS_ENABLED", &cfg.Docs.Enabled)

	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		rps, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sRATE_LIMIT=%q is not a number", EnvPrefix, v))
		} else {
			cfg.RateLimit.Enabled = rps > 0
			cfg.RateLimit.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv(EnvPrefix + "CORS_ORIGINS"); v != "" {
		cfg.CORS.Enabled = true
		cfg.CORS.AllowOrigins = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolveFileReferences(cfg *Config) error {
	if cfg.JWT.SecretFile != "" && cfg.JWT.Secret == "" {
		data, err := os.ReadFile(cfg.JWT.SecretFile)
		if err != nil {
			return fmt.Errorf("jwt.secret_file: %w", err)
		}
		cfg.JWT.Secret = strings.TrimSpace(string(data))
	}
	return nil
}
