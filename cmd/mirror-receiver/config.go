package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	queueCapacity   int
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":9999", "QUIC listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", ":9100", "Metrics HTTP listen address (e.g., :9100); empty disables")
	queueCapacity := flag.Int("queue-capacity", 60, "Frame queue capacity (frames)")
	idleTimeout := flag.Duration("idle-timeout", 3*time.Second, "Presenter idle timeout before falling back to Waiting")
	shutdownTimeout := flag.Duration("shutdown-timeout", 5*time.Second, "Graceful shutdown deadline")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.queueCapacity = *queueCapacity
	cfg.idleTimeout = *idleTimeout
	cfg.shutdownTimeout = *shutdownTimeout

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open listeners - only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.queueCapacity <= 0 {
		return fmt.Errorf("queue-capacity must be > 0 (got %d)", c.queueCapacity)
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.shutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps THUNDERMIRROR_* environment variables to config
// fields unless the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("THUNDERMIRROR_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("THUNDERMIRROR_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("THUNDERMIRROR_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("THUNDERMIRROR_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["queue-capacity"]; !ok {
		if v, ok := get("THUNDERMIRROR_QUEUE_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.queueCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid THUNDERMIRROR_QUEUE_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["idle-timeout"]; !ok {
		if v, ok := get("THUNDERMIRROR_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.idleTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid THUNDERMIRROR_IDLE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["shutdown-timeout"]; !ok {
		if v, ok := get("THUNDERMIRROR_SHUTDOWN_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.shutdownTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid THUNDERMIRROR_SHUTDOWN_TIMEOUT: %w", err)
			}
		}
	}
	return firstErr
}
