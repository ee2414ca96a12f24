package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into server.Config.
// parseFlags validates them; main.go maps them.
type cliConfig struct {
	listenAddr   string
	mode         string
	logLevel     string
	staticDir    string
	staticPrefix string
	idleTimeout  time.Duration
	rateLimit    float64
	rateBurst    int
	showVersion  bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("httpd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "TCP listen address (e.g. :8080 or 0.0.0.0:8080)")
	fs.StringVar(&cfg.mode, "mode", "threaded", "Execution model: threaded|reactor")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.staticDir, "static-dir", "", "Serve static files from this directory (empty=disabled)")
	fs.StringVar(&cfg.staticPrefix, "static-prefix", "/static", "URL prefix for the static file handler")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Per-connection idle timeout (0=disabled)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 0, "Per-client requests per second (0=disabled)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 10, "Per-client burst size when rate limiting")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// The flag set prints its own parse errors; validation errors are printed
	// to the same output here.
	invalid := func(err error) (*cliConfig, error) {
		fmt.Fprintln(fs.Output(), err)
		return nil, err
	}

	switch cfg.mode {
	case "threaded", "reactor":
	default:
		return invalid(fmt.Errorf("invalid mode %q, must be threaded or reactor", cfg.mode))
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Errorf("invalid log-level %q", cfg.logLevel))
	}

	if cfg.rateLimit < 0 {
		return invalid(errors.New("rate-limit must be non-negative"))
	}
	if cfg.rateBurst < 1 {
		return invalid(errors.New("rate-burst must be at least 1"))
	}
	if cfg.staticDir != "" {
		info, err := os.Stat(cfg.staticDir)
		if err != nil || !info.IsDir() {
			return invalid(fmt.Errorf("static-dir %q is not a directory", cfg.staticDir))
		}
	}

	return cfg, nil
}
