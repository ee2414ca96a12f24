package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/ratelimit"
	"github.com/alxayo/go-httpd/internal/http/router"
	srv "github.com/alxayo/go-httpd/internal/http/server"
	"github.com/alxayo/go-httpd/internal/http/static"
	"github.com/alxayo/go-httpd/internal/logger"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// parseFlags (or the flag package) already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	r := router.New()
	r.Get("/healthz", func(req *message.Request, resp *message.Response) {
		resp.JSON(message.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if cfg.staticDir != "" {
		h := static.New(cfg.staticDir, cfg.staticPrefix)
		r.Get(cfg.staticPrefix+"/:path", h.Serve)
	}

	var limiter *ratelimit.Limiter
	var route message.Router = r
	if cfg.rateLimit > 0 {
		limiter = ratelimit.New(cfg.rateLimit, cfg.rateBurst)
		defer limiter.Close()
		route = limitedRouter{inner: r, limiter: limiter}
	}

	server := srv.New(srv.Config{
		ListenAddr:  cfg.listenAddr,
		Mode:        srv.Mode(cfg.mode),
		Router:      route,
		IdleTimeout: cfg.idleTimeout,
		LogLevel:    cfg.logLevel,
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr(), "mode", cfg.mode, "version", version)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Perform shutdown in a separate goroutine in case it blocks; we just wait or force exit on timeout.
	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// limitedRouter gates every dispatch through the per-client limiter.
type limitedRouter struct {
	inner   message.Router
	limiter *ratelimit.Limiter
}

func (l limitedRouter) Route(req *message.Request, resp *message.Response) bool {
	wrapped := l.limiter.Wrap(func(rq *message.Request, rs *message.Response) {
		if !l.inner.Route(rq, rs) {
			rs.Text(message.StatusNotFound, "404 Not Found\n")
		}
	})
	wrapped(req, resp)
	return true
}
