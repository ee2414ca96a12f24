package server

// HTTP server listener and connection manager. Two execution models are
// selectable before listen:
//
//   - ModeThreaded: an accept loop plus one goroutine per connection running
//     the blocking FSM. No shared mutable state between connections.
//   - ModeReactor: one goroutine drives the reactor; the listening socket and
//     every connection advance inside readiness callbacks.
//
// Exposed methods for tests and embedders: Start, Stop, Addr, ConnectionCount.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alxayo/go-httpd/internal/http/conn"
	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/reactor"
	"github.com/alxayo/go-httpd/internal/logger"
)

// Mode selects the execution model.
type Mode string

const (
	ModeThreaded Mode = "threaded"
	ModeReactor  Mode = "reactor"
)

// Config holds server configuration knobs.
type Config struct {
	ListenAddr  string
	Mode        Mode
	Router      message.Router
	IdleTimeout time.Duration // zero disables per-connection idle timers
	LogLevel    string
}

// applyDefaults fills zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Mode == "" {
		c.Mode = ModeThreaded
	}
	if c.Router == nil {
		c.Router = message.RouterFunc(func(*message.Request, *message.Response) bool { return false })
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Server encapsulates the listener plus active connection tracking.
type Server struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*conn.Connection
	closing bool

	// threaded mode
	l net.Listener

	// reactor mode
	rt       *reactor.Reactor
	listenFd int

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a new, unstarted Server instance.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:      cfg,
		conns:    make(map[string]*conn.Connection),
		log:      logger.Logger().With("component", "http_server", "mode", string(cfg.Mode)),
		listenFd: -1,
	}
}

// Start binds the listening socket and launches the serving goroutines. It is
// safe to call only once; repeated calls return an error.
func (s *Server) Start() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.l != nil || s.listenFd >= 0 {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(ctx)
	s.group = g
	s.cancel = cancel

	switch s.cfg.Mode {
	case ModeReactor:
		return s.startReactor()
	default:
		return s.startThreaded()
	}
}

// startThreaded opens a net.Listener and runs the accept loop.
func (s *Server) startThreaded() error {
	ln, err := net.Listen("tcp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.l = ln
	s.mu.Unlock()
	s.log.Info("http server listening", "addr", ln.Addr().String())
	s.group.Go(func() error {
		s.acceptLoop(ln)
		return nil
	})
	return nil
}

// acceptLoop runs until listener close. Accept failures other than clean
// shutdown are logged and the loop continues.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		c := conn.AcceptBlocking(raw, s.cfg.Router, s.cfg.IdleTimeout, s.untrack)
		s.track(c)
		go c.Serve()
	}
}

func (s *Server) track(c *conn.Connection) {
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn.Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
}

// Stop gracefully shuts down: stop accepting, close all connections, wait
// for the serving goroutines.
func (s *Server) Stop() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.l
	s.l = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.stopReactor()

	s.mu.RLock()
	open := make([]*conn.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.RUnlock()
	for _, c := range open {
		c.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	s.log.Info("http server stopped")
	return nil
}

// Addr returns the bound listener address ("" when not started).
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.l != nil {
		return s.l.Addr().String()
	}
	return s.reactorAddr()
}

// ConnectionCount returns the current number of tracked active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
