package conn

// Connection lifecycle engine. One Connection drives an accepted socket
// through read → parse → dispatch → serialize → write → reset (keep-alive)
// or close. The same record backs both execution modes: the reactor variant
// advances on readiness callbacks (reactor.go in this package), the threaded
// variant runs the identical steps with blocking I/O (blocking.go).

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/alxayo/go-httpd/internal/bufpool"
	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/parser"
	"github.com/alxayo/go-httpd/internal/http/reactor"
	"github.com/alxayo/go-httpd/internal/http/writer"
	"github.com/alxayo/go-httpd/internal/logger"
)

// State of the per-connection FSM.
type State uint8

const (
	StateAcceptingRead State = iota
	StateDispatching
	StatePreparingWrite
	StateWriting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAcceptingRead:
		return "accepting_read"
	case StateDispatching:
		return "dispatching"
	case StatePreparingWrite:
		return "preparing_write"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const readBufSize = 4096

// Connection owns the parser, writer, and response for one accepted socket.
type Connection struct {
	id         string
	fd         int // -1 in threaded mode
	netConn    net.Conn // set in threaded mode only (deadline control)
	stream     message.Stream
	parser     *parser.Parser
	writer     *writer.Writer
	resp       *message.Response
	router     message.Router
	rt         *reactor.Reactor // nil in threaded mode
	remoteAddr string

	state      State
	closed     atomic.Bool
	keepAlive  bool
	closeAfter bool // parse errors close regardless of keep-alive
	hijacked   bool

	idleTimeout time.Duration
	idleTimer   int // reactor timer id, 0 when unarmed

	readBuf []byte
	log     *slog.Logger
	onClose func(*Connection)
}

var connCounter uint64

// nextID generates a simple monotonically increasing connection identifier.
func nextID() string { return fmt.Sprintf("c%06d", atomic.AddUint64(&connCounter, 1)) }

// ID returns the logical connection id.
func (c *Connection) ID() string { return c.id }

// State returns the current FSM state.
func (c *Connection) State() State { return c.state }

// Hijacked reports whether a handler took over the descriptor.
func (c *Connection) Hijacked() bool { return c.hijacked }

func newConnection(fd int, stream message.Stream, remote string, router message.Router, rt *reactor.Reactor, onClose func(*Connection)) *Connection {
	id := nextID()
	return &Connection{
		id:         id,
		fd:         fd,
		stream:     stream,
		parser:     parser.New(),
		writer:     writer.New(),
		resp:       message.NewResponse(),
		router:     router,
		rt:         rt,
		remoteAddr: remote,
		state:      StateAcceptingRead,
		readBuf:    bufpool.Get(readBufSize),
		log:        logger.WithConn(logger.Logger(), id, remote),
		onClose:    onClose,
	}
}

// dispatch hands the completed request to the router and derives keep-alive.
// Handler panics degrade to a 500 so one bad route cannot take the server down.
func (c *Connection) dispatch() {
	c.state = StateDispatching
	req := c.parser.Request()
	req.RemoteAddr = c.remoteAddr
	req.HijackFn = func() message.Stream {
		c.hijacked = true
		return c.stream
	}

	matched := c.routeSafely(req)

	if c.hijacked {
		c.relinquish()
		return
	}
	if !matched {
		c.resp.Text(message.StatusNotFound, "404 Not Found\n")
	}
	c.keepAlive = c.parser.KeepAlive() && !c.resp.ForcesClose()
	c.prepareWrite()
}

func (c *Connection) routeSafely(req *message.Request) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("handler panic", "method", req.Method.String(), "path", req.Path, "panic", rec)
			c.resp.Reset()
			c.resp.ErrorText(message.StatusInternalServerError, "")
			matched = true
		}
	}()
	return c.router.Route(req, c.resp)
}

// failRequest synthesizes the error response for a latched parse failure.
// The connection always closes after emitting it.
func (c *Connection) failRequest() {
	status, reason := c.parser.ErrorStatus()
	if status == 0 {
		status = message.StatusBadRequest
	}
	c.log.Warn("request rejected", "status", status, "reason", reason)
	c.resp.Reset()
	c.resp.ErrorText(status, reason)
	c.keepAlive = false
	c.closeAfter = true
	c.prepareWrite()
}

// prepareWrite serializes the head and moves the FSM into WRITING.
func (c *Connection) prepareWrite() {
	c.state = StatePreparingWrite
	if err := c.writer.Prepare(c.resp, c.keepAlive); err != nil {
		c.log.Error("prepare failed", "error", err)
		c.close("prepare failure")
		return
	}
	c.state = StateWriting
	if c.rt != nil {
		if err := c.rt.Modify(c.fd, reactor.EventWrite); err != nil {
			c.close("interest switch failed")
		}
	}
}

// finishResponse runs after a completed write: either tears the connection
// down or resets for the next request, taking the pipelining fast path when a
// complete request is already buffered.
func (c *Connection) finishResponse() {
	c.resp.MarkSent()
	if !c.keepAlive || c.closeAfter {
		c.close("connection done")
		return
	}
	c.writer.Reset()
	c.resp = message.NewResponse()
	c.parser.Reset(true)
	if c.parser.Buffered() > 0 {
		res, _ := c.parser.Feed(nil)
		switch res {
		case parser.Complete:
			// Pipelining fast path: the next request is already here; dispatch
			// without yielding to the reactor.
			c.dispatch()
			return
		case parser.Failed:
			c.failRequest()
			return
		}
	}
	c.state = StateAcceptingRead
	if c.rt != nil {
		if err := c.rt.Modify(c.fd, reactor.EventRead); err != nil {
			c.close("interest switch failed")
			return
		}
		c.armIdleTimer()
	}
}

// relinquish detaches the FSM from a hijacked descriptor without closing it.
// The handler that performed the upgrade now owns the stream.
func (c *Connection) relinquish() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.state = StateClosed
	c.disarmIdleTimer()
	if c.rt != nil {
		_ = c.rt.Remove(c.fd)
	}
	c.releaseBuffers()
	if c.onClose != nil {
		c.onClose(c)
	}
	c.log.Info("connection hijacked")
}

// close tears the connection down: deregister, close descriptor, release
// buffers, notify the owner.
func (c *Connection) close(reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.state = StateClosed
	c.disarmIdleTimer()
	if c.rt != nil {
		_ = c.rt.Remove(c.fd)
	}
	_ = c.stream.Close()
	c.releaseBuffers()
	if c.onClose != nil {
		c.onClose(c)
	}
	c.log.Debug("connection closed", "reason", reason)
}

func (c *Connection) releaseBuffers() {
	if c.readBuf != nil {
		bufpool.Put(c.readBuf)
		c.readBuf = nil
	}
}

func (c *Connection) armIdleTimer() {
	if c.rt == nil || c.idleTimeout <= 0 {
		return
	}
	c.disarmIdleTimer()
	id, err := c.rt.AddTimer(c.idleTimeout, func(int, reactor.Event) {
		c.log.Debug("idle timeout")
		c.close("idle timeout")
	})
	if err != nil {
		// Timer table full: the connection simply runs without an idle bound.
		return
	}
	c.idleTimer = id
}

func (c *Connection) disarmIdleTimer() {
	if c.rt != nil && c.idleTimer != 0 {
		_ = c.rt.CancelTimer(c.idleTimer)
		c.idleTimer = 0
	}
}

// Log returns the connection-scoped logger.
func (c *Connection) Log() *slog.Logger { return c.log }
