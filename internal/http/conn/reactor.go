package conn

// Reactor-mode driver: the FSM advances inside readiness callbacks. Interest
// alternates between read and write exactly once per request cycle; the
// suspension points are the returns from onEvent back to the loop.

import (
	"errors"
	"io"
	"time"

	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/parser"
	"github.com/alxayo/go-httpd/internal/http/reactor"
	"github.com/alxayo/go-httpd/internal/http/writer"
)

// AcceptReactor wires a non-blocking descriptor into the reactor and returns
// the connection record. The descriptor must already be in non-blocking mode.
func AcceptReactor(fd int, remote string, router message.Router, rt *reactor.Reactor, idleTimeout time.Duration, onClose func(*Connection)) (*Connection, error) {
	c := newConnection(fd, fdStream{fd: fd}, remote, router, rt, onClose)
	c.idleTimeout = idleTimeout
	if err := rt.Add(fd, reactor.EventRead, c.onEvent); err != nil {
		_ = c.stream.Close()
		return nil, err
	}
	c.armIdleTimer()
	c.log.Info("connection accepted", "mode", "reactor")
	return c, nil
}

// onEvent is the single reactor callback for this connection.
func (c *Connection) onEvent(_ int, ev reactor.Event) {
	if c.state == StateClosed {
		return
	}
	if ev&reactor.EventError != 0 {
		c.close("socket error")
		return
	}
	switch c.state {
	case StateAcceptingRead:
		if ev&reactor.EventRead != 0 {
			c.disarmIdleTimer()
			c.readCycle()
		}
	case StateWriting:
		if ev&reactor.EventWrite != 0 {
			c.writeCycle()
		}
	}
}

// readCycle drains readable bytes into the parser until the socket would
// block or a request completes/fails.
func (c *Connection) readCycle() {
	for c.state == StateAcceptingRead {
		n, err := c.stream.Read(c.readBuf)
		if err != nil {
			switch {
			case errors.Is(err, message.ErrWouldBlock):
				c.armIdleTimer()
				return
			case errors.Is(err, io.EOF):
				c.close("peer closed")
				return
			default:
				c.log.Warn("read failed", "error", err)
				c.close("read error")
				return
			}
		}
		res, _ := c.parser.Feed(c.readBuf[:n])
		switch res {
		case parser.Complete:
			c.dispatch()
			return
		case parser.Failed:
			c.failRequest()
			return
		}
	}
}

// writeCycle pumps serialized bytes until the socket would block or the
// response is fully on the wire.
func (c *Connection) writeCycle() {
	res, err := c.writer.Pump(c.stream)
	switch res {
	case writer.WouldBlock:
		return
	case writer.Error:
		c.log.Warn("write failed", "error", err)
		c.close("write error")
	case writer.Done:
		c.finishResponse()
	}
}
