package conn

// Threaded-mode driver: a dedicated goroutine runs the same FSM with
// blocking reads and writes and no reactor interaction. Parser and writer
// semantics are identical to the reactor path.

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/parser"
	"github.com/alxayo/go-httpd/internal/http/writer"
)

// AcceptBlocking builds a connection record around an accepted net.Conn.
// The caller runs Serve on its own goroutine.
func AcceptBlocking(nc net.Conn, router message.Router, idleTimeout time.Duration, onClose func(*Connection)) *Connection {
	c := newConnection(-1, nc, nc.RemoteAddr().String(), router, nil, onClose)
	c.idleTimeout = idleTimeout
	c.netConn = nc
	c.log.Info("connection accepted", "mode", "threaded")
	return c
}

// Serve drives request/response cycles until the peer disconnects, a parse
// error closes the connection, or a handler hijacks the stream.
func (c *Connection) Serve() {
	for c.state != StateClosed {
		if !c.readRequestBlocking() {
			return
		}
		// dispatch/prepare ran inside the FSM helpers; if the handler
		// hijacked the stream the state is already terminal.
		if c.state != StateWriting {
			return
		}
		if !c.writeResponseBlocking() {
			return
		}
	}
}

// readRequestBlocking blocks until one request completes or the connection
// dies. It drives buffered pipeline leftovers before touching the socket.
func (c *Connection) readRequestBlocking() bool {
	for {
		res, _ := c.parser.Feed(nil)
		switch res {
		case parser.Complete:
			c.dispatch()
			return c.state != StateClosed
		case parser.Failed:
			c.failRequest()
			return c.state != StateClosed
		}
		if c.idleTimeout > 0 {
			_ = c.netConn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		n, err := c.stream.Read(c.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.close("peer closed")
			} else {
				c.log.Warn("read failed", "error", err)
				c.close("read error")
			}
			return false
		}
		res, _ = c.parser.Feed(c.readBuf[:n])
		switch res {
		case parser.Complete:
			c.dispatch()
			return c.state != StateClosed
		case parser.Failed:
			c.failRequest()
			return c.state != StateClosed
		}
	}
}

// writeResponseBlocking sends the whole response. Blocking sockets never
// report WouldBlock, so a single Pump normally finishes the job.
func (c *Connection) writeResponseBlocking() bool {
	for {
		res, err := c.writer.Pump(c.stream)
		switch res {
		case writer.Done:
			c.finishResponse()
			// finishResponse either closed, re-dispatched (pipelining), or
			// reset to AcceptingRead. A re-dispatch lands back in WRITING.
			if c.state == StateWriting {
				continue
			}
			return c.state != StateClosed
		case writer.WouldBlock:
			continue
		case writer.Error:
			c.log.Warn("write failed", "error", err)
			c.close("write error")
			return false
		}
	}
}

// Close terminates the connection from outside the FSM (server shutdown).
func (c *Connection) Close() {
	c.close("server shutdown")
}
