package writer

// Non-blocking response serializer. Prepare renders the status line and
// header block once; Pump then pushes header and body bytes through the
// stream, surviving partial sends. The same writer drives both execution
// modes: in threaded mode the stream blocks and Pump finishes in one call,
// in reactor mode Pump is re-entered on every write-readiness event.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	protoerr "github.com/alxayo/go-httpd/internal/errors"
	"github.com/alxayo/go-httpd/internal/http/message"
)

// Result of one Pump call.
type Result uint8

const (
	WouldBlock Result = iota
	Done
	Error
)

const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// Writer tracks serialization progress for a single response.
type Writer struct {
	header     []byte
	headerSent int
	body       []byte
	bodySent   int
	closing    bool
	prepared   bool

	// now is stubbed in tests for a deterministic Date header.
	now func() time.Time
}

// New returns an idle writer ready for Prepare.
func New() *Writer { return &Writer{now: time.Now} }

// Closing reports whether this response will be followed by connection
// teardown (either requested by the caller or forced by the handler).
func (w *Writer) Closing() bool { return w.closing }

// Prepare serializes the response head. The writer injects Date,
// Content-Length and Connection, overriding any handler-set values; all other
// headers are emitted in insertion order with their original casing. A
// handler-set "Connection: close" overrides keepAlive.
func (w *Writer) Prepare(resp *message.Response, keepAlive bool) error {
	if resp == nil {
		return protoerr.NewWriteError("writer.prepare", errors.New("nil response"))
	}
	if resp.Sent() {
		return protoerr.NewWriteError("writer.prepare", errors.New("response already sent"))
	}
	if w.prepared {
		return protoerr.NewWriteError("writer.prepare", errors.New("writer busy"))
	}
	if resp.ForcesClose() {
		keepAlive = false
	}
	w.closing = !keepAlive

	var b strings.Builder
	b.Grow(256 + resp.Headers.Len()*32)
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(resp.Status))
	b.WriteByte(' ')
	b.WriteString(message.StatusReason(resp.Status))
	b.WriteString("\r\n")

	b.WriteString("Date: ")
	b.WriteString(w.now().UTC().Format(rfc1123GMT))
	b.WriteString("\r\n")
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(resp.Body)))
	b.WriteString("\r\n")
	if keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}

	resp.Headers.Each(func(name, value string) {
		switch strings.ToLower(name) {
		case "date", "content-length", "connection":
			return
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")

	w.header = []byte(b.String())
	w.headerSent = 0
	w.body = resp.Body
	w.bodySent = 0
	w.prepared = true
	return nil
}

// Pump sends as many bytes as the stream accepts. Partial progress is
// recorded so the next call resumes where this one stopped.
func (w *Writer) Pump(s message.Stream) (Result, error) {
	if !w.prepared {
		return Error, protoerr.NewWriteError("writer.pump", errors.New("pump before prepare"))
	}
	for w.headerSent < len(w.header) {
		n, err := s.Write(w.header[w.headerSent:])
		w.headerSent += n
		if err != nil {
			if errors.Is(err, message.ErrWouldBlock) {
				return WouldBlock, nil
			}
			return Error, protoerr.NewIOError("writer.send_header", err)
		}
		if n == 0 {
			return Error, protoerr.NewIOError("writer.send_header", fmt.Errorf("zero-byte write"))
		}
	}
	for w.bodySent < len(w.body) {
		n, err := s.Write(w.body[w.bodySent:])
		w.bodySent += n
		if err != nil {
			if errors.Is(err, message.ErrWouldBlock) {
				return WouldBlock, nil
			}
			return Error, protoerr.NewIOError("writer.send_body", err)
		}
		if n == 0 {
			return Error, protoerr.NewIOError("writer.send_body", fmt.Errorf("zero-byte write"))
		}
	}
	return Done, nil
}

// Reset releases buffers so the writer can serve the next response on a
// keep-alive connection.
func (w *Writer) Reset() {
	w.header = nil
	w.headerSent = 0
	w.body = nil
	w.bodySent = 0
	w.closing = false
	w.prepared = false
}
