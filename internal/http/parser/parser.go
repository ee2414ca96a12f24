package parser

// Incremental HTTP/1.1 request decoder. Bytes are fed in arbitrary-sized
// slices (whatever recv produced); the parser buffers leftovers and exposes
// exactly one completed request at a time. Pipelined requests survive in the
// buffer across Reset(preserveBuffer=true).
//
// Public contract:
//
//	p := parser.New()
//	res, err := p.Feed(data)   // Incomplete | Complete | Failed (err is *errors.ParseError)
//	req := p.Request()         // valid once res == Complete
//	p.Reset(true)              // next request, keeping buffered pipeline bytes
//
// Feed(nil) drives the state machine over already-buffered bytes only.
// After a Failed result every further Feed returns the same latched error
// without consuming anything.

import (
	"fmt"
	"strconv"
	"strings"

	protoerr "github.com/alxayo/go-httpd/internal/errors"
	"github.com/alxayo/go-httpd/internal/http/message"
)

// Phase is the decoder position inside one request.
type Phase uint8

const (
	PhaseRequestLine Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseChunkSize
	PhaseChunkData
	PhaseChunkCRLF
	PhaseChunkTrailers
	PhaseComplete
	PhaseError
)

// Result of one Feed call.
type Result uint8

const (
	Incomplete Result = iota
	Complete
	Failed
)

// Parser owns the unconsumed-byte buffer and the request under construction.
// Not safe for concurrent use; one parser belongs to exactly one connection.
type Parser struct {
	phase Phase

	buf  []byte // unconsumed bytes; head-advancing slice, compacted lazily
	head int    // consumed offset into buf

	req *message.Request

	contentLength  int64
	bodyReceived   int64
	chunkRemaining int64
	headerCount    int
	headerBytes    int // request line + header block bytes consumed so far

	chunked   bool
	keepAlive bool
	seenHost  bool
	hasLength bool

	errStatus int
	errReason string
	err       error
}

// New returns a parser positioned at the request line.
func New() *Parser {
	return &Parser{req: &message.Request{}}
}

// Request returns the request under construction. It is complete and safe to
// dispatch only after Feed has returned Complete.
func (p *Parser) Request() *message.Request { return p.req }

// Phase returns the current decoder phase (exposed for white-box tests and
// connection-state logging).
func (p *Parser) Phase() Phase { return p.phase }

// KeepAlive reports the connection persistence derived from the request:
// the version default overridden by any Connection header.
func (p *Parser) KeepAlive() bool { return p.keepAlive }

// Buffered returns the number of unconsumed bytes held for the next request.
func (p *Parser) Buffered() int { return len(p.buf) - p.head }

// Reset prepares the parser for the next request on the same connection.
// With preserveBuffer the leftover bytes of a pipelined request stay queued;
// otherwise the buffer is dropped.
func (p *Parser) Reset(preserveBuffer bool) {
	if preserveBuffer {
		p.compact()
	} else {
		p.buf = nil
		p.head = 0
	}
	p.phase = PhaseRequestLine
	p.req = &message.Request{}
	p.contentLength = 0
	p.bodyReceived = 0
	p.chunkRemaining = 0
	p.headerCount = 0
	p.headerBytes = 0
	p.chunked = false
	p.keepAlive = false
	p.seenHost = false
	p.hasLength = false
	p.errStatus = 0
	p.errReason = ""
	p.err = nil
}

// Feed appends data to the internal buffer and advances the state machine as
// far as the buffered bytes allow. A nil or empty slice re-drives the machine
// over leftovers only.
func (p *Parser) Feed(data []byte) (Result, error) {
	if p.phase == PhaseError {
		return Failed, p.err
	}
	if p.phase == PhaseComplete {
		// Caller must Reset before feeding the next request; buffer the bytes
		// so nothing is lost in the meantime.
		p.buf = append(p.buf, data...)
		return Complete, nil
	}
	if len(data) > 0 {
		if p.available()+len(data) > message.MaxRequestBuffer {
			return p.fail("feed.buffer", message.StatusPayloadTooLarge, "request exceeds buffer limit", nil)
		}
		p.compactIfSparse()
		p.buf = append(p.buf, data...)
	}
	return p.advance()
}

// advance runs the state machine until it needs more bytes, completes, or fails.
func (p *Parser) advance() (Result, error) {
	for {
		switch p.phase {
		case PhaseRequestLine:
			res, err, progressed := p.parseRequestLine()
			if !progressed {
				return res, err
			}
		case PhaseHeaders:
			res, err, progressed := p.parseHeaderLine()
			if !progressed {
				return res, err
			}
		case PhaseBody:
			if done := p.consumeBody(); !done {
				return Incomplete, nil
			}
			p.phase = PhaseComplete
			return Complete, nil
		case PhaseChunkSize:
			res, err, progressed := p.parseChunkSize()
			if !progressed {
				return res, err
			}
		case PhaseChunkData:
			if done := p.consumeChunkData(); !done {
				return Incomplete, nil
			}
			p.phase = PhaseChunkCRLF
		case PhaseChunkCRLF:
			res, err, progressed := p.consumeChunkCRLF()
			if !progressed {
				return res, err
			}
		case PhaseChunkTrailers:
			res, err, progressed := p.parseTrailerLine()
			if !progressed {
				return res, err
			}
			if p.phase == PhaseComplete {
				return Complete, nil
			}
		case PhaseComplete:
			return Complete, nil
		case PhaseError:
			return Failed, p.err
		}
	}
}

// available returns the number of buffered, unconsumed bytes.
func (p *Parser) available() int { return len(p.buf) - p.head }

// compact drops consumed bytes so the buffer only holds leftovers.
func (p *Parser) compact() {
	if p.head == 0 {
		return
	}
	n := copy(p.buf, p.buf[p.head:])
	p.buf = p.buf[:n]
	p.head = 0
}

// compactIfSparse compacts when the dead prefix dominates the buffer, keeping
// append-heavy small reads away from O(n²) memmove behavior.
func (p *Parser) compactIfSparse() {
	if p.head > 4096 && p.head > len(p.buf)/2 {
		p.compact()
	}
}

// takeLine returns the next line (without CRLF) if a full line is buffered.
// limit bounds the line length including the terminator; exceeding it without
// a newline in sight reports overflow.
func (p *Parser) takeLine(limit int) (line []byte, ok bool, overflow bool) {
	window := p.buf[p.head:]
	for i, c := range window {
		if c == '\n' {
			if i+1 > limit {
				return nil, false, true
			}
			end := i
			if end > 0 && window[end-1] == '\r' {
				end--
			}
			line = window[:end]
			p.head += i + 1
			return line, true, false
		}
		if i+1 > limit {
			return nil, false, true
		}
	}
	if len(window) > limit {
		return nil, false, true
	}
	return nil, false, false
}

func (p *Parser) fail(op string, status int, reason string, cause error) (Result, error) {
	p.phase = PhaseError
	p.errStatus = status
	p.errReason = reason
	p.err = protoerr.NewParseError(op, status, reason, cause)
	return Failed, p.err
}

// ErrorStatus returns the latched (status, reason) pair after a Failed result.
func (p *Parser) ErrorStatus() (int, string) { return p.errStatus, p.errReason }

// parseRequestLine decodes "METHOD SP target SP version". The bool result
// reports whether the machine advanced to the next phase.
func (p *Parser) parseRequestLine() (Result, error, bool) {
	line, ok, overflow := p.takeLine(message.MaxRequestLineLen)
	if overflow {
		r, e := p.fail("parse.request_line", message.StatusURITooLong, "request line too long", nil)
		return r, e, false
	}
	if !ok {
		return Incomplete, nil, false
	}
	p.headerBytes += len(line) + 2
	if len(line) == 0 {
		// Tolerate a stray CRLF before the request line (robustness per RFC 7230 §3.5).
		return Incomplete, nil, true
	}
	text := string(line)
	sp1 := strings.IndexByte(text, ' ')
	if sp1 < 0 {
		r, e := p.fail("parse.request_line", message.StatusBadRequest, "malformed request line", nil)
		return r, e, false
	}
	sp2 := strings.LastIndexByte(text, ' ')
	if sp2 == sp1 {
		r, e := p.fail("parse.request_line", message.StatusBadRequest, "malformed request line", nil)
		return r, e, false
	}
	methodTok, target, version := text[:sp1], text[sp1+1:sp2], text[sp2+1:]

	m, known := message.ParseMethod(methodTok)
	if !known {
		r, e := p.fail("parse.method", message.StatusNotImplemented, "unsupported method", fmt.Errorf("method %q", methodTok))
		return r, e, false
	}
	if target == "" || target[0] != '/' {
		r, e := p.fail("parse.target", message.StatusBadRequest, "invalid request target", nil)
		return r, e, false
	}
	if len(target) > message.MaxRequestLineLen {
		r, e := p.fail("parse.target", message.StatusURITooLong, "request target too long", nil)
		return r, e, false
	}
	switch version {
	case "HTTP/1.1":
		p.keepAlive = true
	case "HTTP/1.0":
		p.keepAlive = false
	default:
		r, e := p.fail("parse.version", message.StatusBadRequest, "unsupported protocol version", fmt.Errorf("version %q", version))
		return r, e, false
	}

	p.req.Method = m
	p.req.Proto = version
	if q := strings.IndexByte(target, '?'); q >= 0 {
		p.req.Path = target[:q]
		p.req.Query = target[q+1:]
	} else {
		p.req.Path = target
		p.req.Query = ""
	}
	p.phase = PhaseHeaders
	return Incomplete, nil, true
}

// parseHeaderLine decodes one header line or the blank terminator.
func (p *Parser) parseHeaderLine() (Result, error, bool) {
	line, ok, overflow := p.takeLine(message.MaxHeaderLineLen)
	if overflow {
		r, e := p.fail("parse.header", message.StatusHeaderFieldsTooLarge, "header line too long", nil)
		return r, e, false
	}
	if !ok {
		// The whole header block is also bounded even while a line is pending.
		if p.headerBytes+p.available() > message.MaxHeaderBytes {
			r, e := p.fail("parse.header", message.StatusHeaderFieldsTooLarge, "header block too large", nil)
			return r, e, false
		}
		return Incomplete, nil, false
	}
	p.headerBytes += len(line) + 2
	if p.headerBytes > message.MaxHeaderBytes {
		r, e := p.fail("parse.header", message.StatusHeaderFieldsTooLarge, "header block too large", nil)
		return r, e, false
	}

	if len(line) == 0 {
		return p.endOfHeaders()
	}

	colon := -1
	for i, c := range line {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon <= 0 {
		r, e := p.fail("parse.header", message.StatusBadRequest, "malformed header", nil)
		return r, e, false
	}
	name := strings.TrimRight(string(line[:colon]), " \t")
	value := strings.Trim(string(line[colon+1:]), " \t")
	if name == "" {
		r, e := p.fail("parse.header", message.StatusBadRequest, "empty header name", nil)
		return r, e, false
	}
	p.headerCount++
	if p.headerCount > message.MaxHeaderCount {
		r, e := p.fail("parse.header", message.StatusHeaderFieldsTooLarge, "too many headers", nil)
		return r, e, false
	}

	if res, err, ok := p.applyHeader(name, value); !ok {
		return res, err, false
	}
	p.req.Headers.Set(name, value)
	return Incomplete, nil, true
}

// applyHeader interprets the fields that drive the state machine.
func (p *Parser) applyHeader(name, value string) (Result, error, bool) {
	switch {
	case strings.EqualFold(name, "Content-Length"):
		if p.chunked {
			r, e := p.fail("parse.content_length", message.StatusBadRequest, "Content-Length conflicts with chunked encoding", nil)
			return r, e, false
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			r, e := p.fail("parse.content_length", message.StatusBadRequest, "invalid Content-Length", err)
			return r, e, false
		}
		if n > message.MaxBodyBytes {
			r, e := p.fail("parse.content_length", message.StatusPayloadTooLarge, "request body too large", nil)
			return r, e, false
		}
		p.contentLength = n
		p.hasLength = true
	case strings.EqualFold(name, "Transfer-Encoding"):
		if hasToken(value, "chunked") {
			if p.hasLength {
				r, e := p.fail("parse.transfer_encoding", message.StatusBadRequest, "chunked encoding conflicts with Content-Length", nil)
				return r, e, false
			}
			p.chunked = true
		}
	case strings.EqualFold(name, "Connection"):
		if hasToken(value, "close") {
			p.keepAlive = false
		} else if hasToken(value, "keep-alive") {
			p.keepAlive = true
		}
	case strings.EqualFold(name, "Host"):
		p.seenHost = true
	}
	return Incomplete, nil, true
}

// endOfHeaders validates the header block and selects the body phase.
func (p *Parser) endOfHeaders() (Result, error, bool) {
	if p.req.Proto == "HTTP/1.1" && !p.seenHost {
		r, e := p.fail("parse.host", message.StatusBadRequest, "missing Host header", nil)
		return r, e, false
	}
	switch {
	case p.chunked:
		p.phase = PhaseChunkSize
	case p.contentLength > 0:
		p.req.Body = make([]byte, 0, p.contentLength)
		p.phase = PhaseBody
	default:
		p.phase = PhaseComplete
	}
	return Incomplete, nil, true
}

// consumeBody appends buffered bytes to the fixed-length body. Reports true
// once contentLength bytes have been captured.
func (p *Parser) consumeBody() bool {
	want := p.contentLength - p.bodyReceived
	if want == 0 {
		return true
	}
	avail := int64(p.available())
	if avail == 0 {
		return false
	}
	take := want
	if avail < take {
		take = avail
	}
	p.req.Body = append(p.req.Body, p.buf[p.head:p.head+int(take)]...)
	p.head += int(take)
	p.bodyReceived += take
	return p.bodyReceived == p.contentLength
}

// parseChunkSize decodes "size[;extensions] CRLF". Sizes are read as 64-bit
// values; anything pushing the body past the cap is rejected rather than
// truncated.
func (p *Parser) parseChunkSize() (Result, error, bool) {
	line, ok, overflow := p.takeLine(message.MaxHeaderLineLen)
	if overflow {
		r, e := p.fail("parse.chunk_size", message.StatusBadRequest, "chunk size line too long", nil)
		return r, e, false
	}
	if !ok {
		return Incomplete, nil, false
	}
	text := string(line)
	if semi := strings.IndexByte(text, ';'); semi >= 0 {
		text = text[:semi]
	}
	text = strings.TrimSpace(text)
	size, err := strconv.ParseUint(text, 16, 63)
	if err != nil {
		r, e := p.fail("parse.chunk_size", message.StatusBadRequest, "invalid chunk size", err)
		return r, e, false
	}
	if size == 0 {
		p.phase = PhaseChunkTrailers
		return Incomplete, nil, true
	}
	if p.bodyReceived+int64(size) > message.MaxBodyBytes {
		r, e := p.fail("parse.chunk_size", message.StatusPayloadTooLarge, "request body too large", nil)
		return r, e, false
	}
	p.chunkRemaining = int64(size)
	if p.req.Body == nil {
		p.req.Body = make([]byte, 0, size)
	}
	p.phase = PhaseChunkData
	return Incomplete, nil, true
}

// consumeChunkData appends chunk payload bytes; true when the chunk is drained.
func (p *Parser) consumeChunkData() bool {
	if p.chunkRemaining == 0 {
		return true
	}
	avail := int64(p.available())
	if avail == 0 {
		return false
	}
	take := p.chunkRemaining
	if avail < take {
		take = avail
	}
	p.req.Body = append(p.req.Body, p.buf[p.head:p.head+int(take)]...)
	p.head += int(take)
	p.bodyReceived += take
	p.chunkRemaining -= take
	return p.chunkRemaining == 0
}

// consumeChunkCRLF eats the mandatory CRLF after chunk data.
func (p *Parser) consumeChunkCRLF() (Result, error, bool) {
	if p.available() < 2 {
		return Incomplete, nil, false
	}
	if p.buf[p.head] != '\r' || p.buf[p.head+1] != '\n' {
		r, e := p.fail("parse.chunk_crlf", message.StatusBadRequest, "missing CRLF after chunk data", nil)
		return r, e, false
	}
	p.head += 2
	p.phase = PhaseChunkSize
	return Incomplete, nil, true
}

// parseTrailerLine reads and discards trailer lines until the blank line.
func (p *Parser) parseTrailerLine() (Result, error, bool) {
	line, ok, overflow := p.takeLine(message.MaxHeaderLineLen)
	if overflow {
		r, e := p.fail("parse.trailer", message.StatusHeaderFieldsTooLarge, "trailer line too long", nil)
		return r, e, false
	}
	if !ok {
		return Incomplete, nil, false
	}
	if len(line) == 0 {
		p.phase = PhaseComplete
	}
	return Incomplete, nil, true
}

// hasToken reports whether a comma-separated header value contains the token
// (case-insensitive).
func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
