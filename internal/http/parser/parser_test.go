package parser

import (
	"bytes"
	"strings"
	"testing"

	protoerr "github.com/alxayo/go-httpd/internal/errors"
	"github.com/alxayo/go-httpd/internal/http/message"
)

// feedAll pushes the whole buffer in one call and returns the result; the
// caller checks it.
func feedAll(t *testing.T, p *Parser, data string) Result {
	t.Helper()
	res, _ := p.Feed([]byte(data))
	return res
}

func mustComplete(t *testing.T, p *Parser, data string) *message.Request {
	t.Helper()
	res, err := p.Feed([]byte(data))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if res != Complete {
		t.Fatalf("expected Complete, got %v (phase %v)", res, p.Phase())
	}
	return p.Request()
}

func TestParser_SimpleGet(t *testing.T) {
	p := New()
	req := mustComplete(t, p, "GET /index.html?q=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if req.Method != message.MethodGet {
		t.Fatalf("method: %v", req.Method)
	}
	if req.Path != "/index.html" || req.Query != "q=1" {
		t.Fatalf("target: %q %q", req.Path, req.Query)
	}
	if req.Proto != "HTTP/1.1" {
		t.Fatalf("proto: %q", req.Proto)
	}
	if !p.KeepAlive() {
		t.Fatalf("HTTP/1.1 should default to keep-alive")
	}
	if host := req.Header("host"); host != "example.com" {
		t.Fatalf("case-insensitive header lookup failed: %q", host)
	}
}

func TestParser_ByteAtATimeEqualsWholeBuffer(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nX-Tag: v\r\n\r\nhello"

	whole := New()
	wreq := mustComplete(t, whole, raw)

	bytewise := New()
	var last Result
	for i := 0; i < len(raw); i++ {
		res, err := bytewise.Feed([]byte{raw[i]})
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		last = res
		if res == Complete && i != len(raw)-1 {
			t.Fatalf("completed early at byte %d", i)
		}
	}
	if last != Complete {
		t.Fatalf("byte-at-a-time never completed")
	}
	breq := bytewise.Request()
	if wreq.Method != breq.Method || wreq.Path != breq.Path || !bytes.Equal(wreq.Body, breq.Body) {
		t.Fatalf("byte-at-a-time mismatch: %+v vs %+v", wreq, breq)
	}
	if breq.Header("X-Tag") != "v" {
		t.Fatalf("lost header in byte-wise parse")
	}
}

func TestParser_PipelinedRequestsInOneBuffer(t *testing.T) {
	p := New()
	data := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	req := mustComplete(t, p, data)
	if req.Path != "/a" {
		t.Fatalf("first request path: %q", req.Path)
	}
	if p.Buffered() == 0 {
		t.Fatalf("second request should remain buffered")
	}

	p.Reset(true)
	res, err := p.Feed(nil)
	if err != nil {
		t.Fatalf("Feed(nil): %v", err)
	}
	if res != Complete {
		t.Fatalf("expected buffered second request to complete, got %v", res)
	}
	second := p.Request()
	if second.Path != "/b" {
		t.Fatalf("second request path: %q", second.Path)
	}
	if p.KeepAlive() {
		t.Fatalf("Connection: close must override the 1.1 default")
	}
}

func TestParser_ResetPreserveEqualsFreshParser(t *testing.T) {
	first := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	second := "POST /b HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc"

	// Split the concatenation at an awkward point: the tail of request A
	// carries the head of request B.
	combined := first + second
	p := New()
	if res := feedAll(t, p, combined[:len(first)+7]); res != Complete {
		t.Fatalf("first request should complete, got %v", res)
	}
	p.Reset(true)
	res, _ := p.Feed([]byte(combined[len(first)+7:]))
	if res != Complete {
		t.Fatalf("second request should complete, got %v", res)
	}
	got := p.Request()

	fresh := New()
	want := mustComplete(t, fresh, second)
	if got.Path != want.Path || got.Method != want.Method || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("reset-preserve mismatch: %+v vs %+v", got, want)
	}
}

func TestParser_ChunkedBody(t *testing.T) {
	p := New()
	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	req := mustComplete(t, p, raw)
	if string(req.Body) != "hello world" {
		t.Fatalf("chunked body: %q", req.Body)
	}
	if len(req.Body) != 11 {
		t.Fatalf("chunked body length: %d", len(req.Body))
	}
}

func TestParser_ChunkedWithExtensionsAndTrailers(t *testing.T) {
	p := New()
	raw := "POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4;name=value\r\ndata\r\n0\r\nTrailer-One: a\r\nTrailer-Two: b\r\n\r\n"
	req := mustComplete(t, p, raw)
	if string(req.Body) != "data" {
		t.Fatalf("body: %q", req.Body)
	}
	// Trailers are discarded, not surfaced.
	if req.Header("Trailer-One") != "" {
		t.Fatalf("trailers must be discarded")
	}
}

func TestParser_ChunkedSplitAcrossFeeds(t *testing.T) {
	p := New()
	parts := []string{
		"POST /e HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chu",
		"nked\r\n\r\n5\r\nhe",
		"llo\r\n0\r",
		"\n\r\n",
	}
	var res Result
	for _, part := range parts {
		var err error
		res, err = p.Feed([]byte(part))
		if err != nil {
			t.Fatalf("feed %q: %v", part, err)
		}
	}
	if res != Complete {
		t.Fatalf("expected Complete, got %v", res)
	}
	if string(p.Request().Body) != "hello" {
		t.Fatalf("body: %q", p.Request().Body)
	}
}

func TestParser_ErrorTable(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		status int
	}{
		{"unknown method", "BREW /pot HTTP/1.1\r\nHost: x\r\n\r\n", 501},
		{"bad target", "GET index.html HTTP/1.1\r\nHost: x\r\n\r\n", 400},
		{"bad version", "GET / HTTP/2.0\r\nHost: x\r\n\r\n", 400},
		{"missing host 1.1", "GET / HTTP/1.1\r\n\r\n", 400},
		{"empty header name", "GET / HTTP/1.1\r\nHost: x\r\n: bad\r\n\r\n", 400},
		{"header without colon", "GET / HTTP/1.1\r\nHost: x\r\nnocolon\r\n\r\n", 400},
		{"bad content length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: ten\r\n\r\n", 400},
		{"negative content length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: -1\r\n\r\n", 400},
		{"oversized content length", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 1048577\r\n\r\n", 413},
		{"length and chunked", "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\nTransfer-Encoding: chunked\r\n\r\n", 400},
		{"chunked then length", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nContent-Length: 3\r\n\r\n", 400},
		{"bad chunk size", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", 400},
		{"missing chunk crlf", "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabXX", 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New()
			res, err := p.Feed([]byte(tc.raw))
			if res != Failed {
				t.Fatalf("expected Failed, got %v", res)
			}
			pe, ok := protoerr.IsParseError(err)
			if !ok {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if pe.Status != tc.status {
				t.Fatalf("status: want %d got %d (%s)", tc.status, pe.Status, pe.Reason)
			}
		})
	}
}

func TestParser_Http10HostOptional(t *testing.T) {
	p := New()
	req := mustComplete(t, p, "GET / HTTP/1.0\r\n\r\n")
	if req.Proto != "HTTP/1.0" {
		t.Fatalf("proto: %q", req.Proto)
	}
	if p.KeepAlive() {
		t.Fatalf("HTTP/1.0 should default to close")
	}
}

func TestParser_Http10KeepAliveOverride(t *testing.T) {
	p := New()
	mustComplete(t, p, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if !p.KeepAlive() {
		t.Fatalf("Connection: keep-alive must override the 1.0 default")
	}
}

func TestParser_ErrorIsLatched(t *testing.T) {
	p := New()
	res, err1 := p.Feed([]byte("BREW / HTTP/1.1\r\n"))
	if res != Failed {
		t.Fatalf("expected Failed")
	}
	res2, err2 := p.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	if res2 != Failed {
		t.Fatalf("error must latch, got %v", res2)
	}
	if err1.Error() != err2.Error() {
		t.Fatalf("latched error changed: %v vs %v", err1, err2)
	}
	status, _ := p.ErrorStatus()
	if status != 501 {
		t.Fatalf("latched status: %d", status)
	}
}

func TestParser_HeaderLineTooLong(t *testing.T) {
	p := New()
	long := "X-Big: " + strings.Repeat("a", message.MaxHeaderLineLen)
	res, err := p.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n" + long + "\r\n\r\n"))
	if res != Failed {
		t.Fatalf("expected Failed")
	}
	pe, _ := protoerr.IsParseError(err)
	if pe == nil || pe.Status != 431 {
		t.Fatalf("want 431, got %v", err)
	}
}

func TestParser_TooManyHeaders(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\nHost: x\r\n")
	for i := 0; i <= message.MaxHeaderCount; i++ {
		b.WriteString("X-H: v\r\n")
	}
	b.WriteString("\r\n")
	p := New()
	res, err := p.Feed([]byte(b.String()))
	if res != Failed {
		t.Fatalf("expected Failed")
	}
	pe, _ := protoerr.IsParseError(err)
	if pe == nil || pe.Status != 431 {
		t.Fatalf("want 431, got %v", err)
	}
}

func TestParser_RequestLineTooLong(t *testing.T) {
	p := New()
	target := "/" + strings.Repeat("a", message.MaxRequestLineLen)
	res, err := p.Feed([]byte("GET " + target + " HTTP/1.1\r\nHost: x\r\n\r\n"))
	if res != Failed {
		t.Fatalf("expected Failed")
	}
	pe, _ := protoerr.IsParseError(err)
	if pe == nil || pe.Status != 414 {
		t.Fatalf("want 414, got %v", err)
	}
}

func TestParser_FixedBodyAtCap(t *testing.T) {
	body := strings.Repeat("b", message.MaxBodyBytes)
	p := New()
	head := "POST /big HTTP/1.1\r\nHost: x\r\nContent-Length: 1048576\r\n\r\n"
	if res := feedAll(t, p, head); res != Incomplete {
		t.Fatalf("header-only feed should be Incomplete")
	}
	res, err := p.Feed([]byte(body))
	if err != nil {
		t.Fatalf("body feed: %v", err)
	}
	if res != Complete {
		t.Fatalf("expected Complete, got %v", res)
	}
	if len(p.Request().Body) != message.MaxBodyBytes {
		t.Fatalf("body length: %d", len(p.Request().Body))
	}
}

func TestParser_ChunkedBodyOverCap(t *testing.T) {
	p := New()
	head := "POST /big HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"
	// One chunk header declaring more than the cap fails immediately, before
	// any payload has to be transferred.
	res, err := p.Feed([]byte(head + "100001\r\n")) // 1 MiB + 1 in hex
	if res != Failed {
		t.Fatalf("expected Failed, got %v", res)
	}
	pe, _ := protoerr.IsParseError(err)
	if pe == nil || pe.Status != 413 {
		t.Fatalf("want 413, got %v", err)
	}
}

func TestParser_DuplicateHeaderReplaces(t *testing.T) {
	p := New()
	req := mustComplete(t, p, "GET / HTTP/1.1\r\nHost: x\r\nX-Tag: one\r\nX-Tag: two\r\n\r\n")
	if v := req.Header("X-Tag"); v != "two" {
		t.Fatalf("later duplicate must replace: %q", v)
	}
	if got := len(req.Headers.Values("X-Tag")); got != 1 {
		t.Fatalf("expected single stored value, got %d", got)
	}
}

func TestParser_HeaderCasingPreserved(t *testing.T) {
	p := New()
	req := mustComplete(t, p, "GET / HTTP/1.1\r\nHoSt: x\r\nX-MiXeD: 1\r\n\r\n")
	var names []string
	req.Headers.Each(func(name, _ string) { names = append(names, name) })
	if names[0] != "HoSt" || names[1] != "X-MiXeD" {
		t.Fatalf("original casing lost: %v", names)
	}
}

func TestParser_NoBytesReadTwice(t *testing.T) {
	// Three pipelined requests fed in pathological fragments; each must come
	// out exactly once with its own target.
	raw := ""
	for _, path := range []string{"/one", "/two", "/three"} {
		raw += "GET " + path + " HTTP/1.1\r\nHost: x\r\n\r\n"
	}
	p := New()
	var paths []string
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		res, err := p.Feed([]byte(raw[i:end]))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		for res == Complete {
			paths = append(paths, p.Request().Path)
			p.Reset(true)
			res, err = p.Feed(nil)
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
		}
	}
	want := []string{"/one", "/two", "/three"}
	if len(paths) != len(want) {
		t.Fatalf("parsed %d requests, want %d (%v)", len(paths), len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("order mismatch: %v", paths)
		}
	}
}
