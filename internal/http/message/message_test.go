package message

import (
	"strings"
	"testing"
)

func TestHeadersCaseInsensitiveLookup(t *testing.T) {
	var h Headers
	h.Set("Content-Type", "text/plain")
	if v, ok := h.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("lookup failed: %q %v", v, ok)
	}
	if v, ok := h.Get("CONTENT-TYPE"); !ok || v != "text/plain" {
		t.Fatalf("lookup failed: %q %v", v, ok)
	}
}

func TestHeadersReplaceKeepsOriginalCasing(t *testing.T) {
	var h Headers
	h.Set("X-CuStOm", "1")
	h.Set("x-custom", "2")
	if h.Len() != 1 {
		t.Fatalf("replace should not duplicate: %d", h.Len())
	}
	var name string
	h.Each(func(n, v string) { name = n })
	if name != "X-CuStOm" {
		t.Fatalf("first-occurrence casing lost: %q", name)
	}
	if v, _ := h.Get("X-Custom"); v != "2" {
		t.Fatalf("replacement value lost: %q", v)
	}
}

func TestHeadersSetCookieRepeats(t *testing.T) {
	var h Headers
	h.Set("Set-Cookie", "a=1")
	h.Set("Set-Cookie", "b=2")
	vals := h.Values("set-cookie")
	if len(vals) != 2 || vals[0] != "a=1" || vals[1] != "b=2" {
		t.Fatalf("Set-Cookie must repeat in order: %v", vals)
	}
}

func TestHeadersDel(t *testing.T) {
	var h Headers
	h.Set("A", "1")
	h.Set("B", "2")
	h.Del("a")
	if _, ok := h.Get("A"); ok {
		t.Fatalf("Del failed")
	}
	if v, _ := h.Get("B"); v != "2" {
		t.Fatalf("Del removed wrong field")
	}
}

func TestMethodParse(t *testing.T) {
	for _, verb := range []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH"} {
		m, ok := ParseMethod(verb)
		if !ok {
			t.Fatalf("verb %s not recognized", verb)
		}
		if m.String() != verb {
			t.Fatalf("round trip: %s -> %s", verb, m.String())
		}
	}
	if _, ok := ParseMethod("get"); ok {
		t.Fatalf("lowercase verbs are not valid on the wire")
	}
	if _, ok := ParseMethod("BREW"); ok {
		t.Fatalf("unknown verb accepted")
	}
}

func TestStatusReasonFallback(t *testing.T) {
	if StatusReason(404) != "Not Found" {
		t.Fatalf("known reason wrong")
	}
	if StatusReason(799) != "OK" {
		t.Fatalf("unknown codes fall back to OK")
	}
}

func TestResponseSentLatch(t *testing.T) {
	r := NewResponse()
	if r.Sent() {
		t.Fatalf("fresh response marked sent")
	}
	r.MarkSent()
	if !r.Sent() {
		t.Fatalf("latch lost")
	}
	r.Reset()
	if r.Sent() || r.Status != StatusOK || r.Body != nil {
		t.Fatalf("reset incomplete: %+v", r)
	}
}

func TestResponseForcesClose(t *testing.T) {
	r := NewResponse()
	if r.ForcesClose() {
		t.Fatalf("no header should not force close")
	}
	r.Headers.Set("Connection", " Close ")
	if !r.ForcesClose() {
		t.Fatalf("case-insensitive close not honored")
	}
}

func TestResponseJSON(t *testing.T) {
	r := NewResponse()
	r.JSON(201, map[string]int{"n": 4})
	if r.Status != 201 {
		t.Fatalf("status: %d", r.Status)
	}
	if ct, _ := r.Headers.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.Contains(string(r.Body), `"n":4`) {
		t.Fatalf("body: %q", r.Body)
	}
}

func TestRequestHijack(t *testing.T) {
	req := &Request{}
	if _, ok := req.Hijack(); ok {
		t.Fatalf("hijack without connection must fail")
	}
	req.HijackFn = func() Stream { return nil }
	if _, ok := req.Hijack(); !ok {
		t.Fatalf("hijack with connection must succeed")
	}
}
