package cookie

// Cookie formatting and parsing for handlers. The core never inspects
// cookies; this package only produces and consumes header values.

import (
	"strconv"
	"strings"
	"time"

	"github.com/alxayo/go-httpd/internal/http/message"
)

// SameSite policies for the Set-Cookie attribute.
type SameSite string

const (
	SameSiteLax    SameSite = "Lax"
	SameSiteStrict SameSite = "Strict"
	SameSiteNone   SameSite = "None"
)

// Cookie describes one Set-Cookie header.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	MaxAge   int // seconds; 0 omits the attribute, negative deletes the cookie
	Expires  time.Time
	Secure   bool
	HttpOnly bool
	SameSite SameSite
}

// String renders the Set-Cookie header value.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.MaxAge != 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	if c.SameSite != "" {
		b.WriteString("; SameSite=")
		b.WriteString(string(c.SameSite))
	}
	return b.String()
}

// Set appends a Set-Cookie header to the response.
func Set(resp *message.Response, c *Cookie) {
	resp.Headers.Set("Set-Cookie", c.String())
}

// Parse extracts name/value pairs from a Cookie request header value.
// Malformed pairs are skipped.
func Parse(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			continue
		}
		out[part[:eq]] = part[eq+1:]
	}
	return out
}

// Get returns a named cookie from the request, if present.
func Get(req *message.Request, name string) (string, bool) {
	header := req.Header("Cookie")
	if header == "" {
		return "", false
	}
	v, ok := Parse(header)[name]
	return v, ok
}
