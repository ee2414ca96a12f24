package message

// Request is a fully parsed HTTP request. The parser builds it incrementally;
// once the parse completes it is treated as immutable, except for RemoteAddr
// and HijackFn (set by the connection just before dispatch), Params
// (populated by the router on match) and Ctx (handler use).
type Request struct {
	Method  Method
	Path    string // origin-form target without the query string
	Query   string // raw query string, empty when absent
	Proto   string // "HTTP/1.1" or "HTTP/1.0"
	Headers Headers
	Body    []byte

	// Params holds route parameters captured by the router (":id" segments).
	Params map[string]string
	// Ctx is an opaque slot for handler middleware (sessions, auth, ...).
	Ctx any
	// RemoteAddr is the peer address of the owning connection.
	RemoteAddr string

	// HijackFn is installed by the connection before dispatch. Calling it
	// marks the connection as hijacked: the runtime relinquishes the
	// descriptor and ceases FSM progression (WebSocket upgrades).
	HijackFn func() Stream
}

// Hijack takes over the connection's byte stream. After a successful hijack
// the caller owns the stream; no response is written by the runtime.
func (r *Request) Hijack() (Stream, bool) {
	if r.HijackFn == nil {
		return nil, false
	}
	return r.HijackFn(), true
}

// Header returns the request header value for name, or "" when absent.
func (r *Request) Header(name string) string {
	v, _ := r.Headers.Get(name)
	return v
}

// Param returns a route parameter captured during matching.
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}
