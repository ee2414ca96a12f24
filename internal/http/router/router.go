package router

// Path-pattern router implementing the dispatch contract consumed by the
// connection layer. Patterns are segment-wise: literal segments match
// exactly, ":name" segments capture the path segment into req.Params.
// Routes are evaluated in insertion order; the first match wins.
//
// The table is built during server configuration and read-only afterwards,
// so it is shared by all connections without synchronization.

import (
	"strings"

	"github.com/alxayo/go-httpd/internal/http/message"
)

// Handler processes a matched request by mutating the response.
type Handler func(req *message.Request, resp *message.Response)

type route struct {
	method   message.Method
	anyVerb  bool
	segments []segment
	handler  Handler
}

type segment struct {
	literal string
	param   string // non-empty for ":name" capture segments
}

// Router is an insertion-ordered route table.
type Router struct {
	routes []route
}

// New returns an empty route table.
func New() *Router { return &Router{} }

// Handle registers a handler for one verb and pattern.
func (r *Router) Handle(method message.Method, pattern string, h Handler) {
	r.routes = append(r.routes, route{method: method, segments: splitPattern(pattern), handler: h})
}

// HandleAny registers a handler matching every verb.
func (r *Router) HandleAny(pattern string, h Handler) {
	r.routes = append(r.routes, route{anyVerb: true, segments: splitPattern(pattern), handler: h})
}

// Get/Post/Put/Delete are shorthands for the common verbs.
func (r *Router) Get(pattern string, h Handler)    { r.Handle(message.MethodGet, pattern, h) }
func (r *Router) Post(pattern string, h Handler)   { r.Handle(message.MethodPost, pattern, h) }
func (r *Router) Put(pattern string, h Handler)    { r.Handle(message.MethodPut, pattern, h) }
func (r *Router) Delete(pattern string, h Handler) { r.Handle(message.MethodDelete, pattern, h) }

// Route implements message.Router.
func (r *Router) Route(req *message.Request, resp *message.Response) bool {
	parts := splitPath(req.Path)
	for i := range r.routes {
		rt := &r.routes[i]
		if !rt.anyVerb && rt.method != req.Method {
			continue
		}
		params, ok := match(rt.segments, parts)
		if !ok {
			continue
		}
		req.Params = params
		rt.handler(req, resp)
		return true
	}
	return false
}

func splitPattern(pattern string) []segment {
	parts := splitPath(pattern)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			segs[i] = segment{param: p[1:]}
		} else {
			segs[i] = segment{literal: p}
		}
	}
	return segs
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func match(segs []segment, parts []string) (map[string]string, bool) {
	if len(segs) != len(parts) {
		return nil, false
	}
	var params map[string]string
	for i, s := range segs {
		if s.param != "" {
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[s.param] = parts[i]
			continue
		}
		if s.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}
