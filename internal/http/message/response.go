package message

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Response is mutated by the handler, then becomes read-only once the writer
// owns it. The sent latch guards against double emission.
type Response struct {
	Status  int
	Headers Headers
	Body    []byte

	sent bool
}

// NewResponse returns a response pre-set to 200 with an empty body, which the
// writer serializes as a valid empty reply if the handler never touches it.
func NewResponse() *Response {
	return &Response{Status: StatusOK}
}

// Sent reports whether the writer has already emitted this response.
func (r *Response) Sent() bool { return r.sent }

// MarkSent latches the response as emitted.
func (r *Response) MarkSent() { r.sent = true }

// ForcesClose reports whether the handler explicitly demanded connection
// teardown via a Connection: close header.
func (r *Response) ForcesClose() bool {
	v, ok := r.Headers.Get("Connection")
	return ok && strings.EqualFold(strings.TrimSpace(v), "close")
}

// Text sets a plain-text body and status.
func (r *Response) Text(status int, body string) {
	r.Status = status
	r.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
}

// HTML sets an HTML body and status.
func (r *Response) HTML(status int, body string) {
	r.Status = status
	r.Headers.Set("Content-Type", "text/html; charset=utf-8")
	r.Body = []byte(body)
}

// Bytes sets a raw body with an explicit content type.
func (r *Response) Bytes(status int, contentType string, body []byte) {
	r.Status = status
	r.Headers.Set("Content-Type", contentType)
	r.Body = body
}

// JSON marshals v as the response body. Marshal failures degrade to a 500.
func (r *Response) JSON(status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.Text(StatusInternalServerError, "json encoding failed\n")
		return
	}
	r.Status = status
	r.Headers.Set("Content-Type", "application/json")
	r.Body = b
}

// Redirect sets a Location response.
func (r *Response) Redirect(status int, location string) {
	r.Status = status
	r.Headers.Set("Location", location)
	r.Body = nil
}

// Reset returns the response to its initial state for keep-alive reuse.
func (r *Response) Reset() {
	r.Status = StatusOK
	r.Headers.Reset()
	r.Body = nil
	r.sent = false
}

// ErrorText fills the response with the short plain-text error body clients
// see on parse failure: status line + kind description.
func (r *Response) ErrorText(status int, reason string) {
	if reason == "" {
		reason = StatusReason(status)
	}
	r.Text(status, strconv.Itoa(status)+" "+reason+"\n")
}
