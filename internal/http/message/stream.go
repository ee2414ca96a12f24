package message

import "errors"

// ErrWouldBlock is returned by non-blocking streams when the socket cannot
// make progress right now. The connection yields back to the reactor and
// retries on the next readiness event.
var ErrWouldBlock = errors.New("operation would block")

// Stream is the byte-stream abstraction between the connection layer and the
// transport. The parser and writer never learn whether bytes crossed a TLS
// boundary: a TLS adapter implements the same interface.
//
// Read returns (0, io.EOF) on orderly peer shutdown and (0, ErrWouldBlock)
// when no bytes are available on a non-blocking transport. Write may return
// a short count together with ErrWouldBlock. Implementations retry EINTR
// internally.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}
