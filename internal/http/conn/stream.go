package conn

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/alxayo/go-httpd/internal/http/message"
)

// fdStream adapts a non-blocking socket descriptor to the Stream contract.
// EINTR is retried immediately; EAGAIN surfaces as ErrWouldBlock so the
// connection yields back to the reactor.
type fdStream struct {
	fd int
}

func (s fdStream) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, message.ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s fdStream) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, message.ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s fdStream) Close() error { return unix.Close(s.fd) }
