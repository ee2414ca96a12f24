package server

// Reactor-mode listener: the listening socket is non-blocking and registered
// for read readiness; its callback accepts until the kernel reports
// would-block, registering each new descriptor with the same reactor.

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/alxayo/go-httpd/internal/http/conn"
	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/reactor"
)

// startReactor binds a raw AF_INET socket and spins the reactor goroutine.
func (s *Server) startReactor() error {
	rt, err := reactor.New()
	if err != nil {
		return err
	}
	fd, err := listenSocket(s.cfg.ListenAddr)
	if err != nil {
		_ = rt.Close()
		return err
	}
	s.mu.Lock()
	s.rt = rt
	s.listenFd = fd
	s.mu.Unlock()

	if err := rt.Add(fd, reactor.EventRead, s.onAcceptReady); err != nil {
		unix.Close(fd)
		_ = rt.Close()
		return err
	}
	s.log.Info("http server listening", "addr", s.reactorAddr(), "backend", rt.Backend())
	s.group.Go(func() error {
		defer rt.Close()
		if err := rt.Run(); err != nil {
			s.log.Error("reactor unwound", "error", err)
			return err
		}
		return nil
	})
	return nil
}

// onAcceptReady accepts in a loop until the backend signals would-block.
func (s *Server) onAcceptReady(fd int, ev reactor.Event) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			default:
				s.mu.RLock()
				closing := s.closing
				s.mu.RUnlock()
				if !closing {
					s.log.Warn("accept error", "error", err)
				}
				return
			}
		}
		remote := sockaddrString(sa)
		c, err := conn.AcceptReactor(nfd, remote, s.cfg.Router, s.rt, s.cfg.IdleTimeout, s.untrack)
		if err != nil {
			s.log.Warn("connection registration failed", "error", err, "remote", remote)
			continue
		}
		s.track(c)
	}
}

// stopReactor tears down the loop and the listening descriptor.
func (s *Server) stopReactor() {
	s.mu.Lock()
	rt := s.rt
	fd := s.listenFd
	s.rt = nil
	s.listenFd = -1
	s.mu.Unlock()
	if rt == nil {
		return
	}
	rt.Stop()
	if fd >= 0 {
		_ = rt.Remove(fd)
		unix.Close(fd)
	}
}

// reactorAddr resolves the bound address of the raw listening socket.
func (s *Server) reactorAddr() string {
	if s.listenFd < 0 {
		return ""
	}
	sa, err := unix.Getsockname(s.listenFd)
	if err != nil {
		return ""
	}
	return sockaddrString(sa)
}

// listenSocket creates the non-blocking AF_INET listener with SO_REUSEADDR
// and the configured backlog.
func listenSocket(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, fmt.Errorf("resolve %s: %w", addr, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, message.ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

// sockaddrString renders a peer or local sockaddr as host:port.
func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	default:
		return "unknown"
	}
}
