//go:build linux

package reactor

// Linux readiness-set backend. An eventfd is registered alongside the caller
// descriptors so Stop and cross-goroutine timer registration can interrupt a
// blocking wait.

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

type epollBackend struct {
	epfd   int
	wakeFd int
	events []unix.EpollEvent
}

func newBackend() (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	b := &epollBackend{epfd: epfd, wakeFd: wakeFd, events: make([]unix.EpollEvent, 128)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return b, nil
}

func (b *epollBackend) name() string { return "epoll" }

func interestToEpoll(interest Event) uint32 {
	var m uint32
	if interest&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if interest&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	// EPOLLERR and EPOLLHUP are always reported; no need to request them.
	return m
}

func (b *epollBackend) register(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) update(fd int, interest Event) error {
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (b *epollBackend) unregister(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) wait(ready []readyEvent, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if timeout > 0 && ms == 0 {
			ms = 1
		}
	}
	n, err := unix.EpollWait(b.epfd, b.events, ms)
	if err != nil {
		return 0, err
	}
	out := 0
	for i := 0; i < n && out < len(ready); i++ {
		ev := b.events[i]
		fd := int(ev.Fd)
		if fd == b.wakeFd {
			b.drainWake()
			continue
		}
		var e Event
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0 {
			e |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e |= EventWrite
		}
		if ev.Events&unix.EPOLLERR != 0 {
			e |= EventError
		}
		if e == 0 {
			continue
		}
		ready[out] = readyEvent{fd: fd, events: e}
		out++
	}
	return out, nil
}

func (b *epollBackend) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(b.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (b *epollBackend) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.wakeFd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (b *epollBackend) close() error {
	unix.Close(b.wakeFd)
	return unix.Close(b.epfd)
}
