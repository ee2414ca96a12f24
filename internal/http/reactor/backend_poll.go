//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package reactor

// poll(2) array fallback for platforms without epoll or kqueue. The fd array
// is compacted on unregister; a self-pipe interrupts blocking waits.

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type pollBackend struct {
	mu        sync.Mutex // registrations may arrive while wait is polling
	fds       []unix.PollFd
	index     map[int]int // fd → position in fds
	scratch   []unix.PollFd
	wakeRead  int
	wakeWrite int
}

func newBackend() (backend, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	b := &pollBackend{index: make(map[int]int), wakeRead: p[0], wakeWrite: p[1]}
	b.fds = append(b.fds, unix.PollFd{Fd: int32(p[0]), Events: unix.POLLIN})
	return b, nil
}

func (b *pollBackend) name() string { return "poll" }

func interestToPoll(interest Event) int16 {
	var m int16
	if interest&EventRead != 0 {
		m |= unix.POLLIN
	}
	if interest&EventWrite != 0 {
		m |= unix.POLLOUT
	}
	return m
}

func (b *pollBackend) register(fd int, interest Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.index[fd]; ok {
		return unix.EEXIST
	}
	b.index[fd] = len(b.fds)
	b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: interestToPoll(interest)})
	return nil
}

func (b *pollBackend) update(fd int, interest Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[fd]
	if !ok {
		return unix.ENOENT
	}
	b.fds[i].Events = interestToPoll(interest)
	return nil
}

func (b *pollBackend) unregister(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[fd]
	if !ok {
		return unix.ENOENT
	}
	last := len(b.fds) - 1
	if i != last {
		b.fds[i] = b.fds[last]
		b.index[int(b.fds[i].Fd)] = i
	}
	b.fds = b.fds[:last]
	delete(b.index, fd)
	return nil
}

func (b *pollBackend) wait(ready []readyEvent, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if timeout > 0 && ms == 0 {
			ms = 1
		}
	}
	b.mu.Lock()
	b.scratch = append(b.scratch[:0], b.fds...)
	b.mu.Unlock()
	n, err := unix.Poll(b.scratch, ms)
	if err != nil {
		return 0, err
	}
	out := 0
	for i := 0; i < len(b.scratch) && n > 0 && out < len(ready); i++ {
		re := b.scratch[i].Revents
		if re == 0 {
			continue
		}
		n--
		fd := int(b.scratch[i].Fd)
		if fd == b.wakeRead {
			b.drainWake()
			continue
		}
		var e Event
		if re&(unix.POLLIN|unix.POLLHUP) != 0 {
			e |= EventRead
		}
		if re&unix.POLLOUT != 0 {
			e |= EventWrite
		}
		if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
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

func (b *pollBackend) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(b.wakeRead, buf[:]); err != nil {
			return
		}
	}
}

func (b *pollBackend) wake() error {
	_, err := unix.Write(b.wakeWrite, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (b *pollBackend) close() error {
	unix.Close(b.wakeWrite)
	return unix.Close(b.wakeRead)
}
