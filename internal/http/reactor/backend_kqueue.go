//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

// Event-filter backend for the BSD family. Read and write interest map to
// separate EVFILT_READ / EVFILT_WRITE registrations; a self-pipe interrupts
// blocking waits.

import (
	"time"

	"golang.org/x/sys/unix"
)

type kqueueBackend struct {
	kq        int
	wakeRead  int
	wakeWrite int
	events    []unix.Kevent_t
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	b := &kqueueBackend{kq: kq, wakeRead: p[0], wakeWrite: p[1], events: make([]unix.Kevent_t, 128)}
	var kev unix.Kevent_t
	unix.SetKevent(&kev, p[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *kqueueBackend) name() string { return "kqueue" }

// apply sets or clears one filter for fd depending on the interest bit.
func (b *kqueueBackend) apply(fd int, filter int16, want bool) error {
	var kev unix.Kevent_t
	flags := unix.EV_DELETE
	if want {
		flags = unix.EV_ADD | unix.EV_ENABLE
	}
	unix.SetKevent(&kev, fd, int(filter), flags)
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		if !want && err == unix.ENOENT {
			return nil // clearing an absent filter is a no-op
		}
		return err
	}
	return nil
}

func (b *kqueueBackend) register(fd int, interest Event) error {
	if err := b.apply(fd, unix.EVFILT_READ, interest&EventRead != 0); err != nil {
		return err
	}
	return b.apply(fd, unix.EVFILT_WRITE, interest&EventWrite != 0)
}

func (b *kqueueBackend) update(fd int, interest Event) error {
	return b.register(fd, interest)
}

func (b *kqueueBackend) unregister(fd int) error {
	if err := b.apply(fd, unix.EVFILT_READ, false); err != nil {
		return err
	}
	return b.apply(fd, unix.EVFILT_WRITE, false)
}

func (b *kqueueBackend) wait(ready []readyEvent, timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err != nil {
		return 0, err
	}
	out := 0
	for i := 0; i < n && out < len(ready); i++ {
		kev := b.events[i]
		fd := int(kev.Ident)
		if fd == b.wakeRead {
			b.drainWake()
			continue
		}
		var e Event
		switch kev.Filter {
		case unix.EVFILT_READ:
			e |= EventRead
		case unix.EVFILT_WRITE:
			e |= EventWrite
		}
		if kev.Flags&unix.EV_ERROR != 0 {
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

func (b *kqueueBackend) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(b.wakeRead, buf[:]); err != nil {
			return
		}
	}
}

func (b *kqueueBackend) wake() error {
	_, err := unix.Write(b.wakeWrite, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (b *kqueueBackend) close() error {
	unix.Close(b.wakeRead)
	unix.Close(b.wakeWrite)
	return unix.Close(b.kq)
}
