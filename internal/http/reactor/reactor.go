package reactor

// Readiness-based I/O multiplexer with a one-shot timer table. One reactor
// drives every connection of a server in single-threaded cooperative mode:
// callbacks run to completion on the loop goroutine and must not block.
// Re-entrant Add/Modify/Remove from inside a callback is permitted and takes
// effect no later than the next iteration.
//
// The backend is chosen at build time: epoll on Linux, kqueue on the BSD
// family, and a poll(2) array everywhere else. All backends are
// level-triggered and expose the identical contract.

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	protoerr "github.com/alxayo/go-httpd/internal/errors"
	"github.com/alxayo/go-httpd/internal/logger"
)

// Event is an interest/readiness bitmask.
type Event uint8

const (
	EventRead Event = 1 << iota
	EventWrite
	EventError
	EventTimeout
)

// Callback is invoked with the ready descriptor and the readiness set.
// Timer callbacks receive the sentinel fd -1 and EventTimeout.
type Callback func(fd int, ev Event)

// MaxTimers bounds the number of concurrently registered one-shot timers.
const MaxTimers = 64

var (
	ErrDuplicate     = errors.New("descriptor already registered")
	ErrNotFound      = errors.New("not registered")
	ErrTimerCapacity = errors.New("timer table full")
)

type handler struct {
	fd       int
	interest Event
	cb       Callback
	active   bool
}

type timer struct {
	id     int
	expiry time.Time
	cb     Callback
	active bool
}

type readyEvent struct {
	fd     int
	events Event
}

// backend is the platform readiness primitive behind the portable surface.
type backend interface {
	name() string
	register(fd int, interest Event) error
	update(fd int, interest Event) error
	unregister(fd int) error
	// wait fills ready and returns the count. timeout < 0 blocks indefinitely.
	wait(ready []readyEvent, timeout time.Duration) (int, error)
	wake() error
	close() error
}

// Reactor multiplexes descriptor readiness and timers onto callbacks.
type Reactor struct {
	mu       sync.Mutex
	handlers map[int]*handler
	timers   []*timer
	nextID   int

	be      backend
	running atomic.Bool
	stopReq atomic.Bool
	ready   []readyEvent
	log     *slog.Logger
}

// New creates a reactor on the platform backend.
func New() (*Reactor, error) {
	be, err := newBackend()
	if err != nil {
		return nil, protoerr.NewReactorError("reactor.new", err)
	}
	r := &Reactor{
		handlers: make(map[int]*handler),
		nextID:   1,
		be:       be,
		ready:    make([]readyEvent, 128),
		log:      logger.Logger().With("component", "reactor", "backend", be.name()),
	}
	return r, nil
}

// Backend returns the active backend name (exposed for startup logging).
func (r *Reactor) Backend() string { return r.be.name() }

// Add registers a descriptor with an interest mask and callback.
func (r *Reactor) Add(fd int, interest Event, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[fd]; ok && h.active {
		return ErrDuplicate
	}
	if err := r.be.register(fd, interest); err != nil {
		return protoerr.NewReactorError("reactor.add", err)
	}
	r.handlers[fd] = &handler{fd: fd, interest: interest, cb: cb, active: true}
	return nil
}

// Modify swaps the interest mask in place; the callback is unchanged.
func (r *Reactor) Modify(fd int, interest Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[fd]
	if !ok || !h.active {
		return ErrNotFound
	}
	if err := r.be.update(fd, interest); err != nil {
		return protoerr.NewReactorError("reactor.modify", err)
	}
	h.interest = interest
	return nil
}

// Remove deregisters a descriptor. Safe to call from inside the callback
// being removed: the handler is marked inactive immediately and any events
// already harvested for it this iteration are dropped.
func (r *Reactor) Remove(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[fd]
	if !ok || !h.active {
		return ErrNotFound
	}
	h.active = false
	delete(r.handlers, fd)
	if err := r.be.unregister(fd); err != nil {
		return protoerr.NewReactorError("reactor.remove", err)
	}
	return nil
}

// AddTimer registers a one-shot timer firing no earlier than d from now.
// Returns a stable timer id usable with CancelTimer.
func (r *Reactor) AddTimer(d time.Duration, cb Callback) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) >= MaxTimers {
		return 0, ErrTimerCapacity
	}
	id := r.nextID
	r.nextID++
	r.timers = append(r.timers, &timer{id: id, expiry: time.Now().Add(d), cb: cb, active: true})
	if r.running.Load() {
		// A shorter deadline than the current wait bound must interrupt it.
		_ = r.be.wake()
	}
	return id, nil
}

// CancelTimer deactivates a timer. A cancelled timer never invokes its
// callback; cancelling an unknown id returns ErrNotFound and affects nothing.
func (r *Reactor) CancelTimer(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.timers {
		if t.id == id {
			t.active = false
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Run blocks dispatching callbacks until Stop is called. Signal interrupts
// are retried; other backend failures unwind with a reactor error.
func (r *Reactor) Run() error {
	r.running.Store(true)
	defer r.running.Store(false)
	for !r.stopReq.Load() {
		timeout := r.nextTimeout()
		n, err := r.be.wait(r.ready, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return protoerr.NewReactorError("reactor.wait", err)
		}
		for i := 0; i < n; i++ {
			r.dispatch(r.ready[i])
		}
		r.fireTimers()
	}
	return nil
}

// Stop requests loop termination and interrupts the backend wait.
func (r *Reactor) Stop() {
	r.stopReq.Store(true)
	_ = r.be.wake()
}

// Close releases the backend. Call after Run has returned.
func (r *Reactor) Close() error { return r.be.close() }

// nextTimeout computes the wait bound from the nearest timer expiry.
func (r *Reactor) nextTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return -1
	}
	now := time.Now()
	min := time.Duration(-1)
	for _, t := range r.timers {
		d := t.expiry.Sub(now)
		if d < 0 {
			d = 0
		}
		if min < 0 || d < min {
			min = d
		}
	}
	return min
}

// dispatch routes one harvested event to its handler, filtering by current
// interest so a Modify from an earlier callback in the same batch is honored.
func (r *Reactor) dispatch(ev readyEvent) {
	r.mu.Lock()
	h, ok := r.handlers[ev.fd]
	if !ok || !h.active {
		r.mu.Unlock()
		return
	}
	deliver := ev.events & (h.interest | EventError)
	cb := h.cb
	r.mu.Unlock()
	if deliver == 0 {
		return
	}
	r.invoke(cb, ev.fd, deliver)
}

// fireTimers runs every timer whose expiry has passed. The due set is
// snapshotted against a single monotonic now before any callback runs, so
// timers added during the scan only become eligible next iteration.
func (r *Reactor) fireTimers() {
	now := time.Now()
	r.mu.Lock()
	var due []*timer
	kept := r.timers[:0]
	for _, t := range r.timers {
		if t.active && !t.expiry.After(now) {
			t.active = false
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	r.timers = kept
	r.mu.Unlock()
	for _, t := range due {
		r.invoke(t.cb, -1, EventTimeout)
	}
}

// invoke traps callback panics so a misbehaving handler cannot take the
// reactor down; the failure is surfaced to the operator via the log.
func (r *Reactor) invoke(cb Callback, fd int, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("callback panic", "fd", fd, "panic", rec)
		}
	}()
	cb(fd, ev)
}
