package ratelimit

// Keyed token-bucket limiter for handlers, typically keyed by client IP.
// State is injected (constructor-built), never package-global; idle entries
// are evicted so the key map stays bounded.

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alxayo/go-httpd/internal/http/message"
	"github.com/alxayo/go-httpd/internal/http/router"
)

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per key.
type Limiter struct {
	r     rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing perSecond requests with the given burst and
// starts idle-entry eviction.
func New(perSecond float64, burst int) *Limiter {
	l := &Limiter{
		r:       rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go l.evict()
	return l
}

// Close stops the eviction loop.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether the key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.r, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.lim.Allow()
}

// Wrap guards a handler, answering 429 when the client's bucket is empty.
// The key is the client IP derived from RemoteAddr.
func (l *Limiter) Wrap(h router.Handler) router.Handler {
	return func(req *message.Request, resp *message.Response) {
		key := req.RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		if !l.Allow(key) {
			resp.Text(message.StatusTooManyRequests, "429 Too Many Requests\n")
			return
		}
		h(req, resp)
	}
}

// evict drops entries idle for more than three minutes.
func (l *Limiter) evict() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.mu.Lock()
			for k, e := range l.entries {
				if now.Sub(e.lastSeen) > 3*time.Minute {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
