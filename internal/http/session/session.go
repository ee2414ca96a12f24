package session

// In-memory session table. Sessions are keyed by opaque uuid ids carried in a
// cookie; each holds a per-session value map and an absolute expiry refreshed
// on access. A background sweep evicts expired entries.
//
// The store is a shared mutable resource accessed from handler goroutines in
// threaded mode, hence the RWMutex (the registry locking idiom used across
// the codebase).

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/go-httpd/internal/http/cookie"
	"github.com/alxayo/go-httpd/internal/http/message"
)

// CookieName carries the session id between requests.
const CookieName = "SESSIONID"

// Session is one visitor's state bag.
type Session struct {
	ID        string
	ExpiresAt time.Time

	mu     sync.Mutex
	values map[string]any
}

// Get returns a stored value.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value.
func (s *Session) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Store is the session table.
type Store struct {
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a store whose sessions live for ttl after last access and
// starts the eviction sweep.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the eviction sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// New creates a fresh session.
func (s *Store) New() *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		ExpiresAt: time.Now().Add(s.ttl),
		values:    make(map[string]any),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get looks up a live session by id and refreshes its expiry.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := time.Now()
	if sess.ExpiresAt.Before(now) {
		s.Destroy(id)
		return nil, false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	return sess, true
}

// Destroy removes a session.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Attach resolves the request's session, creating one (and setting its
// cookie on the response) when absent. The session lands in req.Ctx.
func (s *Store) Attach(req *message.Request, resp *message.Response) *Session {
	if id, ok := cookie.Get(req, CookieName); ok {
		if sess, live := s.Get(id); live {
			req.Ctx = sess
			return sess
		}
	}
	sess := s.New()
	cookie.Set(resp, &cookie.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: cookie.SameSiteLax,
	})
	req.Ctx = sess
	return sess
}

// sweep evicts expired sessions once per ttl interval (min 1s).
func (s *Store) sweep() {
	interval := s.ttl
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.ExpiresAt.Before(now) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
