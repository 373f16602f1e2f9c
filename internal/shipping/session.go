package shipping

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
)

// Quoter is anything that can price a shipping request
type Quoter interface {
	Quote(ctx context.Context, req Request) (Result, error)
}

// Session guards one checkout against out-of-order responses. Each Quote supersedes the
// previous one: the older call is cancelled and, if it still resolves, its result is
// replaced by ErrStaleResponse.
type Session struct {
	quoter   Quoter
	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	lastUsed time.Time
}

// NewSession creates a session over quoter
func NewSession(quoter Quoter) *Session {
	return &Session{quoter: quoter, lastUsed: time.Now()}
}

// Quote issues a new request, superseding any call still in flight
func (s *Session) Quote(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.seq++
	mine := s.seq
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.lastUsed = time.Now()
	s.mu.Unlock()

	res, err := s.quoter.Quote(ctx, req)

	s.mu.Lock()
	superseded := s.seq != mine
	if !superseded {
		s.cancel = nil
	}
	s.mu.Unlock()

	if superseded {
		return Result{}, apperrors.ErrStaleResponse
	}
	return res, err
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Sessions tracks one Session per checkout id so HTTP callers get the same stale guard
type Sessions struct {
	quoter   Quoter
	ttl      time.Duration
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a registry; sessions idle longer than ttl are dropped by Sweep
func NewSessions(quoter Quoter, ttl time.Duration) *Sessions {
	return &Sessions{
		quoter:   quoter,
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use
func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = NewSession(r.quoter)
		r.sessions[id] = s
	}
	return s
}

// Sweep drops idle sessions and returns how many were removed
func (r *Sessions) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
