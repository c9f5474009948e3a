package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/seojinpark/crosspost/internal/domain"
)

type entry struct {
	pending   domain.PendingAuth
	expiresAt time.Time
}

// MemoryStore is an in-memory domain.PendingAuthStore. Requests live until
// their TTL and are removed on first Take.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory pending-authorization store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores pending under token until expiresAt.
func (s *MemoryStore) Put(_ context.Context, token string, pending domain.PendingAuth, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[token] = entry{pending: pending, expiresAt: expiresAt}
}

// Take removes and returns the request stored under token. A missing,
// already-consumed, or expired request reports ok false.
func (s *MemoryStore) Take(_ context.Context, token string) (domain.PendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[token]
	if !ok {
		return domain.PendingAuth{}, false
	}
	delete(s.m, token)
	if !e.expiresAt.After(s.nowF()) {
		return domain.PendingAuth{}, false
	}
	return e.pending, true
}
