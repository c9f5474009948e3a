package session

import (
	"context"
	"sync"

	"github.com/seojinpark/crosspost/internal/domain"
)

// MemoryStore is an in-memory domain.SessionRepository, used in tests.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]map[domain.Platform]domain.LinkedAccount
}

// NewMemoryStore returns a new in-memory session repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]map[domain.Platform]domain.LinkedAccount)}
}

// GetAccount returns the linked account for the platform, or (nil, nil)
// when the platform is not linked.
func (s *MemoryStore) GetAccount(_ context.Context, sessionID string, platform domain.Platform) (*domain.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.m[sessionID][platform]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

// PutAccount stores or replaces the linked account for the platform.
func (s *MemoryStore) PutAccount(_ context.Context, sessionID string, platform domain.Platform, account *domain.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m[sessionID] == nil {
		s.m[sessionID] = make(map[domain.Platform]domain.LinkedAccount)
	}
	s.m[sessionID][platform] = *account
	return nil
}

// DeleteAccount removes the linked account for the platform.
func (s *MemoryStore) DeleteAccount(_ context.Context, sessionID string, platform domain.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m[sessionID], platform)
	return nil
}

// ListAccounts returns all linked accounts for the session keyed by
// platform.
func (s *MemoryStore) ListAccounts(_ context.Context, sessionID string) (map[domain.Platform]*domain.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make(map[domain.Platform]*domain.LinkedAccount, len(s.m[sessionID]))
	for platform, account := range s.m[sessionID] {
		a := account
		accounts[platform] = &a
	}
	return accounts, nil
}
