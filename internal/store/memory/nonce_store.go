package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// NonceStore implements domain.NonceStore for a single process.
type NonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewNonceStore creates an empty NonceStore.
func NewNonceStore() *NonceStore {
	return &NonceStore{seen: make(map[string]time.Time), now: time.Now}
}

// Remember implements domain.NonceStore. Expired keys are purged lazily.
func (s *NonceStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
