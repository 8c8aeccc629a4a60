package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemorySessions = 50_000

// MemoryStore keeps sessions in a bounded LRU. Abandoned carts are evicted
// oldest first once the limit is reached.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, storedSession]
	now     func() time.Time
}

type storedSession struct {
	data      *Data
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(defaultMemorySessions)
}

func newMemoryStore(size int) *MemoryStore {
	entries, err := lru.New[string, storedSession](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &MemoryStore{entries: entries, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries.Get(id)
	if !ok {
		return nil, false
	}
	if !s.now().Before(stored.expiresAt) {
		s.entries.Remove(id)
		return nil, false
	}
	return stored.data.clone(), true
}

func (s *MemoryStore) Set(_ context.Context, id string, data *Data, ttl time.Duration) {
	if data == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(id, storedSession{data: data.clone(), expiresAt: s.now().Add(ttl)})
}

func (s *MemoryStore) Delete(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(id)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	return nil
}
