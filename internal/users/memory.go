package users

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/steamgate/internal/steamid"
)

// MemoryRepository guarda cuentas en un map. Para dev y tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Record
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]Record{}, now: time.Now}
}

func (m *MemoryRepository) Upsert(_ context.Context, u steamid.User) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[u.ID]
	if !ok {
		rec.FirstSeen = now
	}
	rec.User = u
	rec.LastSeen = now
	rec.LoginCount++
	m.byID[u.ID] = rec
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}
