package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore guarda sesiones en memoria (go-cache). Útil en dev y tests; no
// sobrevive reinicios ni se comparte entre réplicas.
type MemoryStore struct {
	c *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(Session)
	if s.expired(time.Now()) {
		m.c.Delete(id)
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	ttl := gocache.NoExpiration
	if !s.ExpiresAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
		if ttl <= 0 {
			m.c.Delete(s.ID)
			return nil
		}
	}
	m.c.Set(s.ID, *s, ttl)
	return nil
}

func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// Len devuelve la cantidad de sesiones vivas.
func (m *MemoryStore) Len() int {
	return m.c.ItemCount()
}
