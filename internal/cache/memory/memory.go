// Package memory implementa el cache efímero sobre patrickmn/go-cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
	gocache "github.com/patrickmn/go-cache"
)

type Cache struct {
	c *gocache.Cache

	// mu serializa GetAndDelete para que sea atómico (one-time tokens).
	mu sync.Mutex
}

func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Cache{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Cache) Get(_ context.Context, k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *Cache) Set(_ context.Context, k string, v []byte, ttl time.Duration) error {
	m.c.Set(k, v, ttl)
	return nil
}

func (m *Cache) Delete(_ context.Context, k string) error {
	m.c.Delete(k)
	return nil
}

func (m *Cache) GetAndDelete(_ context.Context, k string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false, nil
	}
	m.c.Delete(k)
	b, _ := v.([]byte)
	return b, true, nil
}

func (m *Cache) Ping(_ context.Context) error { return nil }
func (m *Cache) Close() error                 { return nil }

var _ repository.CacheRepository = (*Cache)(nil)
