// Package redis implementa el cache efímero sobre go-redis.
package redis

import (
	"context"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
	rdb "github.com/redis/go-redis/v9"
)

type Cache struct {
	c      *rdb.Client
	prefix string
}

func New(addr, password string, db int, prefix string) *Cache {
	return &Cache{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
	}
}

// NewFromClient reutiliza un cliente existente (pool compartido).
func NewFromClient(c *rdb.Client, prefix string) *Cache {
	return &Cache{c: c, prefix: prefix}
}

// Client expone el cliente subyacente (para el rate limiter redis).
func (r *Cache) Client() *rdb.Client { return r.c }

func (r *Cache) key(k string) string { return r.prefix + k }

func (r *Cache) Get(ctx context.Context, k string) ([]byte, bool) {
	b, err := r.c.Get(ctx, r.key(k)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Cache) Set(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	return r.c.Set(ctx, r.key(k), v, ttl).Err()
}

func (r *Cache) Delete(ctx context.Context, k string) error {
	return r.c.Del(ctx, r.key(k)).Err()
}

func (r *Cache) GetAndDelete(ctx context.Context, k string) ([]byte, bool, error) {
	b, err := r.c.GetDel(ctx, r.key(k)).Bytes()
	if err == rdb.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Cache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Cache) Close() error { return r.c.Close() }

var _ repository.CacheRepository = (*Cache)(nil)
