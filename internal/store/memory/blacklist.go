package memory

import (
	"context"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
)

// BlacklistRepo implementa repository.BlacklistRepository en memoria.
type BlacklistRepo struct {
	mu      sync.RWMutex
	entries map[string]time.Time // tokenID -> expiresAt

	now func() time.Time
}

func NewBlacklistRepo() *BlacklistRepo {
	return &BlacklistRepo{
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow reemplaza la fuente de tiempo (tests).
func (r *BlacklistRepo) WithNow(now func() time.Time) *BlacklistRepo {
	r.now = now
	return r
}

func (r *BlacklistRepo) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tokenID] = expiresAt
	return nil
}

func (r *BlacklistRepo) Contains(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.entries[tokenID]
	if !ok {
		return false, nil
	}
	// vencida cuenta como ausente; la purga real la hace el GC
	return r.now().Before(exp), nil
}

func (r *BlacklistRepo) PurgeExpiredBatch(_ context.Context, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, exp := range r.entries {
		if n >= limit {
			break
		}
		if now.After(exp) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

var _ repository.BlacklistRepository = (*BlacklistRepo)(nil)
