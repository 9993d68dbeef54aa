package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/security/password"
)

// UserRepo implementa repository.UserRepository en memoria.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*repository.User
	byEmail map[string]string // email -> id
}

func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:    make(map[string]*repository.User),
		byEmail: make(map[string]string),
	}
}

// Seed agrega un usuario (para bootstrap y tests).
func (r *UserRepo) Seed(u repository.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := u
	r.byID[u.ID] = &cp
	r.byEmail[strings.ToLower(u.Email)] = u.ID
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) CheckPassword(hash *string, plain string) bool {
	if hash == nil || *hash == "" {
		return false
	}
	return password.Verify(plain, *hash)
}

func (r *UserRepo) RecordLoginHour(_ context.Context, userID string, hour int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, h := range u.TypicalLoginHours {
		if h == hour {
			return nil
		}
	}
	u.TypicalLoginHours = append(u.TypicalLoginHours, hour)
	return nil
}

var _ repository.UserRepository = (*UserRepo)(nil)

// helper para tests y seeds
func TimePtr(t time.Time) *time.Time { return &t }
