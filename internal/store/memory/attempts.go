package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medvault/authcore/internal/domain/repository"
)

// AttemptRepo implementa repository.AttemptRepository en memoria.
type AttemptRepo struct {
	mu       sync.RWMutex
	attempts []repository.LoginAttempt
}

func NewAttemptRepo() *AttemptRepo {
	return &AttemptRepo{}
}

func (r *AttemptRepo) Record(_ context.Context, a repository.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *AttemptRepo) CountFailedBySource(_ context.Context, sourceIP string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.attempts {
		if !a.Success && a.SourceIP == sourceIP && a.At.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *AttemptRepo) CountFailedByIdentifier(_ context.Context, identifier string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.attempts {
		if !a.Success && a.Identifier == identifier && a.At.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *AttemptRepo) LastFailure(_ context.Context, identifier string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last time.Time
	for _, a := range r.attempts {
		if !a.Success && a.Identifier == identifier && a.At.After(last) {
			last = a.At
		}
	}
	return last, nil
}

func (r *AttemptRepo) LastSuccess(_ context.Context, identifier string) (*repository.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *repository.LoginAttempt
	for i := range r.attempts {
		a := r.attempts[i]
		if a.Success && a.Identifier == identifier && (found == nil || a.At.After(found.At)) {
			cp := a
			found = &cp
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *AttemptRepo) ClearFailures(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if a.Success || a.Identifier != identifier {
			kept = append(kept, a)
		}
	}
	r.attempts = kept
	return nil
}

func (r *AttemptRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	kept := r.attempts[:0]
	for _, a := range r.attempts {
		if n < limit && a.At.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return n, nil
}

var _ repository.AttemptRepository = (*AttemptRepo)(nil)
