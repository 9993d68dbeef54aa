package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
)

// SessionRepo implementa repository.SessionRepository en memoria.
// Update aplica compare-and-swap sobre RotationCount bajo el mutex, igual que
// haría un UPDATE ... WHERE rotation_count = $n en SQL.
type SessionRepo struct {
	mu     sync.RWMutex
	byID   map[string]*repository.Session
	byUser map[string]map[string]bool // userID -> set(sessionID)

	// byRef conserva también los hashes ya rotados (linaje completo de la
	// sesión) para que un refresh viejo siga resolviendo a su dueño y el
	// replay pueda atribuirse.
	byRef  map[string]string   // refreshHash -> sessionID
	refsOf map[string][]string // sessionID -> hashes del linaje
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		byID:   make(map[string]*repository.Session),
		byRef:  make(map[string]string),
		byUser: make(map[string]map[string]bool),
		refsOf: make(map[string][]string),
	}
}

func (r *SessionRepo) Create(_ context.Context, in repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[in.ID]; dup {
		return nil, repository.ErrConflict
	}

	s := &repository.Session{
		ID:                in.ID,
		UserID:            in.UserID,
		DeviceID:          in.DeviceID,
		AccessJTI:         in.AccessJTI,
		RefreshHash:       in.RefreshHash,
		Profile:           in.Profile,
		CreatedAt:         in.CreatedAt,
		IdleExpiresAt:     in.IdleExpiresAt,
		AbsoluteExpiresAt: in.AbsoluteExpiresAt,
		LastActivityAt:    in.CreatedAt,
		Active:            true,
		MFAVerified:       in.MFAVerified,
		RiskLevel:         in.RiskLevel,
	}
	r.byID[s.ID] = s
	r.byRef[s.RefreshHash] = s.ID
	r.refsOf[s.ID] = []string{s.RefreshHash}
	if r.byUser[s.UserID] == nil {
		r.byUser[s.UserID] = make(map[string]bool)
	}
	r.byUser[s.UserID][s.ID] = true

	cp := *s
	return &cp, nil
}

func (r *SessionRepo) Get(_ context.Context, id string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepo) GetByRefreshHash(_ context.Context, refreshHash string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[refreshHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *SessionRepo) Update(_ context.Context, in repository.UpdateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[in.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.RotationCount != in.ExpectedRotation {
		return nil, repository.ErrStaleUpdate
	}

	if in.RefreshHash != nil {
		// el hash anterior queda indexado: un refresh rotado que vuelva a
		// presentarse debe poder atribuirse a esta sesión
		s.RefreshHash = *in.RefreshHash
		r.byRef[s.RefreshHash] = s.ID
		r.refsOf[s.ID] = append(r.refsOf[s.ID], s.RefreshHash)
	}
	if in.AccessJTI != nil {
		s.AccessJTI = *in.AccessJTI
	}
	if in.IdleExpiresAt != nil {
		s.IdleExpiresAt = *in.IdleExpiresAt
	}
	if in.LastActivityAt != nil {
		s.LastActivityAt = *in.LastActivityAt
	}
	if in.RotationCount != nil {
		s.RotationCount = *in.RotationCount
	}

	cp := *s
	return &cp, nil
}

func (r *SessionRepo) Invalidate(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Active = false
	s.InvalidatedReason = &reason
	return nil
}

func (r *SessionRepo) InvalidateAllByUser(_ context.Context, userID, reason string, exceptID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id := range r.byUser[userID] {
		if id == exceptID {
			continue
		}
		s := r.byID[id]
		if s.Active {
			s.Active = false
			rcp := reason
			s.InvalidatedReason = &rcp
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) ListByUser(_ context.Context, userID string) ([]repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Session
	for id := range r.byUser[userID] {
		out = append(out, *r.byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *SessionRepo) CountActiveByDevice(_ context.Context, deviceID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.byID {
		if s.Active && s.DeviceID != nil && *s.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) DeleteExpiredBatch(_ context.Context, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.byID {
		if n >= limit {
			break
		}
		if !s.Active || now.After(s.AbsoluteExpiresAt) {
			delete(r.byID, id)
			for _, h := range r.refsOf[id] {
				delete(r.byRef, h)
			}
			delete(r.refsOf, id)
			delete(r.byUser[s.UserID], id)
			n++
		}
	}
	return n, nil
}

var _ repository.SessionRepository = (*SessionRepo)(nil)
