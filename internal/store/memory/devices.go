package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medvault/authcore/internal/domain/repository"
)

// DeviceRepo implementa repository.DeviceRepository en memoria.
type DeviceRepo struct {
	mu   sync.RWMutex
	byID map[string]*repository.Device
	// byFP indexa userID -> fingerprint -> deviceID
	byFP map[string]map[string]string

	// now permite inyectar tiempo en tests; default time.Now.
	now func() time.Time
}

func NewDeviceRepo() *DeviceRepo {
	return &DeviceRepo{
		byID: make(map[string]*repository.Device),
		byFP: make(map[string]map[string]string),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithNow reemplaza la fuente de tiempo (tests).
func (r *DeviceRepo) WithNow(now func() time.Time) *DeviceRepo {
	r.now = now
	return r
}

func (r *DeviceRepo) Create(_ context.Context, in repository.CreateDeviceInput) (*repository.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fps, ok := r.byFP[in.UserID]; ok {
		if _, dup := fps[in.Fingerprint]; dup {
			return nil, repository.ErrConflict
		}
	}

	now := r.now()
	dev := &repository.Device{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Fingerprint: in.Fingerprint,
		Name:        in.Name,
		Type:        in.Type,
		Platform:    in.Platform,
		Browser:     in.Browser,
		FirstSeenAt: now,
		LastSeenAt:  now,
		LoginCount:  1,
	}
	r.byID[dev.ID] = dev
	if r.byFP[in.UserID] == nil {
		r.byFP[in.UserID] = make(map[string]string)
	}
	r.byFP[in.UserID][in.Fingerprint] = dev.ID

	cp := *dev
	return &cp, nil
}

func (r *DeviceRepo) GetByFingerprint(_ context.Context, userID, fingerprint string) (*repository.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fps, ok := r.byFP[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	id, ok := fps[fingerprint]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *DeviceRepo) GetByID(_ context.Context, id string) (*repository.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *dev
	return &cp, nil
}

func (r *DeviceRepo) ListByUser(_ context.Context, userID string) ([]repository.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Device
	for _, id := range r.byFP[userID] {
		out = append(out, *r.byID[id])
	}
	return out, nil
}

func (r *DeviceRepo) CountTrusted(_ context.Context, userID string, now time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, id := range r.byFP[userID] {
		d := r.byID[id]
		if d.Trusted && (d.TrustExpiresAt == nil || now.Before(*d.TrustExpiresAt)) {
			n++
		}
	}
	return n, nil
}

func (r *DeviceRepo) TouchSeen(_ context.Context, id string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	dev.LastSeenAt = seenAt
	dev.LoginCount++
	return nil
}

func (r *DeviceRepo) SetTrust(_ context.Context, id string, trusted bool, grantedAt, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	dev.Trusted = trusted
	dev.TrustGrantedAt = grantedAt
	dev.TrustExpiresAt = expiresAt
	return nil
}

func (r *DeviceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	if fps, ok := r.byFP[dev.UserID]; ok {
		delete(fps, dev.Fingerprint)
	}
	return nil
}

var _ repository.DeviceRepository = (*DeviceRepo)(nil)
