package memory

import (
	"context"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
)

// MFARepo implementa repository.MFARepository en memoria.
type MFARepo struct {
	mu       sync.RWMutex
	now      func() time.Time
	totp     map[string]*repository.MFATOTP
	sms      map[string]*repository.MFASMS
	backup   map[string][]repository.BackupCode
	webauthn map[string][]repository.WebAuthnCredential
}

func NewMFARepo() *MFARepo {
	return &MFARepo{
		now:      func() time.Time { return time.Now().UTC() },
		totp:     make(map[string]*repository.MFATOTP),
		sms:      make(map[string]*repository.MFASMS),
		backup:   make(map[string][]repository.BackupCode),
		webauthn: make(map[string][]repository.WebAuthnCredential),
	}
}

// WithNow reemplaza la fuente de tiempo (tests).
func (r *MFARepo) WithNow(now func() time.Time) *MFARepo {
	r.now = now
	return r
}

// ─── TOTP ───

func (r *MFARepo) UpsertTOTP(_ context.Context, userID, secretEnc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if cur, ok := r.totp[userID]; ok {
		cur.SecretEncrypted = secretEnc
		cur.ConfirmedAt = nil
		cur.LastCounter = 0
		cur.UpdatedAt = now
		return nil
	}
	r.totp[userID] = &repository.MFATOTP{
		UserID:          userID,
		SecretEncrypted: secretEnc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return nil
}

func (r *MFARepo) ConfirmTOTP(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.totp[userID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.ConfirmedAt = &at
	cur.UpdatedAt = at
	return nil
}

func (r *MFARepo) GetTOTP(_ context.Context, userID string) (*repository.MFATOTP, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.totp[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (r *MFARepo) MarkTOTPUsed(_ context.Context, userID string, at time.Time, counter int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.totp[userID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.LastUsedAt = &at
	if counter > cur.LastCounter {
		cur.LastCounter = counter
	}
	return nil
}

func (r *MFARepo) DisableTOTP(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.totp, userID)
	return nil
}

// ─── SMS ───

func (r *MFARepo) UpsertSMS(_ context.Context, userID, phone string, confirmedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sms[userID] = &repository.MFASMS{
		UserID:      userID,
		PhoneNumber: phone,
		ConfirmedAt: confirmedAt,
	}
	return nil
}

func (r *MFARepo) GetSMS(_ context.Context, userID string) (*repository.MFASMS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.sms[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (r *MFARepo) MarkSMSUsed(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sms[userID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.LastUsedAt = &at
	return nil
}

func (r *MFARepo) DisableSMS(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sms, userID)
	return nil
}

// ─── Backup Codes ───

func (r *MFARepo) ReplaceBackupCodes(_ context.Context, userID string, hashes []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]repository.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, repository.BackupCode{Hash: h, CreatedAt: at})
	}
	r.backup[userID] = codes
	return nil
}

func (r *MFARepo) ListBackupCodes(_ context.Context, userID string) ([]repository.BackupCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.BackupCode, len(r.backup[userID]))
	copy(out, r.backup[userID])
	return out, nil
}

func (r *MFARepo) UseBackupCode(_ context.Context, userID, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.backup[userID]
	for i := range codes {
		if codes[i].Hash == hash && codes[i].UsedAt == nil {
			codes[i].UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *MFARepo) DeleteBackupCodes(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backup, userID)
	return nil
}

// ─── WebAuthn ───

func (r *MFARepo) AddWebAuthnCredential(_ context.Context, cred repository.WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.webauthn[cred.UserID] {
		if c.CredentialID == cred.CredentialID {
			return repository.ErrConflict
		}
	}
	r.webauthn[cred.UserID] = append(r.webauthn[cred.UserID], cred)
	return nil
}

func (r *MFARepo) ListWebAuthnCredentials(_ context.Context, userID string) ([]repository.WebAuthnCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.WebAuthnCredential, len(r.webauthn[userID]))
	copy(out, r.webauthn[userID])
	return out, nil
}

func (r *MFARepo) UpdateWebAuthnSignCount(_ context.Context, userID, credentialID string, signCount uint32, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds := r.webauthn[userID]
	for i := range creds {
		if creds[i].CredentialID == credentialID {
			creds[i].SignCount = signCount
			creds[i].LastUsedAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *MFARepo) RemoveWebAuthnCredential(_ context.Context, userID, credentialID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds := r.webauthn[userID]
	for i := range creds {
		if creds[i].CredentialID == credentialID {
			r.webauthn[userID] = append(creds[:i], creds[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// ─── Estado agregado ───

func (r *MFARepo) EnabledMethods(_ context.Context, userID string) ([]types.MFAMethod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.MFAMethod
	if t, ok := r.totp[userID]; ok && t.ConfirmedAt != nil {
		out = append(out, types.MFATOTP)
	}
	if s, ok := r.sms[userID]; ok && s.ConfirmedAt != nil {
		out = append(out, types.MFASMS)
	}
	if hasUnused(r.backup[userID]) {
		out = append(out, types.MFABackupCode)
	}
	if len(r.webauthn[userID]) > 0 {
		out = append(out, types.MFAWebAuthn)
	}
	return out, nil
}

func hasUnused(codes []repository.BackupCode) bool {
	for _, c := range codes {
		if c.UsedAt == nil {
			return true
		}
	}
	return false
}

var _ repository.MFARepository = (*MFARepo)(nil)
