package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
)

// MFARepo implementa repository.MFARepository sobre PostgreSQL.
type MFARepo struct {
	pool *pgxpool.Pool
}

// ─── TOTP ───

func (r *MFARepo) UpsertTOTP(ctx context.Context, userID, secretEnc string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_totp (user_id, secret_encrypted, last_counter, created_at, updated_at)
		VALUES ($1,$2,0,NOW(),NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			confirmed_at = NULL, last_counter = 0, updated_at = NOW()`,
		userID, secretEnc)
	return err
}

func (r *MFARepo) ConfirmTOTP(ctx context.Context, userID string, at time.Time) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE mfa_totp SET confirmed_at = $2, updated_at = $2 WHERE user_id = $1`,
		userID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MFARepo) GetTOTP(ctx context.Context, userID string) (*repository.MFATOTP, error) {
	var t repository.MFATOTP
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, secret_encrypted, confirmed_at, last_used_at, last_counter, created_at, updated_at
		FROM mfa_totp WHERE user_id = $1`, userID,
	).Scan(&t.UserID, &t.SecretEncrypted, &t.ConfirmedAt, &t.LastUsedAt,
		&t.LastCounter, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *MFARepo) MarkTOTPUsed(ctx context.Context, userID string, at time.Time, counter int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mfa_totp SET last_used_at = $2, last_counter = GREATEST(last_counter, $3), updated_at = $2
		WHERE user_id = $1`, userID, at, counter)
	return err
}

func (r *MFARepo) DisableTOTP(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM mfa_totp WHERE user_id = $1`, userID)
	return err
}

// ─── SMS ───

func (r *MFARepo) UpsertSMS(ctx context.Context, userID, phone string, confirmedAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_sms (user_id, phone_number, confirmed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			confirmed_at = EXCLUDED.confirmed_at`,
		userID, phone, confirmedAt)
	return err
}

func (r *MFARepo) GetSMS(ctx context.Context, userID string) (*repository.MFASMS, error) {
	var s repository.MFASMS
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, phone_number, confirmed_at, last_used_at
		FROM mfa_sms WHERE user_id = $1`, userID,
	).Scan(&s.UserID, &s.PhoneNumber, &s.ConfirmedAt, &s.LastUsedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *MFARepo) MarkSMSUsed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mfa_sms SET last_used_at = $2 WHERE user_id = $1`, userID, at)
	return err
}

func (r *MFARepo) DisableSMS(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM mfa_sms WHERE user_id = $1`, userID)
	return err
}

// ─── Backup Codes ───

func (r *MFARepo) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO mfa_backup_codes (user_id, hash, created_at) VALUES ($1,$2,$3)`,
			userID, h, at); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

func (r *MFARepo) ListBackupCodes(ctx context.Context, userID string) ([]repository.BackupCode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT hash, used_at, created_at FROM mfa_backup_codes
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.BackupCode
	for rows.Next() {
		var c repository.BackupCode
		if err := rows.Scan(&c.Hash, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MFARepo) UseBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE mfa_backup_codes SET used_at = $3
		WHERE user_id = $1 AND hash = $2 AND used_at IS NULL`,
		userID, hash, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *MFARepo) DeleteBackupCodes(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID)
	return err
}

// ─── WebAuthn ───

func (r *MFARepo) AddWebAuthnCredential(ctx context.Context, cred repository.WebAuthnCredential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_webauthn_credentials (user_id, credential_id, name, sign_count, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		cred.UserID, cred.CredentialID, cred.Name, cred.SignCount, cred.CreatedAt)
	return mapErr(err)
}

func (r *MFARepo) ListWebAuthnCredentials(ctx context.Context, userID string) ([]repository.WebAuthnCredential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, credential_id, name, sign_count, created_at, last_used_at
		FROM mfa_webauthn_credentials WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.WebAuthnCredential
	for rows.Next() {
		var c repository.WebAuthnCredential
		if err := rows.Scan(&c.UserID, &c.CredentialID, &c.Name, &c.SignCount,
			&c.CreatedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MFARepo) UpdateWebAuthnSignCount(ctx context.Context, userID, credentialID string, signCount uint32, at time.Time) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE mfa_webauthn_credentials SET sign_count = $3, last_used_at = $4
		WHERE user_id = $1 AND credential_id = $2`,
		userID, credentialID, signCount, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MFARepo) RemoveWebAuthnCredential(ctx context.Context, userID, credentialID string) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM mfa_webauthn_credentials WHERE user_id = $1 AND credential_id = $2`,
		userID, credentialID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── Estado agregado ───

func (r *MFARepo) EnabledMethods(ctx context.Context, userID string) ([]types.MFAMethod, error) {
	var out []types.MFAMethod

	var set bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mfa_totp WHERE user_id = $1 AND confirmed_at IS NOT NULL)`,
		userID).Scan(&set); err != nil {
		return nil, err
	}
	if set {
		out = append(out, types.MFATOTP)
	}

	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mfa_sms WHERE user_id = $1 AND confirmed_at IS NOT NULL)`,
		userID).Scan(&set); err != nil {
		return nil, err
	}
	if set {
		out = append(out, types.MFASMS)
	}

	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL)`,
		userID).Scan(&set); err != nil {
		return nil, err
	}
	if set {
		out = append(out, types.MFABackupCode)
	}

	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mfa_webauthn_credentials WHERE user_id = $1)`,
		userID).Scan(&set); err != nil {
		return nil, err
	}
	if set {
		out = append(out, types.MFAWebAuthn)
	}
	return out, nil
}
