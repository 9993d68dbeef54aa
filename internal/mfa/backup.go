package mfa

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"github.com/medvault/authcore/internal/audit"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/observability/logger"
)

const backupCodeBytes = 5 // 10 dígitos hex, formato XXXXX-XXXXX

// BackupCodeBatch es el resultado de generar un lote nuevo.
type BackupCodeBatch struct {
	// Codes en claro; se muestran una única vez.
	Codes []string
}

// GenerateBackupCodes genera un lote nuevo de códigos de un solo uso. El
// lote reemplaza al anterior de forma atómica: todo código previo queda
// invalidado aunque nunca se haya usado.
func (o *Orchestrator) GenerateBackupCodes(ctx context.Context, userID string) (*BackupCodeBatch, error) {
	codes := make([]string, o.cfg.BackupCodeCount)
	hashes := make([]string, o.cfg.BackupCodeCount)
	buf := make([]byte, backupCodeBytes)
	for i := range codes {
		if _, err := io.ReadFull(o.deps.Clock.Rand(), buf); err != nil {
			return nil, fmt.Errorf("mfa: generando códigos de respaldo: %w", err)
		}
		hexed := fmt.Sprintf("%x", buf)
		codes[i] = hexed[:5] + "-" + hexed[5:]

		h, err := bcrypt.GenerateFromPassword([]byte(codes[i]), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("mfa: hasheando código de respaldo: %w", err)
		}
		hashes[i] = string(h)
	}

	if err := o.deps.Repo.ReplaceBackupCodes(ctx, userID, hashes, o.deps.Clock.Now()); err != nil {
		return nil, err
	}
	o.deps.Audit.Log(ctx, audit.EventMFAEnrolled,
		logger.UserID(userID),
		logger.MFAMethod(string(types.MFABackupCode)),
		logger.Count(len(codes)),
	)
	return &BackupCodeBatch{Codes: codes}, nil
}

// verifyBackupCode consume un código del lote vigente. Cada código vale
// exactamente una vez.
func (o *Orchestrator) verifyBackupCode(ctx context.Context, userID, code string) error {
	stored, err := o.deps.Repo.ListBackupCodes(ctx, userID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return ErrMethodNotEnrolled
	}

	for _, bc := range stored {
		if bc.UsedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(bc.Hash), []byte(code)) != nil {
			continue
		}
		used, err := o.deps.Repo.UseBackupCode(ctx, userID, bc.Hash, o.deps.Clock.Now())
		if err != nil {
			return err
		}
		if !used {
			// carrera: otro request consumió este código primero
			return o.auditFailure(ctx, userID, types.MFABackupCode, "código ya usado")
		}
		o.warnIfLow(ctx, userID, stored)
		return nil
	}
	return o.auditFailure(ctx, userID, types.MFABackupCode, "código inválido o ya usado")
}

// RemainingBackupCodes cuenta los códigos sin usar del lote vigente.
func (o *Orchestrator) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	stored, err := o.deps.Repo.ListBackupCodes(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, bc := range stored {
		if bc.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

// warnIfLow loguea cuando el lote queda por debajo del umbral. stored es
// el estado previo al consumo actual.
func (o *Orchestrator) warnIfLow(ctx context.Context, userID string, stored []repository.BackupCode) {
	remaining := -1 // el código recién consumido
	for _, bc := range stored {
		if bc.UsedAt == nil {
			remaining++
		}
	}
	if remaining >= 0 && remaining < o.cfg.BackupLowThreshold {
		o.deps.Log.Warn("quedan pocos códigos de respaldo",
			logger.Component("mfa"),
			logger.UserID(userID),
			logger.Count(remaining),
		)
	}
}
