package mfa

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	cachemem "github.com/medvault/authcore/internal/cache/memory"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/security/secretbox"
	"github.com/medvault/authcore/internal/security/totp"
	"github.com/medvault/authcore/internal/store/memory"
)

var codeRe = regexp.MustCompile(`\d{6}`)

// fakeSMS captura los SMS enviados.
type fakeSMS struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (f *fakeSMS) SendSMS(_ context.Context, _ string, body string) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	f.sent = append(f.sent, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeSMS) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no se envió ningún SMS")
	}
	code := codeRe.FindString(f.sent[len(f.sent)-1])
	if code == "" {
		t.Fatalf("el SMS no contiene código: %q", f.sent[len(f.sent)-1])
	}
	return code
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *clock.Fake, *fakeSMS) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 4, 20, 14, 0, 0, 0, time.UTC), nil)

	box, err := secretbox.New(make([]byte, 32), nil)
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	sms := &fakeSMS{}
	o := New(Deps{
		Repo:  memory.NewMFARepo(),
		Cache: cachemem.New(10 * time.Minute),
		Box:   box,
		SMS:   sms,
		Clock: fc,
	}, Config{})
	return o, fc, sms
}

func enrollSMSConfirmed(t *testing.T, o *Orchestrator, userID string) {
	t.Helper()
	now := o.deps.Clock.Now()
	if err := o.deps.Repo.UpsertSMS(context.Background(), userID, "+5491155550001", &now); err != nil {
		t.Fatalf("UpsertSMS: %v", err)
	}
}

// ─── TOTP ───

func TestTOTPEnrollConfirmVerify(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)
	ctx := context.Background()

	enr, err := o.StartTOTPEnrollment(ctx, "user-1", "paciente@medvault.test")
	if err != nil {
		t.Fatalf("StartTOTPEnrollment: %v", err)
	}
	if enr.Secret == "" || enr.ProvisioningURL == "" {
		t.Fatal("enrolamiento incompleto")
	}

	secret, err := totp.DecodeSecret(enr.Secret)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	code := totp.CodeAt(secret, fc.Now())
	if err := o.ConfirmTOTPEnrollment(ctx, "user-1", enr.SetupID, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}

	methods, err := o.EnabledMethods(ctx, "user-1")
	if err != nil {
		t.Fatalf("EnabledMethods: %v", err)
	}
	found := false
	for _, m := range methods {
		if m == types.MFATOTP {
			found = true
		}
	}
	if !found {
		t.Fatal("TOTP no figura como habilitado tras confirmar")
	}

	// un código del step siguiente valida
	fc.Advance(30 * time.Second)
	next := totp.CodeAt(secret, fc.Now())
	if err := o.Verify(ctx, "user-1", types.MFATOTP, next); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// replay del mismo código: el contador persistido lo bloquea
	if err := o.Verify(ctx, "user-1", types.MFATOTP, next); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("replay TOTP: err = %v, esperaba ErrVerificationFailed", err)
	}
}

func TestTOTPConfirmWrongCodeKeepsSession(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)
	ctx := context.Background()

	enr, err := o.StartTOTPEnrollment(ctx, "user-1", "a@b.c")
	if err != nil {
		t.Fatalf("StartTOTPEnrollment: %v", err)
	}
	if err := o.ConfirmTOTPEnrollment(ctx, "user-1", enr.SetupID, "000000"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v", err)
	}

	// la sesión de setup sobrevive al error: el código correcto confirma
	secret, _ := totp.DecodeSecret(enr.Secret)
	if err := o.ConfirmTOTPEnrollment(ctx, "user-1", enr.SetupID, totp.CodeAt(secret, fc.Now())); err != nil {
		t.Fatalf("reintento: %v", err)
	}
}

func TestVerifyWithoutEnrollment(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if err := o.Verify(context.Background(), "nadie", types.MFATOTP, "123456"); !errors.Is(err, ErrMethodNotEnrolled) {
		t.Fatalf("err = %v, esperaba ErrMethodNotEnrolled", err)
	}
}

// ─── SMS ───

func TestSMSIssuanceQuota(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)
	ctx := context.Background()
	enrollSMSConfirmed(t, o, "user-1")

	for i := 0; i < 3; i++ {
		if err := o.StartSMSChallenge(ctx, "user-1"); err != nil {
			t.Fatalf("emisión %d: %v", i+1, err)
		}
	}
	// cuarta emisión dentro de la hora: rechazada
	if err := o.StartSMSChallenge(ctx, "user-1"); !errors.Is(err, ErrSMSQuotaExceeded) {
		t.Fatalf("err = %v, esperaba ErrSMSQuotaExceeded", err)
	}

	// pasada la hora la ventana se libera
	fc.Advance(61 * time.Minute)
	if err := o.StartSMSChallenge(ctx, "user-1"); err != nil {
		t.Fatalf("emisión tras la ventana: %v", err)
	}
}

func TestSMSVerifyThenReuseFails(t *testing.T) {
	o, fc, sms := newTestOrchestrator(t)
	ctx := context.Background()
	enrollSMSConfirmed(t, o, "user-1")

	if err := o.StartSMSChallenge(ctx, "user-1"); err != nil {
		t.Fatalf("StartSMSChallenge: %v", err)
	}
	code := sms.lastCode(t)

	// verificado a los 4 minutos: dentro del TTL de 5
	fc.Advance(4 * time.Minute)
	if err := o.Verify(ctx, "user-1", types.MFASMS, code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// el mismo código de nuevo: consumido, falla genérico
	if err := o.Verify(ctx, "user-1", types.MFASMS, code); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("reuso: err = %v, esperaba ErrVerificationFailed", err)
	}
}

func TestSMSAttemptBudgetBurnsCode(t *testing.T) {
	o, _, sms := newTestOrchestrator(t)
	ctx := context.Background()
	enrollSMSConfirmed(t, o, "user-1")

	if err := o.StartSMSChallenge(ctx, "user-1"); err != nil {
		t.Fatalf("StartSMSChallenge: %v", err)
	}
	code := sms.lastCode(t)

	// 5 intentos errados queman el código
	for i := 0; i < 5; i++ {
		err := o.Verify(ctx, "user-1", types.MFASMS, "000000")
		if !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("intento %d: err = %v", i+1, err)
		}
	}
	// incluso el código correcto ya no vale: hay que re-emitir
	if err := o.Verify(ctx, "user-1", types.MFASMS, code); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("código quemado: err = %v", err)
	}
}

func TestSMSGenericFailureIndistinguishable(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	enrollSMSConfirmed(t, o, "user-1")

	if err := o.StartSMSChallenge(ctx, "user-1"); err != nil {
		t.Fatalf("StartSMSChallenge: %v", err)
	}

	errInvalid := o.Verify(ctx, "user-1", types.MFASMS, "000000")
	for i := 0; i < 4; i++ {
		o.Verify(ctx, "user-1", types.MFASMS, "000000")
	}
	errBudget := o.Verify(ctx, "user-1", types.MFASMS, "000000")

	// código inválido e intentos agotados devuelven el mismo error
	if errInvalid.Error() != errBudget.Error() {
		t.Fatalf("el caller puede distinguir motivos: %q vs %q", errInvalid, errBudget)
	}
}

// ─── Backup codes ───

func TestBackupCodeSingleUse(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	batch, err := o.GenerateBackupCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(batch.Codes) != 10 {
		t.Fatalf("lote de %d códigos, esperaba 10", len(batch.Codes))
	}

	code := batch.Codes[0]
	if err := o.Verify(ctx, "user-1", types.MFABackupCode, code); err != nil {
		t.Fatalf("primer uso: %v", err)
	}
	if err := o.Verify(ctx, "user-1", types.MFABackupCode, code); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("segundo uso: err = %v, esperaba ErrVerificationFailed", err)
	}

	remaining, err := o.RemainingBackupCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("remaining = %d, esperaba 9", remaining)
	}
}

func TestNewBatchInvalidatesPrevious(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	old, err := o.GenerateBackupCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if _, err := o.GenerateBackupCodes(ctx, "user-1"); err != nil {
		t.Fatalf("segundo lote: %v", err)
	}

	// todos los códigos del lote anterior quedan inválidos, usados o no
	if err := o.Verify(ctx, "user-1", types.MFABackupCode, old.Codes[3]); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("código del lote viejo: err = %v", err)
	}
}

// ─── Challenge token ───

func TestChallengeSingleUse(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	token, err := o.IssueChallenge(ctx, Challenge{
		UserID:    "user-1",
		Methods:   []types.MFAMethod{types.MFATOTP, types.MFASMS},
		RiskLevel: types.RiskMedium,
		Profile:   types.SessionWeb,
	})
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	ch, err := o.ConsumeChallenge(ctx, token)
	if err != nil {
		t.Fatalf("ConsumeChallenge: %v", err)
	}
	if ch.UserID != "user-1" || len(ch.Methods) != 2 || ch.RiskLevel != types.RiskMedium {
		t.Fatalf("challenge corrupto: %+v", ch)
	}

	// segundo canje: ya consumido
	if _, err := o.ConsumeChallenge(ctx, token); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v, esperaba ErrChallengeInvalid", err)
	}
}

func TestChallengeUnknownToken(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if _, err := o.ConsumeChallenge(context.Background(), "inventado"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v", err)
	}
}

var _ repository.CacheRepository = (*cachemem.Cache)(nil)
