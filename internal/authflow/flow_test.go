package authflow

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	cachemem "github.com/medvault/authcore/internal/cache/memory"
	"github.com/medvault/authcore/internal/blacklist"
	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/device"
	"github.com/medvault/authcore/internal/domain/repository"
	"github.com/medvault/authcore/internal/domain/types"
	"github.com/medvault/authcore/internal/mfa"
	"github.com/medvault/authcore/internal/rate"
	"github.com/medvault/authcore/internal/risk"
	"github.com/medvault/authcore/internal/security/password"
	"github.com/medvault/authcore/internal/security/secretbox"
	"github.com/medvault/authcore/internal/session"
	"github.com/medvault/authcore/internal/store/memory"
)

type stubBreach struct{ breached bool }

func (s *stubBreach) IsBreached(context.Context, string) bool { return s.breached }

type stubNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubNotifier) NotifyLogin(_ context.Context, email, level, _ string) {
	s.mu.Lock()
	s.calls = append(s.calls, email+":"+level)
	s.mu.Unlock()
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type harness struct {
	flow     *Flow
	clk      *clock.Fake
	users    *memory.UserRepo
	attempts *memory.AttemptRepo
	tracker  *device.Tracker
	orch     *mfa.Orchestrator
	breach   *stubBreach
	notify   *stubNotifier
}

func newTestFlow(t *testing.T, limits rate.Limits, bypass *rate.BypassEvaluator) *harness {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 7, 6, 14, 0, 0, 0, time.UTC), nil)

	users := memory.NewUserRepo()
	attempts := memory.NewAttemptRepo()
	sessions := memory.NewSessionRepo()

	tracker := device.NewTracker(device.Deps{
		Devices:  memory.NewDeviceRepo(),
		Sessions: sessions,
		Clock:    fc,
	}, device.Config{})

	engine, err := risk.New(risk.Config{})
	if err != nil {
		t.Fatalf("risk.New: %v", err)
	}

	box, err := secretbox.New(make([]byte, 32), nil)
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	orch := mfa.New(mfa.Deps{
		Repo:  memory.NewMFARepo(),
		Cache: cachemem.New(10 * time.Minute),
		Box:   box,
		Clock: fc,
	}, mfa.Config{})

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	issuer, err := session.NewIssuer("https://auth.medvault.test", priv, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	mgr := session.New(session.Deps{
		Sessions: sessions,
		Blacklist: blacklist.New(blacklist.Deps{
			Repo:  memory.NewBlacklistRepo().WithNow(fc.Now),
			Clock: fc,
		}, blacklist.Config{}),
		Issuer: issuer,
		Clock:  fc,
	}, session.Config{})

	breach := &stubBreach{}
	notify := &stubNotifier{}

	f := New(Deps{
		Users:    users,
		Attempts: attempts,
		Devices:  tracker,
		Risk:     engine,
		MFA:      orch,
		Sessions: mgr,
		Limiter:  rate.NewMemoryLimiter(limits, fc),
		Bypass:   bypass,
		Breach:   breach,
		Notify:   notify,
		Clock:    fc,
	}, Config{})

	return &harness{
		flow:     f,
		clk:      fc,
		users:    users,
		attempts: attempts,
		tracker:  tracker,
		orch:     orch,
		breach:   breach,
		notify:   notify,
	}
}

var wideOpen = rate.Limits{PerMinute: 10000, PerHour: 10000, PerDay: 10000, BurstCapacity: 10000, RefillPerSecond: 10000}

func seedUser(t *testing.T, h *harness, email, plain string, hours []int) string {
	t.Helper()
	hash, err := password.Hash(password.Default, plain)
	if err != nil {
		t.Fatalf("password.Hash: %v", err)
	}
	id := "u-" + email
	h.users.Seed(repository.User{
		ID:                id,
		Email:             email,
		PasswordHash:      &hash,
		EmailVerified:     true,
		CreatedAt:         h.clk.Now().Add(-90 * 24 * time.Hour),
		TypicalLoginHours: hours,
	})
	return id
}

func baseInput(email, pw string) AttemptInput {
	return AttemptInput{
		Identifier:  email,
		Password:    pw,
		SourceIP:    "203.0.113.10",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/140.0",
		Fingerprint: "fp-estable-01",
		Profile:     types.SessionWeb,
	}
}

func seedFailures(t *testing.T, h *harness, identifier, ip string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := h.attempts.Record(context.Background(), repository.LoginAttempt{
			Identifier: identifier,
			SourceIP:   ip,
			Success:    false,
			Reason:     "invalid_credentials",
			At:         h.clk.Now().Add(-time.Duration(i+1) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

// ─── camino feliz ───

func TestAuthenticateLowRiskSucceeds(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	out, err := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "s3creto-largo"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, esperaba success", out.Status)
	}
	if out.Session == nil || out.Session.AccessToken == "" || out.Session.RefreshToken == "" {
		t.Fatal("sesión incompleta")
	}
	if out.RiskLevel != types.RiskLow {
		t.Fatalf("nivel = %s, esperaba low", out.RiskLevel)
	}

	sess, err := h.flow.ValidateRequest(ctx, out.Session.AccessToken)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if sess.UserID != "u-clinica@medvault.test" {
		t.Fatalf("UserID = %s", sess.UserID)
	}
}

// ─── falla genérica ───

func TestGenericFailureForUnknownAndWrongPassword(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	_, errUnknown := h.flow.Authenticate(ctx, baseInput("nadie@medvault.test", "loquesea"))
	_, errWrongPw := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "incorrecto"))

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("usuario inexistente: err = %v", errUnknown)
	}
	if !errors.Is(errWrongPw, ErrInvalidCredentials) {
		t.Fatalf("password incorrecto: err = %v", errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatal("los mensajes de falla deben ser indistinguibles")
	}
}

// ─── lockout ───

func TestLockoutAfterRepeatedFailuresAndLazyUnlock(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "incorrecto")); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("fallo %d: err = %v", i+1, err)
		}
	}

	// con el password correcto pero bloqueado
	if _, err := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "s3creto-largo")); !errors.Is(err, ErrLocked) {
		t.Fatalf("bloqueado: err = %v, esperaba ErrLocked", err)
	}

	// el bloqueo vence y el siguiente intento válido desbloquea
	h.clk.Advance(16 * time.Minute)
	out, err := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "s3creto-largo"))
	if err != nil {
		t.Fatalf("tras expirar el bloqueo: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s", out.Status)
	}
}

// ─── rate limiting y bypass ───

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	h := newTestFlow(t, rate.Limits{PerMinute: 2, PerHour: 1000, PerDay: 1000, BurstCapacity: 1000, RefillPerSecond: 1000}, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	in := baseInput("clinica@medvault.test", "incorrecto")
	for i := 0; i < 2; i++ {
		if _, err := h.flow.Authenticate(ctx, in); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("intento %d: err = %v", i+1, err)
		}
	}

	_, err := h.flow.Authenticate(ctx, in)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, esperaba ErrRateLimited", err)
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err no envuelve RateLimitedError: %v", err)
	}
	if rl.RetryAfter <= 0 || rl.Window == "" {
		t.Fatalf("RetryAfter = %v, Window = %q", rl.RetryAfter, rl.Window)
	}
}

func TestBypassRuleSkipsRateLimit(t *testing.T) {
	bypass := rate.NewBypassEvaluator([]rate.BypassRule{{
		Name:    "monitoreo-interno",
		Enabled: true,
		IPs4:    []string{"203.0.113.10"},
	}})
	h := newTestFlow(t, rate.Limits{PerMinute: 1, PerHour: 1, PerDay: 1, BurstCapacity: 1, RefillPerSecond: 1}, bypass)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	// muy por encima del límite: el bypass exime del rate limiting pero no
	// de la verificación de credenciales
	for i := 0; i < 4; i++ {
		_, err := h.flow.Authenticate(ctx, baseInput("clinica@medvault.test", "incorrecto"))
		if errors.Is(err, ErrRateLimited) {
			t.Fatalf("intento %d rechazado por rate limit pese al bypass", i+1)
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("intento %d: err = %v", i+1, err)
		}
	}
}

// ─── riesgo elevado y MFA ───

// login a las 03:00 vía Tor desde un dispositivo nuevo con fallos previos
// desde la IP: el score cae en medium y el pipeline exige MFA en vez de
// emitir sesión.
func TestElevatedRiskRequiresMFAAndCompletes(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	uid := seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	batch, err := h.orch.GenerateBackupCodes(ctx, uid)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "otro@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	out, err := h.flow.Authenticate(ctx, in)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusMFARequired {
		t.Fatalf("status = %s, esperaba mfa_required (nivel %s, score %.2f)", out.Status, out.RiskLevel, out.RiskScore)
	}
	if !out.RiskLevel.AtLeast(types.RiskMedium) {
		t.Fatalf("nivel = %s, esperaba >= medium", out.RiskLevel)
	}
	if out.ChallengeToken == "" || len(out.Methods) == 0 {
		t.Fatal("challenge incompleto")
	}
	if out.Session != nil {
		t.Fatal("no debe emitirse sesión antes del MFA")
	}

	// un código errado no quema el challenge
	if _, err := h.flow.CompleteMFA(ctx, out.ChallengeToken, types.MFABackupCode, "XXXXX-XXXXX", baseInput("clinica@medvault.test", "")); !errors.Is(err, mfa.ErrVerificationFailed) {
		t.Fatalf("código errado: err = %v", err)
	}

	done, err := h.flow.CompleteMFA(ctx, out.ChallengeToken, types.MFABackupCode, batch.Codes[0], baseInput("clinica@medvault.test", ""))
	if err != nil {
		t.Fatalf("CompleteMFA: %v", err)
	}
	if done.Status != StatusSuccess || done.Session == nil {
		t.Fatal("el MFA exitoso debe emitir sesión")
	}
	if !done.Session.Session.MFAVerified {
		t.Fatal("la sesión debe quedar marcada como verificada por MFA")
	}

	// el challenge es de un solo canje exitoso
	if _, err := h.flow.CompleteMFA(ctx, out.ChallengeToken, types.MFABackupCode, batch.Codes[1], baseInput("clinica@medvault.test", "")); err == nil {
		t.Fatal("el challenge canjeado no debe reutilizarse")
	}
}

func TestMethodOutsideChallengeListFails(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	uid := seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	if _, err := h.orch.GenerateBackupCodes(ctx, uid); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "x@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	out, err := h.flow.Authenticate(ctx, in)
	if err != nil || out.Status != StatusMFARequired {
		t.Fatalf("setup: out = %+v, err = %v", out, err)
	}

	if _, err := h.flow.CompleteMFA(ctx, out.ChallengeToken, types.MFATOTP, "000000", baseInput("clinica@medvault.test", "")); !errors.Is(err, mfa.ErrVerificationFailed) {
		t.Fatalf("método no ofrecido: err = %v", err)
	}
}

func TestMediumRiskWithoutEnrolledMFANotifies(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "x@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	out, err := h.flow.Authenticate(ctx, in)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s: sin métodos enrolados en medium se procede con aviso", out.Status)
	}
	if h.notify.count() == 0 {
		t.Fatal("el login de riesgo medio sin MFA debe notificar al usuario")
	}
}

func TestHighRiskWithoutStrongMFADenied(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	uid := seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	// solo códigos de respaldo enrolados: método débil, inadmisible en high
	if _, err := h.orch.GenerateBackupCodes(ctx, uid); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	// Tor + credencial filtrada + UA de script + madrugada + fallos: high
	h.breach.breached = true
	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "x@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	in.UserAgent = "curl/8.9.0"
	if _, err := h.flow.Authenticate(ctx, in); !errors.Is(err, ErrMFAUnavailable) {
		t.Fatalf("err = %v, esperaba ErrMFAUnavailable", err)
	}
}

func TestCriticalRiskBlocks(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", []int{9, 10, 11})
	ctx := context.Background()

	// último login exitoso desde otra IP: cambio de ubicación de red
	if err := h.attempts.Record(ctx, repository.LoginAttempt{
		Identifier: "clinica@medvault.test",
		SourceIP:   "198.51.100.7",
		Success:    true,
		At:         h.clk.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	h.breach.breached = true
	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "x@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	in.UserAgent = "python-requests/2.32"
	in.Headers = map[string]string{"Via": "1.1 relay-7"}
	if _, err := h.flow.Authenticate(ctx, in); !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, esperaba ErrBlocked", err)
	}
}

// dos logins exitosos separados por 30 minutos desde coordenadas a más
// de 10000 km: la velocidad implícita supera lo plausible y el factor de
// viaje imposible debe elevar el score del segundo intento.
func TestImpossibleTravelRaisesRiskAcrossLogins(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	seedUser(t, h, "clinica@medvault.test", "s3creto-largo", nil)
	ctx := context.Background()

	first := baseInput("clinica@medvault.test", "s3creto-largo")
	first.Location = &risk.GeoPoint{Lat: 40.4168, Lon: -3.7038} // Madrid
	out, err := h.flow.Authenticate(ctx, first)
	if err != nil || out.Status != StatusSuccess {
		t.Fatalf("primer login: out = %+v, err = %v", out, err)
	}

	// el intento exitoso persiste las coordenadas para el siguiente scoring
	prev, err := h.attempts.LastSuccess(ctx, "clinica@medvault.test")
	if err != nil {
		t.Fatalf("LastSuccess: %v", err)
	}
	if prev.Latitude == nil || prev.Longitude == nil {
		t.Fatal("el intento exitoso debe guardar latitud y longitud")
	}

	h.clk.Advance(30 * time.Minute)
	second := baseInput("clinica@medvault.test", "s3creto-largo")
	second.SourceIP = "198.51.100.44"
	second.Location = &risk.GeoPoint{Lat: -34.6037, Lon: -58.3816} // Buenos Aires
	out2, err := h.flow.Authenticate(ctx, second)
	if err != nil {
		t.Fatalf("segundo login: %v", err)
	}

	// sin el factor de viaje el escenario suma a lo más dispositivo conocido
	// con riesgo residual más cambio de IP, muy por debajo de 0.2
	if out2.RiskScore <= 0.2 {
		t.Fatalf("score = %.4f: el viaje imposible no elevó el riesgo", out2.RiskScore)
	}
}

// ─── dispositivo confiable ───

func TestTrustedDeviceSkipsStandardMFA(t *testing.T) {
	h := newTestFlow(t, wideOpen, nil)
	uid := seedUser(t, h, "clinica@medvault.test", "s3creto-largo", []int{9, 10, 11})
	ctx := context.Background()

	if _, err := h.orch.GenerateBackupCodes(ctx, uid); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	// registrar y confiar el dispositivo
	dev, _, err := h.tracker.ResolveOrCreate(ctx, uid, "fp-estable-01", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if err := h.tracker.Trust(ctx, uid, dev.ID, 30); err != nil {
		t.Fatalf("Trust: %v", err)
	}

	// Tor + madrugada fuera del patrón + fallos desde la IP: medium
	h.clk.Set(time.Date(2026, 7, 7, 3, 0, 0, 0, time.UTC))
	seedFailures(t, h, "x@medvault.test", "203.0.113.10", 3)

	in := baseInput("clinica@medvault.test", "s3creto-largo")
	in.TorExit = true
	out, err := h.flow.Authenticate(ctx, in)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !out.RiskLevel.AtLeast(types.RiskMedium) {
		t.Fatalf("nivel = %s, el escenario debía ser >= medium", out.RiskLevel)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s: el dispositivo confiable exime del MFA estándar", out.Status)
	}
}
