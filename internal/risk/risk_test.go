package risk

import (
	"testing"
	"time"

	"github.com/medvault/authcore/internal/domain/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return e
}

// contexto "limpio": mediodía, UA de browser, dispositivo conocido y confiable.
func cleanContext() (Context, Signals) {
	ctx := Context{
		UserID:      "u1",
		Identifier:  "ana@clinic.example",
		SourceIP:    "203.0.113.10",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Gecko/20100101 Firefox/121.0",
		Fingerprint: "fp-1",
		At:          time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	sig := Signals{
		DeviceKnown: true,
		DeviceRisk:  0,
		LastKnownIP: "203.0.113.10",
	}
	return ctx, sig
}

func TestAssess_ZeroFactors(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	a := e.Assess(ctx, sig)

	if a.Score != 0 {
		t.Fatalf("score = %v, want 0", a.Score)
	}
	if a.Level != types.RiskLow {
		t.Fatalf("level = %v, want low", a.Level)
	}
	if len(a.Factors) != 0 {
		t.Fatalf("factors = %v, want none", a.Factors)
	}
	if len(a.Actions) != 1 || a.Actions[0] != types.ActionProceed {
		t.Fatalf("actions = %v, want [proceed]", a.Actions)
	}
}

func TestAssess_Monotonicity(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	// Se agregan factores de a uno; el score nunca baja.
	muts := []func(*Context, *Signals){
		func(c *Context, s *Signals) { s.DeviceKnown = false },
		func(c *Context, s *Signals) { s.LastKnownIP = "198.51.100.9" },
		func(c *Context, s *Signals) { c.At = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC) },
		func(c *Context, s *Signals) { s.FailedFromSource = 4 },
		func(c *Context, s *Signals) { c.Headers = map[string]string{"Via": "1.1 proxy"} },
		func(c *Context, s *Signals) { s.TorExit = true },
		func(c *Context, s *Signals) { s.Breached = true },
		func(c *Context, s *Signals) { c.UserAgent = "curl/8.0" },
	}

	ctx, sig := cleanContext()
	prev := e.Assess(ctx, sig).Score
	for i, mut := range muts {
		mut(&ctx, &sig)
		got := e.Assess(ctx, sig).Score
		if got < prev {
			t.Fatalf("step %d: score bajó de %v a %v", i, prev, got)
		}
		prev = got
	}
	if prev <= 0.6 {
		t.Fatalf("con todos esos factores el score debería caer en high o más, got %v", prev)
	}
}

func TestThresholds_BoundaryMapping(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds
	cases := []struct {
		score float64
		want  types.RiskLevel
	}{
		{0, types.RiskLow},
		{0.29999, types.RiskLow},
		{0.3, types.RiskMedium}, // límite pertenece al nivel superior
		{0.59999, types.RiskMedium},
		{0.6, types.RiskHigh},
		{0.79999, types.RiskHigh},
		{0.8, types.RiskCritical},
		{1.0, types.RiskCritical},
	}
	for _, c := range cases {
		if got := th.LevelFor(c.score); got != c.want {
			t.Fatalf("LevelFor(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestConfig_RejectsNonMonotoneThresholds(t *testing.T) {
	t.Parallel()

	bad := []Thresholds{
		{Medium: 0.6, High: 0.3, Critical: 0.8},
		{Medium: 0.3, High: 0.3, Critical: 0.8},
		{Medium: 0.3, High: 0.6, Critical: 1.5},
		{Medium: 0, High: 0.6, Critical: 0.8},
	}
	for _, th := range bad {
		if _, err := New(Config{Thresholds: th}); err == nil {
			t.Fatalf("expected error for thresholds %+v", th)
		}
	}
}

func TestAssess_ImpossibleTravel(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	// Buenos Aires -> Madrid en 30 minutos.
	sig.PreviousLocation = &GeoPoint{Lat: -34.6, Lon: -58.4}
	sig.CurrentLocation = &GeoPoint{Lat: 40.4, Lon: -3.7}
	sig.PreviousSeenAt = ctx.At.Add(-30 * time.Minute)

	a := e.Assess(ctx, sig)
	if !hasFactor(a, types.FactorImpossibleTravel) {
		t.Fatalf("expected impossible_travel factor, got %v", a.Factors)
	}

	// Mismo par de puntos con 14 horas de diferencia: plausible en avión.
	sig.PreviousSeenAt = ctx.At.Add(-14 * time.Hour)
	a = e.Assess(ctx, sig)
	if hasFactor(a, types.FactorImpossibleTravel) {
		t.Fatalf("unexpected impossible_travel factor for 14h gap")
	}
}

func TestAssess_ShortHopIgnored(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	// Dos barrios de la misma ciudad en 1 minuto: bajo MinTravelDistanceKm.
	sig.PreviousLocation = &GeoPoint{Lat: -34.60, Lon: -58.40}
	sig.CurrentLocation = &GeoPoint{Lat: -34.62, Lon: -58.45}
	sig.PreviousSeenAt = ctx.At.Add(-time.Minute)

	if a := e.Assess(ctx, sig); hasFactor(a, types.FactorImpossibleTravel) {
		t.Fatalf("urban-scale hop should not trigger impossible travel")
	}
}

func TestAssess_BehavioralAnomaly(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	sig.TypicalLoginHours = []int{8, 9, 10, 17, 18}

	// 12:00 no está en el patrón -> factor presente.
	a := e.Assess(ctx, sig)
	if !hasFactor(a, types.FactorBehavioral) {
		t.Fatalf("expected behavioral factor")
	}

	// 09:00 sí está -> sin factor.
	ctx.At = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if a := e.Assess(ctx, sig); hasFactor(a, types.FactorBehavioral) {
		t.Fatalf("unexpected behavioral factor inside pattern")
	}
}

func TestAssess_EndToEndMediumScenario(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	// Dispositivo nuevo + 3 fallos desde la IP + login a las 03:00 vía Tor.
	ctx, sig := cleanContext()
	ctx.At = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	sig.DeviceKnown = false
	sig.FailedFromSource = 3
	sig.TorExit = true

	a := e.Assess(ctx, sig)
	if !a.Level.AtLeast(types.RiskMedium) {
		t.Fatalf("level = %v (score %v), want at least medium", a.Level, a.Score)
	}
	if !RequiresMFA(a.Actions) {
		t.Fatalf("actions %v must include an MFA requirement", a.Actions)
	}
}

func TestAssess_DeviceRiskScalesNewDeviceWeight(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	sig.DeviceKnown = true
	sig.DeviceRisk = 0.5
	half := e.Assess(ctx, sig).Score

	sig.DeviceKnown = false
	sig.DeviceRisk = 0
	full := e.Assess(ctx, sig).Score

	if half <= 0 || half >= full {
		t.Fatalf("scaled contribution %v should be in (0, %v)", half, full)
	}
}

func TestAssess_BotAndMissingUserAgent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	ctx, sig := cleanContext()
	ctx.UserAgent = "python-requests/2.31"
	if a := e.Assess(ctx, sig); !hasFactor(a, types.FactorBotSignature) {
		t.Fatalf("expected bot factor for python-requests")
	}

	ctx.UserAgent = ""
	if a := e.Assess(ctx, sig); !hasFactor(a, types.FactorBotSignature) {
		t.Fatalf("expected bot factor for missing UA")
	}
}

func TestNocturnalWindow_CrossesMidnight(t *testing.T) {
	t.Parallel()

	e, err := New(Config{NocturnalStartHour: 22, NocturnalEndHour: 5})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	ctx, sig := cleanContext()

	ctx.At = time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)
	if a := e.Assess(ctx, sig); !hasFactor(a, types.FactorSuspiciousTime) {
		t.Fatalf("23:00 should be nocturnal for 22-05")
	}
	ctx.At = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if a := e.Assess(ctx, sig); hasFactor(a, types.FactorSuspiciousTime) {
		t.Fatalf("12:00 should not be nocturnal")
	}
}

func TestActionsFor_PureMapping(t *testing.T) {
	t.Parallel()

	if got := ActionsFor(types.RiskCritical); !Blocks(got) {
		t.Fatalf("critical must block, got %v", got)
	}
	high := ActionsFor(types.RiskHigh)
	if !RequiresMFA(high) {
		t.Fatalf("high must require MFA, got %v", high)
	}

	enabled := []types.MFAMethod{types.MFATOTP, types.MFASMS, types.MFAWebAuthn}
	strong := AllowedMethods(types.RiskHigh, enabled)
	for _, m := range strong {
		if !m.IsStrong() {
			t.Fatalf("high level allowed weak method %v", m)
		}
	}
	if len(AllowedMethods(types.RiskMedium, enabled)) != len(enabled) {
		t.Fatalf("medium should allow all enabled methods")
	}
}

func hasFactor(a Assessment, kind types.FactorKind) bool {
	for _, f := range a.Factors {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
