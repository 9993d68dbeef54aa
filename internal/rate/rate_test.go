package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medvault/authcore/internal/clock"
)

func newTestLimiter(t *testing.T) (*MemoryLimiter, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	lim := NewMemoryLimiter(Limits{
		PerMinute:       3,
		PerHour:         10,
		PerDay:          20,
		BurstCapacity:   5,
		RefillPerSecond: 1,
	}, fc)
	return lim, fc
}

func TestMemoryLimiterMinuteWindow(t *testing.T) {
	lim, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := lim.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d rechazado antes del límite", i+1)
		}
	}
	res, err := lim.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("cuarto request en el mismo minuto debería rechazarse")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, esperaba > 0", res.RetryAfter)
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	lim, fc := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if res, _ := lim.Allow(ctx, "k"); !res.Allowed {
			t.Fatalf("request %d rechazado", i+1)
		}
	}
	if res, _ := lim.Allow(ctx, "k"); res.Allowed {
		t.Fatal("debería estar limitado")
	}

	// al correr la ventana los timestamps viejos se descartan
	fc.Advance(61 * time.Second)
	if res, _ := lim.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("pasado el minuto debería permitirse de nuevo")
	}
}

func TestMemoryLimiterTokenBucketSmoothing(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), nil)
	lim := NewMemoryLimiter(Limits{
		PerMinute:       100,
		PerHour:         1000,
		PerDay:          10000,
		BurstCapacity:   3,
		RefillPerSecond: 1,
	}, fc)
	ctx := context.Background()

	// el burst agota los tokens aunque la ventana de minuto tenga lugar
	for i := 0; i < 3; i++ {
		if res, _ := lim.Allow(ctx, "burst"); !res.Allowed {
			t.Fatalf("burst %d rechazado", i+1)
		}
	}
	if res, _ := lim.Allow(ctx, "burst"); res.Allowed {
		t.Fatal("bucket vacío, debería rechazar")
	}

	fc.Advance(2 * time.Second)
	for i := 0; i < 2; i++ {
		if res, _ := lim.Allow(ctx, "burst"); !res.Allowed {
			t.Fatalf("refill %d: esperaba permitido", i+1)
		}
	}
	if res, _ := lim.Allow(ctx, "burst"); res.Allowed {
		t.Fatal("solo se rellenaron 2 tokens")
	}
}

func TestMemoryLimiterAtomicConsume(t *testing.T) {
	fc := clock.NewFake(time.Now(), nil)
	lim := NewMemoryLimiter(Limits{
		PerMinute:       50,
		PerHour:         50,
		PerDay:          50,
		BurstCapacity:   50,
		RefillPerSecond: 0,
	}, fc)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := lim.Allow(ctx, "conc")
			if err != nil {
				t.Errorf("Allow: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Fatalf("allowed = %d, esperaba exactamente 50", allowed)
	}
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	lim, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lim.Allow(ctx, "a")
	}
	if res, _ := lim.Allow(ctx, "a"); res.Allowed {
		t.Fatal("'a' debería estar limitado")
	}
	if res, _ := lim.Allow(ctx, "b"); !res.Allowed {
		t.Fatal("'b' no comparte contadores con 'a'")
	}
}

func TestBypassEnabledRuleAlwaysWins(t *testing.T) {
	ev := NewBypassEvaluator([]BypassRule{
		{Name: "monitoring", Enabled: true, Priority: 10, CIDRs: []string{"10.8.0.0/16"}},
	})

	req := BypassRequest{IP: "10.8.3.44", UserAgent: "curl/8.0"}
	for i := 0; i < 500; i++ {
		rule, ok := ev.Match(req)
		if !ok {
			t.Fatalf("iteración %d: la regla habilitada dejó de matchear", i)
		}
		if rule.Name != "monitoring" {
			t.Fatalf("matcheó %q", rule.Name)
		}
	}
}

func TestBypassDisabledRuleNeverMatches(t *testing.T) {
	ev := NewBypassEvaluator([]BypassRule{
		{Name: "old-probe", Enabled: false, Priority: 100, IPs4: []string{"192.168.1.5"}},
	})
	if _, ok := ev.Match(BypassRequest{IP: "192.168.1.5"}); ok {
		t.Fatal("una regla deshabilitada nunca debe matchear")
	}
}

func TestBypassFieldOrSemantics(t *testing.T) {
	ev := NewBypassEvaluator([]BypassRule{
		{
			Name:              "internal",
			Enabled:           true,
			IPs4:              []string{"172.16.0.9"},
			UserAgentPatterns: []string{"healthcheck-*"},
			Paths:             []string{"/internal/status"},
		},
	})

	cases := []struct {
		name string
		req  BypassRequest
		want bool
	}{
		{"por ip", BypassRequest{IP: "172.16.0.9"}, true},
		{"por user agent glob", BypassRequest{IP: "1.2.3.4", UserAgent: "healthcheck-v2"}, true},
		{"por path", BypassRequest{IP: "1.2.3.4", Path: "/internal/status"}, true},
		{"ninguno", BypassRequest{IP: "1.2.3.4", UserAgent: "Mozilla/5.0", Path: "/login"}, false},
	}
	for _, tc := range cases {
		if _, ok := ev.Match(tc.req); ok != tc.want {
			t.Errorf("%s: match = %v, esperaba %v", tc.name, ok, tc.want)
		}
	}
}

func TestBypassPriorityOrder(t *testing.T) {
	ev := NewBypassEvaluator([]BypassRule{
		{Name: "low", Enabled: true, Priority: 1, IPs4: []string{"10.0.0.1"}},
		{Name: "high", Enabled: true, Priority: 9, IPs4: []string{"10.0.0.1"}},
	})
	rule, ok := ev.Match(BypassRequest{IP: "10.0.0.1"})
	if !ok || rule.Name != "high" {
		t.Fatalf("esperaba la regla de mayor prioridad, obtuve %+v ok=%v", rule, ok)
	}
}

func TestBypassRequiredHeadersAllMustMatch(t *testing.T) {
	ev := NewBypassEvaluator([]BypassRule{
		{Name: "svc", Enabled: true, RequiredHeaders: map[string]string{
			"X-Internal-Token": "s3cr3t",
			"X-Service":        "scheduler",
		}},
	})

	if _, ok := ev.Match(BypassRequest{Headers: map[string]string{"X-Internal-Token": "s3cr3t"}}); ok {
		t.Fatal("faltando un header el predicado no debe matchear")
	}
	if _, ok := ev.Match(BypassRequest{Headers: map[string]string{
		"x-internal-token": "s3cr3t",
		"X-Service":        "scheduler",
	}}); !ok {
		t.Fatal("headers completos (case-insensitive) deberían matchear")
	}
}
