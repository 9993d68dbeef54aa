package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/medvault/authcore/internal/clock"
	"github.com/medvault/authcore/internal/store/memory"
)

func TestRevokeAndLookup(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), nil)
	repo := memory.NewBlacklistRepo().WithNow(fc.Now)
	svc := New(Deps{Repo: repo, Clock: fc}, Config{})
	ctx := context.Background()

	if err := svc.Revoke(ctx, "jti-1", fc.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, err := svc.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !ok {
		t.Fatal("el token recién revocado debería figurar")
	}

	// fuera de la lista
	if ok, _ := svc.IsRevoked(ctx, "jti-otro"); ok {
		t.Fatal("token nunca revocado no debería figurar")
	}
}

func TestExpiredEntryNotReported(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), nil)
	repo := memory.NewBlacklistRepo().WithNow(fc.Now)
	svc := New(Deps{Repo: repo, Clock: fc}, Config{})
	ctx := context.Background()

	svc.Revoke(ctx, "jti-corto", fc.Now().Add(time.Minute))
	fc.Advance(2 * time.Minute)

	if ok, _ := svc.IsRevoked(ctx, "jti-corto"); ok {
		t.Fatal("pasada la expiración natural la entrada no debe reportarse")
	}
}

func TestRevokeAlreadyExpiredIsNoop(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), nil)
	repo := memory.NewBlacklistRepo().WithNow(fc.Now)
	svc := New(Deps{Repo: repo, Clock: fc}, Config{})
	ctx := context.Background()

	if err := svc.Revoke(ctx, "jti-vencido", fc.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Revoke de token vencido: %v", err)
	}
	if ok, _ := svc.IsRevoked(ctx, "jti-vencido"); ok {
		t.Fatal("un token ya vencido no se agrega")
	}
}

func TestSweepPurgesInBatches(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), nil)
	repo := memory.NewBlacklistRepo().WithNow(fc.Now)
	svc := New(Deps{Repo: repo, Clock: fc}, Config{SweepBatch: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.Revoke(ctx, string(rune('a'+i)), fc.Now().Add(time.Minute))
	}
	fc.Advance(2 * time.Minute)

	svc.sweepOnce(ctx)

	n, err := repo.PurgeExpiredBatch(ctx, fc.Now(), 100)
	if err != nil {
		t.Fatalf("PurgeExpiredBatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("quedaron %d entradas vencidas tras el sweep", n)
	}
}
