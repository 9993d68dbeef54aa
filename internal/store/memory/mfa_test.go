package memory

import (
	"context"
	"testing"
	"time"
)

func TestMFARepoUpsertTOTPUsesInjectedNow(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 7, 6, 14, 0, 0, 0, time.UTC)
	r := NewMFARepo().WithNow(func() time.Time { return fixed })
	ctx := context.Background()

	if err := r.UpsertTOTP(ctx, "u1", "secreto-cifrado"); err != nil {
		t.Fatalf("UpsertTOTP: %v", err)
	}
	got, err := r.GetTOTP(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTOTP: %v", err)
	}
	if !got.CreatedAt.Equal(fixed) || !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("timestamps = %v / %v, esperaba %v", got.CreatedAt, got.UpdatedAt, fixed)
	}

	// re-upsert: reinicia la confirmación y estampa con la misma fuente
	later := fixed.Add(time.Hour)
	confirmed := fixed.Add(time.Minute)
	if err := r.ConfirmTOTP(ctx, "u1", confirmed); err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	r.WithNow(func() time.Time { return later })
	if err := r.UpsertTOTP(ctx, "u1", "otro-secreto"); err != nil {
		t.Fatalf("UpsertTOTP 2: %v", err)
	}
	got, err = r.GetTOTP(ctx, "u1")
	if err != nil {
		t.Fatalf("GetTOTP 2: %v", err)
	}
	if got.ConfirmedAt != nil {
		t.Fatal("re-enrolar debe invalidar la confirmación previa")
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt = %v, esperaba %v", got.UpdatedAt, later)
	}
	if got.SecretEncrypted != "otro-secreto" {
		t.Fatalf("SecretEncrypted = %q", got.SecretEncrypted)
	}
}
