package rate

import (
	"context"
	"sync"
	"time"

	"github.com/medvault/authcore/internal/clock"
)

// MemoryLimiter mantiene el estado por clave en memoria. Toda la secuencia
// check-then-consume corre bajo el mutex de la entrada: dos requests
// concurrentes no pueden colarse entre el chequeo y el registro.
type MemoryLimiter struct {
	limits Limits
	clk    clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex

	// ventanas deslizantes: timestamps de requests aceptados
	minute []time.Time
	hour   []time.Time
	day    []time.Time

	// token bucket
	tokens     float64
	lastRefill time.Time
}

// NewMemoryLimiter crea un limiter en memoria.
func NewMemoryLimiter(limits Limits, clk clock.Clock) *MemoryLimiter {
	limits.applyDefaults()
	return &MemoryLimiter{
		limits:  limits,
		clk:     clk,
		entries: make(map[string]*entry),
	}
}

// Allow aplica las tres ventanas y el bucket. El request pasa solo si
// TODAS las ventanas tienen cupo Y hay un token disponible; el token se
// consume únicamente cuando el request es aceptado.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.clk.Now()
	e := l.entryFor(key, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.minute = prune(e.minute, now.Add(-time.Minute))
	e.hour = prune(e.hour, now.Add(-time.Hour))
	e.day = prune(e.day, now.Add(-24*time.Hour))

	if len(e.minute) >= l.limits.PerMinute {
		return rejected("minute", e.minute[0].Add(time.Minute).Sub(now)), nil
	}
	if len(e.hour) >= l.limits.PerHour {
		return rejected("hour", e.hour[0].Add(time.Hour).Sub(now)), nil
	}
	if len(e.day) >= l.limits.PerDay {
		return rejected("day", e.day[0].Add(24*time.Hour).Sub(now)), nil
	}

	// refill continuo del bucket
	elapsed := now.Sub(e.lastRefill).Seconds()
	if elapsed > 0 {
		e.tokens += elapsed * l.limits.RefillPerSecond
		if e.tokens > float64(l.limits.BurstCapacity) {
			e.tokens = float64(l.limits.BurstCapacity)
		}
		e.lastRefill = now
	}
	if e.tokens < 1 {
		wait := time.Duration((1 - e.tokens) / l.limits.RefillPerSecond * float64(time.Second))
		return rejected("bucket", wait), nil
	}

	// aceptado: registrar en ventanas y consumir token
	e.tokens--
	e.minute = append(e.minute, now)
	e.hour = append(e.hour, now)
	e.day = append(e.day, now)

	remaining := int64(l.limits.PerMinute - len(e.minute))
	return Result{Allowed: true, Remaining: remaining}, nil
}

func (l *MemoryLimiter) entryFor(key string, now time.Time) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{
			tokens:     float64(l.limits.BurstCapacity),
			lastRefill: now,
		}
		l.entries[key] = e
	}
	return e
}

// Sweep elimina entradas sin actividad en las últimas 24h. Pensado para
// correr periódicamente; recorre como máximo limit entradas por llamada.
func (l *MemoryLimiter) Sweep(limit int) int {
	now := l.clk.Now()
	cutoff := now.Add(-24 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.entries {
		if n >= limit {
			break
		}
		e.mu.Lock()
		idle := len(prune(e.day, cutoff)) == 0 && e.lastRefill.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

func rejected(window string, retry time.Duration) Result {
	if retry < 0 {
		retry = 0
	}
	return Result{Allowed: false, Window: window, RetryAfter: retry}
}
