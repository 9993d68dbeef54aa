// Package rate implementa el throttling de intentos de autenticación:
// tres ventanas deslizantes independientes (minuto/hora/día) más un token
// bucket para suavizar ráfagas, y el evaluador de reglas de bypass.
package rate

import (
	"context"
	"time"
)

// Result es el veredicto del limiter para un request.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration

	// Window identifica qué ventana rechazó ("minute", "hour", "day",
	// "bucket"); vacío si fue permitido.
	Window string
}

// Limiter decide si un request identificado por key puede pasar.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Limits define los máximos por ventana y el bucket de ráfaga.
type Limits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`

	// BurstCapacity: tokens máximos del bucket.
	BurstCapacity int `yaml:"burst_capacity"`

	// RefillPerSecond: tokens repuestos por segundo (default 1).
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// DefaultLimits es la política de referencia para intentos de login.
var DefaultLimits = Limits{
	PerMinute:       10,
	PerHour:         60,
	PerDay:          300,
	BurstCapacity:   5,
	RefillPerSecond: 1,
}

func (l *Limits) applyDefaults() {
	if l.PerMinute <= 0 {
		l.PerMinute = DefaultLimits.PerMinute
	}
	if l.PerHour <= 0 {
		l.PerHour = DefaultLimits.PerHour
	}
	if l.PerDay <= 0 {
		l.PerDay = DefaultLimits.PerDay
	}
	if l.BurstCapacity <= 0 {
		l.BurstCapacity = DefaultLimits.BurstCapacity
	}
	if l.RefillPerSecond <= 0 {
		l.RefillPerSecond = DefaultLimits.RefillPerSecond
	}
}
