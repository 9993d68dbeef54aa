// Package clock abstrae la fuente de tiempo y de aleatoriedad segura.
//
// Todos los componentes del core reciben un Clock inyectado en lugar de llamar
// time.Now() / crypto/rand directamente, para que los tests puedan avanzar el
// tiempo de forma determinística.
package clock

import (
	"crypto/rand"
	"io"
	"sync"
	"time"
)

// Clock provee tiempo actual y bytes aleatorios.
type Clock interface {
	Now() time.Time
	// Rand retorna el reader de aleatoriedad criptográfica.
	Rand() io.Reader
}

// System es el Clock real (time.Now + crypto/rand).
type System struct{}

func NewSystem() *System { return &System{} }

func (System) Now() time.Time  { return time.Now().UTC() }
func (System) Rand() io.Reader { return rand.Reader }

// Fake es un Clock controlable para tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	rnd io.Reader
}

// NewFake crea un Fake anclado en t. Si rnd es nil usa crypto/rand.
func NewFake(t time.Time, rnd io.Reader) *Fake {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Fake{now: t.UTC(), rnd: rnd}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Rand() io.Reader { return f.rnd }

// Advance mueve el reloj hacia adelante.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set fija el reloj en t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
