package risk

import (
	"fmt"

	"github.com/medvault/authcore/internal/domain/types"
)

// Weights son los pesos fijos de cada factor. La suma define el presupuesto
// contra el que se normaliza el score.
type Weights struct {
	NewDevice        float64 `yaml:"new_device"`
	NewLocation      float64 `yaml:"new_location"`
	ImpossibleTravel float64 `yaml:"impossible_travel"`
	SuspiciousTime   float64 `yaml:"suspicious_time"`
	FailedAttempts   float64 `yaml:"failed_attempts"`
	VPNProxy         float64 `yaml:"vpn_proxy"`
	TorExit          float64 `yaml:"tor_exit"`
	Behavioral       float64 `yaml:"behavioral"`
	CredentialBreach float64 `yaml:"credential_breach"`
	BotSignature     float64 `yaml:"bot_signature"`
}

// DefaultWeights es la política de referencia.
var DefaultWeights = Weights{
	NewDevice:        0.30,
	NewLocation:      0.20,
	ImpossibleTravel: 0.90,
	SuspiciousTime:   0.15,
	FailedAttempts:   0.40,
	VPNProxy:         0.35,
	TorExit:          0.80,
	Behavioral:       0.50,
	CredentialBreach: 0.70,
	BotSignature:     0.85,
}

func (w Weights) total() float64 {
	return w.NewDevice + w.NewLocation + w.ImpossibleTravel + w.SuspiciousTime +
		w.FailedAttempts + w.VPNProxy + w.TorExit + w.Behavioral +
		w.CredentialBreach + w.BotSignature
}

// Thresholds particiona [0,1] en niveles. Deben ser estrictamente crecientes.
// Un score igual al límite pertenece al nivel superior:
// low < Medium <= medium < High <= high < Critical <= critical.
type Thresholds struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// DefaultThresholds: low < 0.3 <= medium < 0.6 <= high < 0.8 <= critical.
var DefaultThresholds = Thresholds{Medium: 0.3, High: 0.6, Critical: 0.8}

// LevelFor mapea un score a su nivel de forma determinística.
func (t Thresholds) LevelFor(score float64) types.RiskLevel {
	switch {
	case score >= t.Critical:
		return types.RiskCritical
	case score >= t.High:
		return types.RiskHigh
	case score >= t.Medium:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// Config es la configuración completa del Engine.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	// Ventana nocturna sospechosa [start, end) en horas UTC. Puede cruzar
	// medianoche.
	NocturnalStartHour int `yaml:"nocturnal_start_hour"`
	NocturnalEndHour   int `yaml:"nocturnal_end_hour"`

	// FailedAttemptsThreshold: fallos desde la misma IP que disparan el factor.
	FailedAttemptsThreshold int `yaml:"failed_attempts_threshold"`

	// MaxPlausibleSpeedKmh: por encima de esto el viaje se considera imposible.
	MaxPlausibleSpeedKmh float64 `yaml:"max_plausible_speed_kmh"`

	// MinTravelDistanceKm: debajo de esta distancia no se evalúa velocidad
	// (la resolución geo-IP es ruidosa a escala urbana).
	MinTravelDistanceKm float64 `yaml:"min_travel_distance_km"`

	// VPNIndicatorHeaders: headers (lowercase) que delatan VPN/proxy.
	VPNIndicatorHeaders []string `yaml:"vpn_indicator_headers"`

	// SaturationBudget es el denominador de normalización del score: la suma
	// de pesos disparados se divide por este presupuesto y se clampea a [0,1].
	// Default: la suma de todos los pesos.
	SaturationBudget float64 `yaml:"saturation_budget"`
}

func (c *Config) applyDefaults() {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	if c.NocturnalStartHour == 0 && c.NocturnalEndHour == 0 {
		c.NocturnalStartHour, c.NocturnalEndHour = 2, 5
	}
	if c.FailedAttemptsThreshold <= 0 {
		c.FailedAttemptsThreshold = 3
	}
	if c.MaxPlausibleSpeedKmh <= 0 {
		c.MaxPlausibleSpeedKmh = 900 // crucero de avión comercial
	}
	if c.MinTravelDistanceKm <= 0 {
		c.MinTravelDistanceKm = 50
	}
	if len(c.VPNIndicatorHeaders) == 0 {
		c.VPNIndicatorHeaders = []string{"via", "x-vpn", "x-proxy-id", "x-anonymized", "forwarded"}
	}
	if c.SaturationBudget <= 0 {
		c.SaturationBudget = c.Weights.total()
	}
}

func (c *Config) validate() error {
	t := c.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return fmt.Errorf("risk thresholds deben ser crecientes en (0,1]: medium=%v high=%v critical=%v",
			t.Medium, t.High, t.Critical)
	}
	if c.Weights.total() <= 0 {
		return fmt.Errorf("risk weights: presupuesto total debe ser > 0")
	}
	if c.NocturnalStartHour < 0 || c.NocturnalStartHour > 23 || c.NocturnalEndHour < 0 || c.NocturnalEndHour > 23 {
		return fmt.Errorf("ventana nocturna fuera de rango [0,23]")
	}
	return nil
}
