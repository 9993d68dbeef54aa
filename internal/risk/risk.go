// Package risk implementa el motor de scoring adaptativo.
//
// El Engine es puro: no hace I/O ni consulta stores. El caller resuelve las
// señales (dispositivo, historial, breach, geo) y el Engine las convierte en
// un Assessment con score, nivel y acciones recomendadas.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/medvault/authcore/internal/domain/types"
)

// Context es el contexto efímero de un intento de autenticación.
// Nunca se persiste más allá del log de auditoría.
type Context struct {
	// UserID queda vacío antes de identificar al usuario.
	UserID     string
	Identifier string
	SourceIP   string
	UserAgent  string
	Headers    map[string]string

	// Fingerprint del dispositivo, si el cliente lo aportó.
	Fingerprint string

	At time.Time
}

// GeoPoint es una posición aproximada derivada de la IP.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Signals son las señales ya resueltas que alimentan el scoring.
type Signals struct {
	// DeviceKnown indica que el fingerprint matcheó un dispositivo registrado.
	DeviceKnown bool

	// DeviceRisk es la sub-contribución del DeviceTrustTracker en [0,1]:
	// 0 = dispositivo confiable y fresco, 1 = desconocido.
	DeviceRisk float64

	// LastKnownIP es la IP de la última sesión del usuario ("" si no hay).
	LastKnownIP string

	// Geolocalización del intento actual y del último login (nil si no hay).
	CurrentLocation  *GeoPoint
	PreviousLocation *GeoPoint
	PreviousSeenAt   time.Time

	// FailedFromSource es el conteo de fallos desde la misma IP en la última hora.
	FailedFromSource int

	// TorExit indica que la IP figura como nodo de salida Tor.
	TorExit bool

	// Breached indica credencial/dominio conocido como comprometido.
	Breached bool

	// TypicalLoginHours es el patrón horario histórico del usuario (UTC).
	TypicalLoginHours []int
}

// Factor es una señal disparada con su peso efectivo.
type Factor struct {
	Kind   types.FactorKind
	Weight float64
	Detail string
}

// Assessment es el resultado del scoring. Efímero; solo score y nivel se
// loguean para auditoría.
type Assessment struct {
	Score   float64
	Level   types.RiskLevel
	Factors []Factor
	Details map[string]any
	Actions []types.Action
}

// Engine calcula el riesgo de un intento. Inmutable tras construcción.
type Engine struct {
	cfg Config
}

// New crea un Engine validando la configuración.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Assess evalúa los factores de riesgo y retorna el assessment.
func (e *Engine) Assess(ctx Context, sig Signals) Assessment {
	w := e.cfg.Weights
	var factors []Factor
	details := map[string]any{}

	// Dispositivo nuevo o con contribución residual del tracker.
	if !sig.DeviceKnown {
		factors = append(factors, Factor{
			Kind:   types.FactorNewDevice,
			Weight: w.NewDevice,
			Detail: "fingerprint sin dispositivo registrado",
		})
	} else if sig.DeviceRisk > 0 {
		// Dispositivo conocido: la sub-contribución del tracker escala el peso.
		contrib := clamp01(sig.DeviceRisk)
		factors = append(factors, Factor{
			Kind:   types.FactorNewDevice,
			Weight: w.NewDevice * contrib,
			Detail: fmt.Sprintf("contribución del dispositivo %.2f", contrib),
		})
		details["device_risk"] = contrib
	}

	// Cambio de ubicación de red desde la última sesión.
	newLocation := sig.LastKnownIP != "" && sig.LastKnownIP != ctx.SourceIP
	if newLocation {
		factors = append(factors, Factor{
			Kind:   types.FactorNewLocation,
			Weight: w.NewLocation,
			Detail: "IP distinta a la última sesión",
		})
	}

	// Viaje imposible: velocidad geográficamente implausible.
	if speed, ok := e.travelSpeed(ctx.At, sig); ok && speed > e.cfg.MaxPlausibleSpeedKmh {
		factors = append(factors, Factor{
			Kind:   types.FactorImpossibleTravel,
			Weight: w.ImpossibleTravel,
			Detail: fmt.Sprintf("velocidad implícita %.0f km/h", speed),
		})
		details["travel_speed_kmh"] = speed
	}

	// Horario nocturno sospechoso.
	hour := ctx.At.UTC().Hour()
	if inNocturnalWindow(hour, e.cfg.NocturnalStartHour, e.cfg.NocturnalEndHour) {
		factors = append(factors, Factor{
			Kind:   types.FactorSuspiciousTime,
			Weight: w.SuspiciousTime,
			Detail: fmt.Sprintf("login a las %02d:00 UTC", hour),
		})
	}

	// Fallos recientes desde la misma IP.
	if sig.FailedFromSource >= e.cfg.FailedAttemptsThreshold {
		factors = append(factors, Factor{
			Kind:   types.FactorFailedAttempts,
			Weight: w.FailedAttempts,
			Detail: fmt.Sprintf("%d fallos desde la IP en la última hora", sig.FailedFromSource),
		})
		details["failed_from_source"] = sig.FailedFromSource
	}

	// Indicadores de VPN/proxy en headers.
	if hdr, ok := e.vpnIndicator(ctx.Headers); ok {
		factors = append(factors, Factor{
			Kind:   types.FactorVPNProxy,
			Weight: w.VPNProxy,
			Detail: "header indicador: " + hdr,
		})
	}

	// Nodo de salida Tor.
	if sig.TorExit {
		factors = append(factors, Factor{
			Kind:   types.FactorTorExit,
			Weight: w.TorExit,
			Detail: "IP en lista de exit nodes Tor",
		})
	}

	// Anomalía de comportamiento: hora fuera del patrón histórico.
	if len(sig.TypicalLoginHours) > 0 && !containsHour(sig.TypicalLoginHours, hour) {
		factors = append(factors, Factor{
			Kind:   types.FactorBehavioral,
			Weight: w.Behavioral,
			Detail: "hora fuera del patrón histórico del usuario",
		})
	}

	// Credencial comprometida.
	if sig.Breached {
		factors = append(factors, Factor{
			Kind:   types.FactorCredentialBreach,
			Weight: w.CredentialBreach,
			Detail: "credencial en dataset de breaches",
		})
	}

	// Firma de bot en el user-agent.
	if sigName, ok := botSignature(ctx.UserAgent); ok {
		factors = append(factors, Factor{
			Kind:   types.FactorBotSignature,
			Weight: w.BotSignature,
			Detail: "user-agent: " + sigName,
		})
	}

	score := e.score(factors)
	level := e.cfg.Thresholds.LevelFor(score)

	return Assessment{
		Score:   score,
		Level:   level,
		Factors: factors,
		Details: details,
		Actions: ActionsFor(level),
	}
}

// score normaliza la suma de pesos disparados contra el presupuesto de
// saturación y clampea a [0,1].
func (e *Engine) score(factors []Factor) float64 {
	if e.cfg.SaturationBudget <= 0 {
		return 0
	}
	var sum float64
	for _, f := range factors {
		sum += f.Weight
	}
	return clamp01(sum / e.cfg.SaturationBudget)
}

// travelSpeed calcula la velocidad implícita entre el login anterior y este.
func (e *Engine) travelSpeed(at time.Time, sig Signals) (float64, bool) {
	if sig.CurrentLocation == nil || sig.PreviousLocation == nil || sig.PreviousSeenAt.IsZero() {
		return 0, false
	}
	elapsed := at.Sub(sig.PreviousSeenAt).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 3600 // mínimo un segundo
	}
	dist := haversineKm(*sig.PreviousLocation, *sig.CurrentLocation)
	if dist < e.cfg.MinTravelDistanceKm {
		return 0, false
	}
	return dist / elapsed, true
}

func (e *Engine) vpnIndicator(headers map[string]string) (string, bool) {
	if len(headers) == 0 {
		return "", false
	}
	for k := range headers {
		lk := strings.ToLower(k)
		for _, ind := range e.cfg.VPNIndicatorHeaders {
			if lk == ind {
				return k, true
			}
		}
	}
	return "", false
}

var botSignatures = []string{
	"bot", "crawler", "spider", "scrapy", "curl/", "wget/",
	"python-requests", "go-http-client", "headlesschrome", "phantomjs",
}

func botSignature(ua string) (string, bool) {
	lua := strings.ToLower(ua)
	if strings.TrimSpace(lua) == "" {
		return "missing user-agent", true
	}
	for _, s := range botSignatures {
		if strings.Contains(lua, s) {
			return s, true
		}
	}
	return "", false
}

// inNocturnalWindow maneja ventanas que cruzan medianoche (ej: 22-05).
func inNocturnalWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func containsHour(hours []int, h int) bool {
	for _, x := range hours {
		if x == h {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const earthRadiusKm = 6371.0

// haversineKm calcula la distancia ortodrómica entre dos puntos.
func haversineKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
