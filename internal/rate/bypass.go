package rate

import (
	"net"
	"path"
	"sort"
	"strings"
)

// BypassRule exime requests del rate limiting. Dentro de una regla, basta
// que UNO de los campos poblados matchee (los predicados se evalúan como
// chequeos independientes); entre reglas también es OR.
type BypassRule struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Priority int    `yaml:"priority"`

	// Predicados; los vacíos se ignoran.
	IPs4               []string          `yaml:"ips"`
	CIDRs              []string          `yaml:"cidrs"`
	UserAgentPatterns  []string          `yaml:"user_agent_patterns"` // glob, ej: "healthcheck-*"
	CredentialPrefixes []string          `yaml:"credential_prefixes"`
	Paths              []string          `yaml:"paths"`
	RequiredHeaders    map[string]string `yaml:"required_headers"`
}

// BypassRequest son los atributos del request contra los que se matchea.
type BypassRequest struct {
	IP         string
	UserAgent  string
	Credential string
	Path       string
	Headers    map[string]string
}

// BypassEvaluator evalúa las reglas en orden de prioridad descendente.
type BypassEvaluator struct {
	rules []BypassRule
	cidrs map[string][]*net.IPNet // por regla, parseados una vez
}

// NewBypassEvaluator ordena las reglas y pre-parsea los CIDR. Los CIDR
// inválidos se descartan silenciosamente (la regla sigue valiendo por sus
// otros predicados).
func NewBypassEvaluator(rules []BypassRule) *BypassEvaluator {
	sorted := make([]BypassRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	cidrs := make(map[string][]*net.IPNet)
	for _, r := range sorted {
		for _, c := range r.CIDRs {
			if _, ipnet, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
				cidrs[r.Name] = append(cidrs[r.Name], ipnet)
			}
		}
	}
	return &BypassEvaluator{rules: sorted, cidrs: cidrs}
}

// Match retorna la primera regla habilitada que matchea, o nil.
// Las reglas deshabilitadas nunca matchean.
func (e *BypassEvaluator) Match(req BypassRequest) (*BypassRule, bool) {
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Enabled {
			continue
		}
		if e.ruleMatches(r, req) {
			return r, true
		}
	}
	return nil, false
}

// ruleMatches: OR entre los campos poblados de la regla.
func (e *BypassEvaluator) ruleMatches(r *BypassRule, req BypassRequest) bool {
	for _, ip := range r.IPs4 {
		if strings.TrimSpace(ip) == req.IP {
			return true
		}
	}

	if nets := e.cidrs[r.Name]; len(nets) > 0 {
		if parsed := net.ParseIP(req.IP); parsed != nil {
			for _, n := range nets {
				if n.Contains(parsed) {
					return true
				}
			}
		}
	}

	for _, pat := range r.UserAgentPatterns {
		if ok, err := path.Match(pat, req.UserAgent); err == nil && ok {
			return true
		}
		// fallback substring para patrones sin metacaracteres
		if !strings.ContainsAny(pat, "*?[") && pat != "" && strings.Contains(req.UserAgent, pat) {
			return true
		}
	}

	for _, pfx := range r.CredentialPrefixes {
		if pfx != "" && strings.HasPrefix(req.Credential, pfx) {
			return true
		}
	}

	for _, p := range r.Paths {
		if p != "" && p == req.Path {
			return true
		}
	}

	if len(r.RequiredHeaders) > 0 && req.Headers != nil {
		// este predicado sí exige todos sus pares presentes
		all := true
		for k, v := range r.RequiredHeaders {
			if got, ok := headerLookup(req.Headers, k); !ok || got != v {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}

	return false
}

func headerLookup(headers map[string]string, key string) (string, bool) {
	if v, ok := headers[key]; ok {
		return v, true
	}
	lk := strings.ToLower(key)
	for k, v := range headers {
		if strings.ToLower(k) == lk {
			return v, true
		}
	}
	return "", false
}
