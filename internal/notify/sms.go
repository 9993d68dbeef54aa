package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSMSProvider entrega SMS por la API REST de un proveedor genérico
// (POST JSON con destino y cuerpo, auth por bearer token).
type HTTPSMSProvider struct {
	name     string
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewHTTPSMSProvider crea un proveedor. httpClient nil usa uno con timeout de 5s.
func NewHTTPSMSProvider(name, endpoint, apiKey string, httpClient *http.Client) *HTTPSMSProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSMSProvider{name: name, endpoint: endpoint, apiKey: apiKey, http: httpClient}
}

func (p *HTTPSMSProvider) Name() string { return p.name }

func (p *HTTPSMSProvider) Send(ctx context.Context, phone, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":   phone,
		"body": body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider %s: status %d", p.name, resp.StatusCode)
	}
	return nil
}

var _ SMSProvider = (*HTTPSMSProvider)(nil)
