/**
 * @description
 * Airtel Money adapter. Airtel uses an OAuth2 client-credentials handshake,
 * then merchant payments for collections and standard disbursements for
 * payouts. Airtel reports transaction status with short codes:
 * TS (success), TF (failed), TIP (in progress).
 */
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AirtelConfig carries the credentials and endpoints for the Airtel adapter.
type AirtelConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	Country       string
	Currency      string
	WebhookSecret string
}

// AirtelGateway implements Gateway for Airtel Money.
type AirtelGateway struct {
	cfg        AirtelConfig
	httpClient *http.Client
}

// NewAirtelGateway creates an Airtel Money adapter.
func NewAirtelGateway(cfg AirtelConfig) *AirtelGateway {
	if cfg.Country == "" {
		cfg.Country = "UG"
	}
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	return &AirtelGateway{cfg: cfg, httpClient: newHTTPClient()}
}

func (g *AirtelGateway) Name() string { return "airtel_money" }

func (g *AirtelGateway) authToken(ctx context.Context) (string, error) {
	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/auth/oauth2/token", nil, map[string]string{
		"client_id":     g.cfg.ClientID,
		"client_secret": g.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("airtel token request: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("airtel token request: %s", apiError(status, raw))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AccessToken == "" {
		return "", fmt.Errorf("airtel token request: malformed token response")
	}
	return payload.AccessToken, nil
}

func (g *AirtelGateway) headers(token string) map[string]string {
	return map[string]string{
		"X-Country":     g.cfg.Country,
		"X-Currency":    g.cfg.Currency,
		"Authorization": "Bearer " + token,
	}
}

// airtelTransactionEnvelope is the `data.transaction` shape Airtel responses
// and callbacks share.
type airtelTransactionEnvelope struct {
	Data struct {
		Transaction struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
}

// InitiateCollection requests a merchant payment from the employer's phone.
func (g *AirtelGateway) InitiateCollection(ctx context.Context, req CollectionRequest) CollectionResult {
	token, err := g.authToken(ctx)
	if err != nil {
		return CollectionResult{Success: false, Error: err.Error()}
	}

	payload := map[string]interface{}{
		"reference": req.Reference,
		"subscriber": map[string]string{
			"country":  g.cfg.Country,
			"currency": g.cfg.Currency,
			"msisdn":   strings.TrimPrefix(req.Phone, "+"),
		},
		"transaction": map[string]interface{}{
			"amount":   req.Amount,
			"country":  g.cfg.Country,
			"currency": g.cfg.Currency,
			"id":       req.Reference,
		},
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/merchant/v1/payments/", g.headers(token), payload)
	if err != nil {
		return CollectionResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return CollectionResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var envelope airtelTransactionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return CollectionResult{Success: false, RawResponse: raw, Error: "malformed payment response"}
	}
	providerID := envelope.Data.Transaction.ID
	if providerID == "" {
		providerID = req.Reference
	}

	return CollectionResult{Success: true, ProviderTransactionID: providerID, RawResponse: raw}
}

// InitiateDisbursement pushes a salary to the worker's Airtel wallet.
func (g *AirtelGateway) InitiateDisbursement(ctx context.Context, req DisbursementRequest) DisbursementResult {
	token, err := g.authToken(ctx)
	if err != nil {
		return DisbursementResult{Success: false, Error: err.Error()}
	}

	payload := map[string]interface{}{
		"payee": map[string]string{
			"msisdn": strings.TrimPrefix(req.AccountNumber, "+"),
		},
		"reference": req.Reference,
		"transaction": map[string]interface{}{
			"amount": req.Amount,
			"id":     req.Reference,
		},
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/standard/v1/disbursements/", g.headers(token), payload)
	if err != nil {
		return DisbursementResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return DisbursementResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var envelope airtelTransactionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return DisbursementResult{Success: false, RawResponse: raw, Error: "malformed disbursement response"}
	}
	providerID := envelope.Data.Transaction.ID
	if providerID == "" {
		providerID = req.Reference
	}

	return DisbursementResult{Success: true, ProviderTransactionID: providerID, RawResponse: raw}
}

// CheckStatus polls an Airtel payment by its transaction id.
func (g *AirtelGateway) CheckStatus(ctx context.Context, providerTransactionID string) StatusResult {
	token, err := g.authToken(ctx)
	if err != nil {
		return StatusResult{Success: false, Error: err.Error()}
	}

	status, raw, err := getJSON(ctx, g.httpClient, g.cfg.BaseURL+"/standard/v1/payments/"+providerTransactionID, g.headers(token))
	if err != nil {
		return StatusResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return StatusResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var envelope airtelTransactionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return StatusResult{Success: false, RawResponse: raw, Error: "malformed status response"}
	}

	providerStatus := envelope.Data.Transaction.Status
	return StatusResult{
		Success:        true,
		Status:         airtelStatus(providerStatus),
		ProviderStatus: providerStatus,
		RawResponse:    raw,
	}
}

// ValidateWebhook checks the HMAC-SHA256 signature Airtel sends in
// X-Auth-Signature against our webhook secret.
func (g *AirtelGateway) ValidateWebhook(body []byte, headers http.Header) bool {
	signature := headers.Get("X-Auth-Signature")
	if signature == "" || g.cfg.WebhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// ParseWebhook decodes an Airtel callback into the common shape.
func (g *AirtelGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		Transaction struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Payer    struct {
				MSISDN string `json:"msisdn"`
			} `json:"payer"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("airtel webhook: %w", err)
	}
	if payload.Transaction.ID == "" && payload.Transaction.Status == "" {
		return nil, fmt.Errorf("airtel webhook: missing transaction")
	}

	return &WebhookEvent{
		ProviderTransactionID: payload.Transaction.ID,
		Status:                airtelStatus(payload.Transaction.Status),
		ProviderStatus:        payload.Transaction.Status,
		Amount:                payload.Transaction.Amount,
		Currency:              payload.Transaction.Currency,
		Counterparty:          payload.Transaction.Payer.MSISDN,
		Raw:                   body,
	}, nil
}

func airtelStatus(providerStatus string) Status {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "TS", "SUCCESS":
		return StatusSuccessful
	case "TF", "FAILED":
		return StatusFailed
	default: // TIP and anything unrecognized stays pending
		return StatusPending
	}
}
