/**
 * @description
 * MTN Mobile Money adapter. MTN uses a two-step flow: obtain a bearer token
 * from the collection/disbursement token endpoint (subscription key + basic
 * auth), then call requesttopay (collections) or transfer (disbursements)
 * with our reference as X-Reference-Id. Status values are
 * SUCCESSFUL/FAILED/PENDING.
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
	"strconv"
	"strings"
)

// MTNConfig carries the credentials and endpoints for the MTN adapter.
// Explicit configuration; the adapter reads no ambient state.
type MTNConfig struct {
	BaseURL         string
	APIKey          string
	SubscriptionKey string
	TargetEnv       string // "sandbox" or "production"
	CallbackURL     string
	WebhookSecret   string
	Currency        string
}

// MTNGateway implements Gateway for MTN Mobile Money.
type MTNGateway struct {
	cfg        MTNConfig
	httpClient *http.Client
}

// NewMTNGateway creates an MTN Mobile Money adapter.
func NewMTNGateway(cfg MTNConfig) *MTNGateway {
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	if cfg.TargetEnv == "" {
		cfg.TargetEnv = "sandbox"
	}
	return &MTNGateway{cfg: cfg, httpClient: newHTTPClient()}
}

func (g *MTNGateway) Name() string { return "mtn_mobile_money" }

// authToken performs the product-scoped token handshake. `product` is
// "collection" or "disbursement"; MTN scopes tokens per product.
func (g *MTNGateway) authToken(ctx context.Context, product string) (string, error) {
	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/"+product+"/token/", map[string]string{
		"Ocp-Apim-Subscription-Key": g.cfg.SubscriptionKey,
		"Authorization":             "Basic " + g.cfg.APIKey,
	}, struct{}{})
	if err != nil {
		return "", fmt.Errorf("mtn token request: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("mtn token request: %s", apiError(status, raw))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AccessToken == "" {
		return "", fmt.Errorf("mtn token request: malformed token response")
	}
	return payload.AccessToken, nil
}

type mtnParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnPaymentRequest struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        *mtnParty `json:"payer,omitempty"`
	Payee        *mtnParty `json:"payee,omitempty"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

// InitiateCollection sends a requesttopay to the employer's phone.
func (g *MTNGateway) InitiateCollection(ctx context.Context, req CollectionRequest) CollectionResult {
	token, err := g.authToken(ctx, "collection")
	if err != nil {
		return CollectionResult{Success: false, Error: err.Error()}
	}

	payload := mtnPaymentRequest{
		Amount:       strconv.FormatInt(req.Amount, 10),
		Currency:     g.cfg.Currency,
		ExternalID:   req.Reference,
		Payer:        &mtnParty{PartyIDType: "MSISDN", PartyID: strings.TrimPrefix(req.Phone, "+")},
		PayerMessage: fmt.Sprintf("WorkConnect Invoice #%s", req.Reference),
		PayeeNote:    fmt.Sprintf("Service fee payment - %s", req.Reference),
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/collection/v1_0/requesttopay", g.requestHeaders(token, req.Reference, true), payload)
	if err != nil {
		return CollectionResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return CollectionResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	// MTN identifies the request by the X-Reference-Id we supplied.
	return CollectionResult{Success: true, ProviderTransactionID: req.Reference, RawResponse: raw}
}

// InitiateDisbursement transfers a salary to the worker's phone.
func (g *MTNGateway) InitiateDisbursement(ctx context.Context, req DisbursementRequest) DisbursementResult {
	token, err := g.authToken(ctx, "disbursement")
	if err != nil {
		return DisbursementResult{Success: false, Error: err.Error()}
	}

	payload := mtnPaymentRequest{
		Amount:       strconv.FormatInt(req.Amount, 10),
		Currency:     g.cfg.Currency,
		ExternalID:   req.Reference,
		Payee:        &mtnParty{PartyIDType: "MSISDN", PartyID: strings.TrimPrefix(req.AccountNumber, "+")},
		PayerMessage: fmt.Sprintf("Salary payment #%s", req.Reference),
		PayeeNote:    "Monthly salary - WorkConnect",
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/disbursement/v1_0/transfer", g.requestHeaders(token, req.Reference, false), payload)
	if err != nil {
		return DisbursementResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return DisbursementResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	return DisbursementResult{Success: true, ProviderTransactionID: req.Reference, RawResponse: raw}
}

// CheckStatus polls a requesttopay by the reference used to initiate it.
func (g *MTNGateway) CheckStatus(ctx context.Context, providerTransactionID string) StatusResult {
	token, err := g.authToken(ctx, "collection")
	if err != nil {
		return StatusResult{Success: false, Error: err.Error()}
	}

	status, raw, err := getJSON(ctx, g.httpClient, g.cfg.BaseURL+"/collection/v1_0/requesttopay/"+providerTransactionID, map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Target-Environment":      g.cfg.TargetEnv,
		"Ocp-Apim-Subscription-Key": g.cfg.SubscriptionKey,
	})
	if err != nil {
		return StatusResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return StatusResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StatusResult{Success: false, RawResponse: raw, Error: "malformed status response"}
	}

	return StatusResult{
		Success:        true,
		Status:         mtnStatus(payload.Status),
		ProviderStatus: payload.Status,
		RawResponse:    raw,
	}
}

// ValidateWebhook checks the HMAC-SHA256 signature MTN sends in
// X-Callback-Signature against our webhook secret.
func (g *MTNGateway) ValidateWebhook(body []byte, headers http.Header) bool {
	signature := headers.Get("X-Callback-Signature")
	if signature == "" || g.cfg.WebhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// ParseWebhook decodes an MTN callback into the common shape.
func (g *MTNGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		FinancialTransactionID string `json:"financialTransactionId"`
		ExternalID             string `json:"externalId"`
		Status                 string `json:"status"`
		Amount                 string `json:"amount"`
		Currency               string `json:"currency"`
		Payer                  struct {
			PartyID string `json:"partyId"`
		} `json:"payer"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("mtn webhook: %w", err)
	}
	if payload.Status == "" {
		return nil, fmt.Errorf("mtn webhook: missing status")
	}

	amount, _ := strconv.ParseInt(payload.Amount, 10, 64)
	return &WebhookEvent{
		ProviderTransactionID: payload.FinancialTransactionID,
		Reference:             payload.ExternalID,
		Status:                mtnStatus(payload.Status),
		ProviderStatus:        payload.Status,
		Amount:                amount,
		Currency:              payload.Currency,
		Counterparty:          payload.Payer.PartyID,
		Raw:                   body,
	}, nil
}

func (g *MTNGateway) requestHeaders(token, reference string, withCallback bool) map[string]string {
	headers := map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Target-Environment":      g.cfg.TargetEnv,
		"Ocp-Apim-Subscription-Key": g.cfg.SubscriptionKey,
		"X-Reference-Id":            reference,
	}
	if withCallback && g.cfg.CallbackURL != "" {
		headers["X-Callback-Url"] = g.cfg.CallbackURL
	}
	return headers
}

func mtnStatus(providerStatus string) Status {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "SUCCESSFUL":
		return StatusSuccessful
	case "FAILED", "REJECTED", "TIMEOUT":
		return StatusFailed
	default:
		return StatusPending
	}
}
