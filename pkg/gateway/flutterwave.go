/**
 * @description
 * Flutterwave adapter for employers without a supported mobile-money line.
 * Collections are redirect-style: Flutterwave returns a hosted payment link
 * the employer completes a card payment on, and the outcome arrives by
 * webhook. Disbursements use the transfers API. Webhooks are authenticated
 * by comparing the `verif-hash` header with the configured secret hash.
 */
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// FlutterwaveConfig carries the credentials and endpoints for the
// Flutterwave adapter.
type FlutterwaveConfig struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	RedirectURL string
	Currency    string
}

// FlutterwaveGateway implements Gateway for Flutterwave card payments.
type FlutterwaveGateway struct {
	cfg        FlutterwaveConfig
	httpClient *http.Client
}

// NewFlutterwaveGateway creates a Flutterwave adapter.
func NewFlutterwaveGateway(cfg FlutterwaveConfig) *FlutterwaveGateway {
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	return &FlutterwaveGateway{cfg: cfg, httpClient: newHTTPClient()}
}

func (g *FlutterwaveGateway) Name() string { return "flutterwave" }

func (g *FlutterwaveGateway) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + g.cfg.SecretKey,
	}
}

// InitiateCollection creates a hosted payment link for the employer.
func (g *FlutterwaveGateway) InitiateCollection(ctx context.Context, req CollectionRequest) CollectionResult {
	customer := map[string]string{
		"email": req.Email,
		"name":  req.PayerName,
	}
	if req.Phone != "" {
		customer["phone_number"] = req.Phone
	}

	payload := map[string]interface{}{
		"tx_ref":       req.Reference,
		"amount":       strconv.FormatInt(req.Amount, 10),
		"currency":     g.cfg.Currency,
		"redirect_url": g.cfg.RedirectURL,
		"customer":     customer,
		"customizations": map[string]string{
			"title":       "WorkConnect Uganda",
			"description": fmt.Sprintf("Payment for invoice #%s", req.Reference),
		},
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/payments", g.headers(), payload)
	if err != nil {
		return CollectionResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return CollectionResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var resp struct {
		Data struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CollectionResult{Success: false, RawResponse: raw, Error: "malformed payment response"}
	}

	// Flutterwave only assigns its own transaction id after the customer
	// pays; until then our tx_ref is the handle.
	return CollectionResult{
		Success:               true,
		ProviderTransactionID: req.Reference,
		PaymentLink:           resp.Data.Link,
		RawResponse:           raw,
	}
}

// InitiateDisbursement pushes a salary to a worker's bank account through
// the transfers API.
func (g *FlutterwaveGateway) InitiateDisbursement(ctx context.Context, req DisbursementRequest) DisbursementResult {
	payload := map[string]interface{}{
		"reference":      req.Reference,
		"amount":         req.Amount,
		"currency":       g.cfg.Currency,
		"account_number": req.AccountNumber,
		"beneficiary_name": func() string {
			if req.AccountName != "" {
				return req.AccountName
			}
			return "Beneficiary"
		}(),
		"narration": req.Narration,
	}

	status, raw, err := postJSON(ctx, g.httpClient, g.cfg.BaseURL+"/transfers", g.headers(), payload)
	if err != nil {
		return DisbursementResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return DisbursementResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var resp struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return DisbursementResult{Success: false, RawResponse: raw, Error: "malformed transfer response"}
	}

	providerID := req.Reference
	if resp.Data.ID != 0 {
		providerID = strconv.FormatInt(resp.Data.ID, 10)
	}
	return DisbursementResult{Success: true, ProviderTransactionID: providerID, RawResponse: raw}
}

// CheckStatus verifies a transaction through the verify endpoint.
func (g *FlutterwaveGateway) CheckStatus(ctx context.Context, providerTransactionID string) StatusResult {
	status, raw, err := getJSON(ctx, g.httpClient, g.cfg.BaseURL+"/transactions/"+providerTransactionID+"/verify", g.headers())
	if err != nil {
		return StatusResult{Success: false, Error: err.Error()}
	}
	if status != http.StatusOK {
		return StatusResult{Success: false, RawResponse: raw, Error: apiError(status, raw)}
	}

	var resp struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StatusResult{Success: false, RawResponse: raw, Error: "malformed verify response"}
	}

	return StatusResult{
		Success:        true,
		Status:         flutterwaveStatus(resp.Data.Status),
		ProviderStatus: resp.Data.Status,
		RawResponse:    raw,
	}
}

// ValidateWebhook compares the verif-hash header against the configured
// webhook hash. Flutterwave sends a static secret, not a payload signature.
func (g *FlutterwaveGateway) ValidateWebhook(body []byte, headers http.Header) bool {
	signature := headers.Get("verif-hash")
	if signature == "" || g.cfg.WebhookHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(g.cfg.WebhookHash)) == 1
}

// ParseWebhook decodes a Flutterwave callback into the common shape.
func (g *FlutterwaveGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload struct {
		ID       json.Number `json:"id"`
		TxRef    string      `json:"tx_ref"`
		Status   string      `json:"status"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("flutterwave webhook: %w", err)
	}
	if payload.TxRef == "" && payload.ID.String() == "" {
		return nil, fmt.Errorf("flutterwave webhook: missing transaction reference")
	}

	amount, _ := payload.Amount.Int64()
	return &WebhookEvent{
		ProviderTransactionID: payload.ID.String(),
		Reference:             payload.TxRef,
		Status:                flutterwaveStatus(payload.Status),
		ProviderStatus:        payload.Status,
		Amount:                amount,
		Currency:              payload.Currency,
		Counterparty:          payload.Customer.Email,
		Raw:                   body,
	}, nil
}

func flutterwaveStatus(providerStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "successful", "success":
		return StatusSuccessful
	case "failed", "error":
		return StatusFailed
	default:
		return StatusPending
	}
}
