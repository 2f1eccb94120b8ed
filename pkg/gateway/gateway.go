/**
 * @description
 * This package provides clients for the payment providers the platform
 * settles money through. A single Gateway interface covers the four
 * operations payroll needs (collect, disburse, poll status, handle
 * webhooks); one adapter exists per provider class: MTN Mobile Money,
 * Airtel Money, and Flutterwave for card/redirect payments.
 *
 * Adapters differ only in their authentication handshake, payload shape,
 * and status-code vocabulary. Each adapter translates its provider's
 * vocabulary into the shared Status values below. Provider failures are
 * structured results (`Success == false` plus an error message), never
 * panics: batch callers must be able to keep going after one failure.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 */
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status is the provider-independent outcome vocabulary. Every adapter maps
// its provider's own codes into one of these three values.
type Status string

const (
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"
)

// CollectionRequest asks a provider to pull money from an employer.
type CollectionRequest struct {
	Amount    int64
	Reference string // caller-generated idempotency key, shared with the provider
	Phone     string
	Email     string
	PayerName string
	Narration string
}

// CollectionResult is the outcome of a collection attempt. Mobile-money
// providers return a provider transaction id; the card provider returns a
// hosted payment link the employer completes the payment on.
type CollectionResult struct {
	Success               bool
	ProviderTransactionID string
	PaymentLink           string
	RawResponse           []byte
	Error                 string
}

// DisbursementRequest asks a provider to push money to a worker's account.
type DisbursementRequest struct {
	Amount        int64
	Reference     string
	AccountNumber string
	AccountName   string
	Narration     string
}

// DisbursementResult is the outcome of a disbursement attempt.
type DisbursementResult struct {
	Success               bool
	ProviderTransactionID string
	RawResponse           []byte
	Error                 string
}

// StatusResult is the outcome of polling a provider for a transaction.
type StatusResult struct {
	Success        bool
	Status         Status
	ProviderStatus string
	RawResponse    []byte
	Error          string
}

// WebhookEvent is the common shape every provider callback is parsed into.
type WebhookEvent struct {
	ProviderTransactionID string
	Reference             string // our external reference when the provider echoes it
	Status                Status
	ProviderStatus        string
	Amount                int64
	Currency              string
	Counterparty          string // payer phone or email as reported by the provider
	Raw                   []byte
}

// Gateway is the uniform contract every provider adapter implements.
type Gateway interface {
	// Name identifies the provider, e.g. "mtn_mobile_money".
	Name() string

	// InitiateCollection requests payment from an employer. The caller owns
	// idempotency: it must have recorded the reference in the transaction
	// ledger (unique index) before invoking this.
	InitiateCollection(ctx context.Context, req CollectionRequest) CollectionResult

	// InitiateDisbursement pushes a salary to a worker. Same idempotency
	// contract as InitiateCollection.
	InitiateDisbursement(ctx context.Context, req DisbursementRequest) DisbursementResult

	// CheckStatus polls the provider for a transaction's outcome.
	CheckStatus(ctx context.Context, providerTransactionID string) StatusResult

	// ValidateWebhook verifies a callback's authenticity. Unverified
	// payloads must never be processed.
	ValidateWebhook(body []byte, headers http.Header) bool

	// ParseWebhook decodes a verified callback into the common shape.
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

const httpTimeout = 30 * time.Second

// newHTTPClient returns the shared client configuration for all adapters.
// The timeout is the only defense against a hung provider blocking a worker.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// postJSON issues a JSON POST and returns the status code and raw body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// getJSON issues a GET and returns the status code and raw body.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func apiError(status int, raw []byte) string {
	return fmt.Sprintf("api error: %d - %s", status, truncate(string(raw), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
