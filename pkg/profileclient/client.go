/**
 * @description
 * This package provides a client for communicating with the profile-service.
 * Payroll uses it for two lookups: an employer's billing contact (phone and
 * email, which also decide the collection provider) and a worker's default
 * payout method.
 */
package profileclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
)

// Client is a client for the profile service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new profile service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BillingContact is how an employer can be charged. Phone drives mobile
// money collection; email drives card collection.
type BillingContact struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Phone  string    `json:"phone,omitempty"`
	Email  string    `json:"email,omitempty"`
}

// GetBillingContact fetches an employer's billing contact details.
func (c *Client) GetBillingContact(ctx context.Context, userID uuid.UUID) (*BillingContact, error) {
	var contact BillingContact
	if err := c.getJSON(ctx, fmt.Sprintf("/internal/profiles/%s/billing", userID), &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetDefaultPayoutMethod fetches a worker's default payout destination.
func (c *Client) GetDefaultPayoutMethod(ctx context.Context, workerID uuid.UUID) (*domain.PayoutMethod, error) {
	var method domain.PayoutMethod
	if err := c.getJSON(ctx, fmt.Sprintf("/internal/workers/%s/payout-method", workerID), &method); err != nil {
		return nil, err
	}
	return &method, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("profile service base url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ErrNotFound is returned when the profile service has no record for the
// requested user.
var ErrNotFound = fmt.Errorf("profile not found")
