/**
 * @description
 * This package provides a client for communicating with the contract-service.
 * It encapsulates the API calls payroll needs: listing the contracts active
 * in a payroll period and fetching a single contract for verification.
 */
package contractclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the contract service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new contract service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Contract is the slice of a work contract that payroll needs: who pays,
// who gets paid, how much per month, and which service category the fee
// policy is looked up under.
type Contract struct {
	ID            uuid.UUID `json:"id"`
	EmployerID    uuid.UUID `json:"employer_id"`
	WorkerID      uuid.UUID `json:"worker_id"`
	CategoryID    uuid.UUID `json:"category_id"`
	MonthlySalary int64     `json:"monthly_salary"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
}

// ListActiveContracts returns the contracts active during the given payroll
// period. The contract service decides activity (start/end dates, status);
// payroll treats the list as authoritative for invoice generation.
func (c *Client) ListActiveContracts(ctx context.Context, month, year int) ([]Contract, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("contract service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/contracts/active?month=%d&year=%d", c.baseURL, month, year)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to contract service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("contract service returned error status %d", resp.StatusCode)
	}

	var contracts []Contract
	if err := json.NewDecoder(resp.Body).Decode(&contracts); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return contracts, nil
}

// GetContract fetches a single contract by id.
func (c *Client) GetContract(ctx context.Context, contractID uuid.UUID) (*Contract, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("contract service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/contracts/%s", c.baseURL, contractID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to contract service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("contract service returned error status %d", resp.StatusCode)
	}

	var contract Contract
	if err := json.NewDecoder(resp.Body).Decode(&contract); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &contract, nil
}

func (c *Client) setAuth(req *http.Request) {
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}
}
