package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// HealthResponse is the envelope of the health endpoints.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// StoreHealth is the health of one target or of the ledger.
type StoreHealth struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StoresHealth is the payload of GET /health/stores.
type StoresHealth struct {
	Targets []StoreHealth `json:"targets"`
	Ledger  *StoreHealth  `json:"ledger,omitempty"`
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return getResource[HealthResponse](ctx, c, "/health")
}

// Ready calls the readiness probe. A server that is not ready yields an
// *APIError with IsUnavailable set.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	return getResource[HealthResponse](ctx, c, "/health/ready")
}

// Stores probes every target and the ledger. When a store is unhealthy the
// report is returned together with an *APIError.
func (c *Client) Stores(ctx context.Context) (*StoresHealth, error) {
	resp, err := getResource[HealthResponse](ctx, c, "/health/stores")
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		var unhealthy HealthResponse
		if json.Unmarshal([]byte(apiErr.Detail), &unhealthy) != nil || len(unhealthy.Data) == 0 {
			return nil, err
		}
		resp = &unhealthy
	}
	var stores StoresHealth
	if uerr := json.Unmarshal(resp.Data, &stores); uerr != nil {
		return nil, fmt.Errorf("failed to decode store health: %w", uerr)
	}
	return &stores, err
}
