package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client reads from a running gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL, e.g. "http://127.0.0.1:18791".
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Pending fetches the pending grant requests.
func (c *Client) Pending(ctx context.Context) (PendingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pending", nil)
	if err != nil {
		return PendingResponse{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PendingResponse{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return PendingResponse{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Message)
	}

	var out PendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PendingResponse{}, fmt.Errorf("decode pending response: %w", err)
	}
	return out, nil
}
