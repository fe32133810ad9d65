package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"harvester/internal/logger"
)

// Client looks up company phone numbers against an external directory
// service. Lookups are best-effort: callers treat failures as "no phone".
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger.New("EnrichClient"),
	}
}

type lookupRequest struct {
	Company string `json:"company"`
}

type lookupResponse struct {
	Phone string `json:"phone"`
}

// Lookup returns the registered phone number for a company name, or ""
// when the directory has no match.
func (c *Client) Lookup(ctx context.Context, company string) (string, error) {
	payload, err := json.Marshal(lookupRequest{Company: company})
	if err != nil {
		return "", fmt.Errorf("marshal lookup payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("phone lookup for %s: %w", company, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.LogWarnf("Phone lookup for %s returned status %d: %s", company, resp.StatusCode, string(body))
		return "", fmt.Errorf("phone lookup returned status %d", resp.StatusCode)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	return out.Phone, nil
}
