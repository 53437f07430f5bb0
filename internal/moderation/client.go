// Package moderation calls the external content-moderation service. The check
// is best-effort: when the service is unreachable the caller proceeds, since
// moderation unavailability must never lose messages.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/domain"
)

type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

var _ domain.Moderator = (*Client)(nil)

type checkRequest struct {
	Text string `json:"text"`
}

type checkResponse struct {
	IsToxic bool `json:"isToxic"`
}

// Check reports whether the text was flagged. A non-nil error means the
// service did not answer; callers treat that as a pass.
func (c *Client) Check(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(checkRequest{Text: text})
	if err != nil {
		return false, fmt.Errorf("marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("moderation service returned %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode moderation response: %w", err)
	}
	return out.IsToxic, nil
}
