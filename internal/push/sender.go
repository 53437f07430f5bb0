// Package push delivers notification payloads to registered push endpoints.
// A 404 or 410 from the endpoint means the subscription was invalidated and
// must be pruned instead of retried; anything else that fails is transient.
package push

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/domain"
)

type Sender struct {
	http *http.Client
}

func NewSender() *Sender {
	return &Sender{
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ domain.PushSender = (*Sender)(nil)

func (s *Sender) Deliver(ctx context.Context, sub *domain.PushSubscription, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return domain.ErrPushGone
	default:
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
}
