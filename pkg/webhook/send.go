package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender posts signed notifications over HTTP.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with standard transport settings.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Delivery describes one outbound notification.
type Delivery struct {
	Kind   string // callback-type discriminator
	JobID  string
	Secret string // HMAC key; empty = unsigned
	Body   any    // marshalled to JSON
}

// Send performs a single delivery attempt. A non-2xx response is
// returned as *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, d Delivery) error {
	body, err := json.Marshal(d.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCallbackType, d.Kind)
	req.Header.Set(HeaderJobID, d.JobID)
	if d.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, d.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &HTTPError{StatusCode: resp.StatusCode}
}
