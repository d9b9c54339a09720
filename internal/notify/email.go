// Package notify is the outbound messaging collaborator. Sends are
// best-effort by contract: a failed send is the caller's to log and swallow,
// never to retry or roll back over.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// HTTPEmailSender posts JSON to the platform's mail gateway.
type HTTPEmailSender struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPEmailSender(endpoint, key string) *HTTPEmailSender {
	return &HTTPEmailSender{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (s *HTTPEmailSender) Send(ctx context.Context, to, subject, body string) error {
	payload := map[string]string{"to": to, "subject": subject, "body": body}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Key != "" {
		req.Header.Set("Authorization", "Bearer "+s.Key)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail gateway returned %d", resp.StatusCode)
	}
	return nil
}

// NopSender discards mail, for local runs without a gateway.
type NopSender struct{}

func (NopSender) Send(context.Context, string, string, string) error { return nil }
