package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/chat-live-logger/internal/model/chat"
)

// Sender delivers a payload to the local logger endpoint.
type Sender interface {
	Send(ctx context.Context, payload chat.Payload) error
}

// HTTPSender posts payloads as JSON.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSender returns a sender for endpoint with a per-request timeout.
func NewHTTPSender(endpoint string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send posts payload and fails on transport errors or non-2xx responses.
func (s *HTTPSender) Send(ctx context.Context, payload chat.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d: %s", s.endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
