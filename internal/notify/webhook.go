package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/insightra/internal/crypto"
)

// WebhookSender posts the alert, including the raw event, as JSON to an
// operator endpoint. Bodies are signed with HMAC-SHA256 when a secret is set.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty secret disables signing.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

// Send posts a.
func (w *WebhookSender) Send(ctx context.Context, a Alert) error {
	var sign func(*http.Request, []byte)
	if w.signer != nil {
		sign = w.signer.Apply
	}
	return postJSON(ctx, w.client, "webhook", w.url, a, sign)
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }

func postJSON(ctx context.Context, client *http.Client, name, url string, payload any, sign func(*http.Request, []byte)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sign != nil {
		sign(req, body)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}

func kindPrefix(kind string) string {
	prefix, _, _ := strings.Cut(kind, ".")
	return prefix
}
