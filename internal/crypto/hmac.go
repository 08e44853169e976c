package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Insightra-Timestamp"
	HeaderWebhookSignature = "X-Insightra-Signature"
)

// WebhookSigner authenticates outgoing lifecycle webhooks.
// The signature is hex(HMAC-SHA256(secret, timestamp + "." + body)).
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner creates a signer for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the signature headers for body.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, w.now().Unix())
}

// HeadersAt is Headers with a caller-supplied unix timestamp.
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: w.sign(ts, body),
	}
}

// Apply sets the signature headers on req.
func (w *WebhookSigner) Apply(req *http.Request, body []byte) {
	for k, v := range w.Headers(body) {
		req.Header.Set(k, v)
	}
}

// Verify checks a received signature, rejecting timestamps older than maxAge.
func (w *WebhookSigner) Verify(body []byte, ts, sig string, maxAge time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: webhook timestamp: %w", err)
	}
	if maxAge > 0 && w.now().Sub(time.Unix(unix, 0)) > maxAge {
		return errors.New("crypto: webhook timestamp too old")
	}
	if !hmac.Equal([]byte(w.sign(ts, body)), []byte(sig)) {
		return errors.New("crypto: webhook signature mismatch")
	}
	return nil
}

func (w *WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookSigner) String() string {
	return "WebhookSigner{secret=****}"
}
