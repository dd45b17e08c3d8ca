package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature-256"

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
// Requests are signed when a secret is configured.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a notifier that POSTs signed JSON to url.
func NewWebhookNotifier(url, secret string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	Alert     Notification `json:"alert"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(webhookPayload{
		Event:     "flight_deal",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Alert:     note,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "farewatch/1.0")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Info().Str("title", note.Title).Msg("webhook alert delivered")
	return nil
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Notifier = (*WebhookNotifier)(nil)
