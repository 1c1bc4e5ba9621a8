package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
)

// WebhookNotifier posts budget and shutdown alerts to a webhook. With
// no URL configured every send is a logged no-op.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewWebhookNotifier creates a webhook notifier. Priority: config file
// over WEBHOOK_URL environment variable.
func NewWebhookNotifier(cfg *config.NotifierConfig) *WebhookNotifier {
	var webhookURL string
	if cfg != nil && cfg.WebhookURL != "" {
		webhookURL = cfg.WebhookURL
	} else {
		webhookURL = os.Getenv("WEBHOOK_URL")
	}

	if webhookURL == "" {
		logger.Warn("webhook URL not configured, notifications will be disabled")
	}

	return &WebhookNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts a title and message as a JSON payload.
func (w *WebhookNotifier) Send(ctx context.Context, title, message string) error {
	if w.webhookURL == "" {
		logger.WarnCtx(ctx, "webhook URL not configured, skipping notification %q", title)
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": message,
		"sent_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "notification sent: %s", title)
	return nil
}

var _ interfaces.Notifier = (*WebhookNotifier)(nil)
