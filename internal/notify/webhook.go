package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kohaku-project/kohaku/internal/model"
)

// WebhookTransport delivers payloads by POSTing them as JSON to a client
// endpoint, typically the bot process that renders them into channels.
type WebhookTransport struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhookTransport(url string, log *slog.Logger) *WebhookTransport {
	return &WebhookTransport{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Deliver posts the payload. Any non-2xx answer is a failed delivery.
func (t *WebhookTransport) Deliver(ctx context.Context, payload *model.NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	t.log.Debug("payload delivered", "code", payload.Code, "targets", len(payload.Data))
	return nil
}

// LogTransport writes payloads to the log instead of delivering them. Used
// when no webhook endpoint is configured, so the rest of the pipeline still
// behaves normally.
type LogTransport struct {
	log *slog.Logger
}

func NewLogTransport(log *slog.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Deliver(_ context.Context, payload *model.NotificationPayload) error {
	t.log.Info("notification payload (no webhook configured)",
		"code", payload.Code, "targets", len(payload.Data))
	return nil
}
