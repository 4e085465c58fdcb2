// internal/infra/http/webhook_transport.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"offer-engine/internal/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 15 * time.Second

// WebhookTransport posts notification messages as JSON. Escalations go to a
// separate URL when one is configured.
type WebhookTransport struct {
	client        *http.Client
	url           string
	escalationURL string
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewWebhookTransport creates a webhook transport. An empty escalationURL
// sends escalations to url as well.
func NewWebhookTransport(url, escalationURL string, timeout time.Duration, logger *slog.Logger) *WebhookTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if escalationURL == "" {
		escalationURL = url
	}
	return &WebhookTransport{
		client:        &http.Client{Timeout: timeout},
		url:           url,
		escalationURL: escalationURL,
		logger:        logger.With("component", "webhook-transport"),
		tracer:        otel.Tracer("offer-engine-webhook"),
	}
}

// Deliver performs a single POST. Timeouts and 5xx answers are returned as
// plain errors so the outbox retries them; anything else is permanent.
func (t *WebhookTransport) Deliver(ctx context.Context, msg *notify.Message) error {
	target := t.url
	if msg.Kind == notify.KindEscalation {
		target = t.escalationURL
	}

	ctx, span := t.tracer.Start(ctx, "webhook.Deliver", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.kind", string(msg.Kind)),
	))
	defer span.End()

	err := t.post(ctx, target, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook delivery failed")
	}
	return err
}

func (t *WebhookTransport) post(ctx context.Context, target string, msg *notify.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return notify.Permanent(fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return notify.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-Id", msg.ID)

	resp, err := t.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("webhook request timed out: %w", err)
		}
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read max 1KB for the log line.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned 5xx server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return notify.Permanent(fmt.Errorf("webhook returned 4xx client error: %s: %s", resp.Status, bytes.TrimSpace(snippet)))
	}

	t.logger.DebugContext(ctx, "webhook delivered", "message_id", msg.ID, "status", resp.StatusCode)
	return nil
}
