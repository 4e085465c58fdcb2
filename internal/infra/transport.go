// Package infra holds the adapters between the engine and the outside world.
package infra

import (
	"log/slog"
	"time"

	http_infra "offer-engine/internal/infra/http"
	"offer-engine/internal/infra/shell"
	"offer-engine/internal/notify"
)

// NewTransport picks the delivery channel: a webhook when a URL is set, else a
// command when one is set, else the log.
func NewTransport(webhookURL, escalationURL, command string, timeout time.Duration, logger *slog.Logger) notify.Transport {
	switch {
	case webhookURL != "":
		logger.Info("delivering notifications by webhook", "url", webhookURL)
		return http_infra.NewWebhookTransport(webhookURL, escalationURL, timeout, logger)
	case command != "":
		logger.Info("delivering notifications by command")
		return shell.NewCommandTransport(command, timeout, logger)
	default:
		logger.Warn("no webhook or command configured, notifications are only logged")
		return notify.NewLogTransport(logger)
	}
}
