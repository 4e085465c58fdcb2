package infra

import (
	"io"
	"log/slog"
	"testing"
	"time"

	http_infra "offer-engine/internal/infra/http"
	"offer-engine/internal/infra/shell"
	"offer-engine/internal/notify"

	"github.com/stretchr/testify/assert"
)

func TestNewTransport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.IsType(t, &http_infra.WebhookTransport{}, NewTransport("http://hooks.local/x", "", "cat", time.Second, logger))
	assert.IsType(t, &shell.CommandTransport{}, NewTransport("", "", "cat", time.Second, logger))
	assert.IsType(t, &notify.LogTransport{}, NewTransport("", "", "", time.Second, logger))
}
