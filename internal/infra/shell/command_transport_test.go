package shell

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"offer-engine/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandTransport_PipesMessage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	tr := NewCommandTransport(`{ echo "$MESSAGE_ID $MESSAGE_KIND $MESSAGE_RECIPIENT"; cat; } > `+out, 0, discardLogger())

	msg := &notify.Message{ID: "m1", Kind: notify.KindDecision, Recipient: "ward-7"}
	require.NoError(t, tr.Deliver(context.Background(), msg))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "m1 decision ward-7\n")
	assert.Contains(t, string(data), `"recipient":"ward-7"`)
}

func TestCommandTransport_NonZeroExitIsRetriable(t *testing.T) {
	tr := NewCommandTransport("echo mailer down >&2; exit 3", 0, discardLogger())

	err := tr.Deliver(context.Background(), &notify.Message{ID: "m1", Kind: notify.KindOffer})
	require.Error(t, err)
	assert.False(t, notify.IsPermanent(err))
	assert.Contains(t, err.Error(), "mailer down")
}

func TestCommandTransport_KilledAfterTimeout(t *testing.T) {
	tr := NewCommandTransport("sleep 5", 100*time.Millisecond, discardLogger())

	start := time.Now()
	err := tr.Deliver(context.Background(), &notify.Message{ID: "m1", Kind: notify.KindOffer})
	require.Error(t, err)
	assert.False(t, notify.IsPermanent(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}
