package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu   sync.Mutex
	msgs []notify.Message
	ids  []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg notify.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.msgs = append(c.msgs, msg)
		c.ids = append(c.ids, r.Header.Get("X-Message-Id"))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestWebhookTransport_Deliver(t *testing.T) {
	var main, escalations capture
	mainSrv := httptest.NewServer(main.handler(http.StatusAccepted))
	defer mainSrv.Close()
	escSrv := httptest.NewServer(escalations.handler(http.StatusOK))
	defer escSrv.Close()

	tr := NewWebhookTransport(mainSrv.URL, escSrv.URL, time.Second, discardLogger())
	ctx := context.Background()

	offer := &notify.Message{ID: "m1", Kind: notify.KindOffer, Recipient: "a@example.org", WorkItem: &domain.WorkItem{ID: "w1"}}
	require.NoError(t, tr.Deliver(ctx, offer))
	esc := &notify.Message{ID: "m2", Kind: notify.KindEscalation, Recipient: notify.EscalationRecipient}
	require.NoError(t, tr.Deliver(ctx, esc))

	require.Len(t, main.msgs, 1)
	assert.Equal(t, "m1", main.ids[0])
	assert.Equal(t, "w1", main.msgs[0].WorkItem.ID)
	require.Len(t, escalations.msgs, 1)
	assert.Equal(t, notify.KindEscalation, escalations.msgs[0].Kind)
}

func TestWebhookTransport_EscalationsDefaultToMainURL(t *testing.T) {
	var main capture
	srv := httptest.NewServer(main.handler(http.StatusOK))
	defer srv.Close()

	tr := NewWebhookTransport(srv.URL, "", time.Second, discardLogger())
	require.NoError(t, tr.Deliver(context.Background(), &notify.Message{ID: "m", Kind: notify.KindEscalation}))
	assert.Len(t, main.msgs, 1)
}

func TestWebhookTransport_ErrorClassification(t *testing.T) {
	tests := map[string]struct {
		status        int
		wantPermanent bool
	}{
		"ServerError": {status: http.StatusServiceUnavailable, wantPermanent: false},
		"ClientError": {status: http.StatusNotFound, wantPermanent: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			tr := NewWebhookTransport(srv.URL, "", time.Second, discardLogger())
			err := tr.Deliver(context.Background(), &notify.Message{ID: "m", Kind: notify.KindOffer})
			require.Error(t, err)
			assert.Equal(t, tc.wantPermanent, notify.IsPermanent(err))
		})
	}
}

func TestWebhookTransport_TimeoutIsRetriable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := NewWebhookTransport(srv.URL, "", 50*time.Millisecond, discardLogger())
	err := tr.Deliver(context.Background(), &notify.Message{ID: "m", Kind: notify.KindOffer})
	require.Error(t, err)
	assert.False(t, notify.IsPermanent(err))
	assert.Contains(t, err.Error(), "timed out")
}
