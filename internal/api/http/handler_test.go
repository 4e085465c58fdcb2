package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/infra/memory"
	"offer-engine/internal/notify"
	"offer-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var everyDay = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

type apiEnv struct {
	server *httptest.Server
	queue  *notify.ChannelQueue
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := memory.NewDirectory([]*domain.Candidate{
		{ID: "a", Name: "Dr A", ExperienceLevel: 3, ActiveDays: everyDay, Active: true},
		{ID: "b", Name: "Dr B", ExperienceLevel: 1, ActiveDays: everyDay, Active: true},
	}, nil)
	queue := notify.NewChannelQueue(64)
	outbox := notify.NewOutbox(queue, nil, notify.Options{}, logger)

	svc := usecase.NewAssignmentService(usecase.Dependencies{
		Repository: memory.NewAssignmentRepository(),
		Directory:  dir,
		Workload:   dir,
		Locker:     memory.NewLocker(),
		Notifier:   outbox,
		Escalation: outbox,
	}, usecase.Settings{OfferTTL: time.Hour}, logger)

	srv := httptest.NewServer(NewHandler(svc, logger).Router())
	t.Cleanup(srv.Close)
	return &apiEnv{server: srv, queue: queue}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPI_OfferLifecycle(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/work-items", CreateWorkItemRequest{
		Description: "MRI knee",
		Urgency:     "URGENT",
		Originator:  "ward-7",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decodeBody[domain.WorkItem](t, resp)
	assert.Equal(t, domain.WorkItemOffering, item.Status)
	assert.Equal(t, 2, item.QueueLength)

	resp = env.do(t, http.MethodGet, "/candidates/a/offer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	offer := decodeBody[OfferResponse](t, resp)
	assert.Equal(t, item.ID, offer.WorkItemID)
	assert.Equal(t, usecase.PhaseInitial, offer.Phase)
	assert.Equal(t, domain.UrgencyUrgent, offer.Urgency)
	assert.InDelta(t, 3600, offer.RemainingSeconds, 5)

	resp = env.do(t, http.MethodGet, "/candidates/b/offer", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/work-items/"+item.ID+"/decline", DeclineRequest{CandidateID: "a", Reason: "in clinic"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	declined := decodeBody[domain.Assignment](t, resp)
	assert.Equal(t, domain.AssignmentDeclined, declined.Status)

	resp = env.do(t, http.MethodPost, "/work-items/"+item.ID+"/accept", AcceptRequest{CandidateID: "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/work-items/"+item.ID+"/accept", AcceptRequest{CandidateID: "b"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, MsgOfferUnavailable, decodeBody[ErrorResponse](t, resp).Error)

	resp = env.do(t, http.MethodGet, "/work-items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[usecase.WorkItemView](t, resp)
	assert.Equal(t, domain.WorkItemAssigned, view.Status)
	assert.Equal(t, "b", view.AssignedCandidateID)
	require.Len(t, view.Queue, 2)
	assert.Equal(t, "in clinic", view.Queue[0].DeclineReason)

	// offer to a, offer to b, decision to ward-7
	assert.Equal(t, 3, env.queue.Len())
}

func TestAPI_NoEligibleCandidates(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/work-items", CreateWorkItemRequest{Description: "neuro", MinExperienceLevel: 5})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, MsgNoOneAvailable, body.Error)
	require.NotNil(t, body.WorkItem)
	assert.Equal(t, domain.WorkItemAllDeclined, body.WorkItem.Status)
	assert.Equal(t, 1, env.queue.Len())
}

func TestAPI_BadRequests(t *testing.T) {
	env := newAPIEnv(t)

	tests := map[string]struct {
		method string
		path   string
		body   any
		want   int
	}{
		"MissingDescription": {http.MethodPost, "/work-items", CreateWorkItemRequest{}, http.StatusBadRequest},
		"UnknownUrgency":     {http.MethodPost, "/work-items", CreateWorkItemRequest{Description: "x", Urgency: "SOON"}, http.StatusBadRequest},
		"MissingCandidate":   {http.MethodPost, "/work-items/w/accept", AcceptRequest{}, http.StatusBadRequest},
		"UnknownWorkItem":    {http.MethodGet, "/work-items/missing", nil, http.StatusNotFound},
		"AcceptUnknownItem":  {http.MethodPost, "/work-items/missing/accept", AcceptRequest{CandidateID: "a"}, http.StatusConflict},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAPI_SweepAndHealth(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decodeBody[SweepResponse](t, resp).TimedOut)

	resp = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
