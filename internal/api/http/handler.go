// internal/api/http/handler.go
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"offer-engine/internal/domain"
	"offer-engine/internal/metrics"
	"offer-engine/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Messages shown to people when a request cannot be honoured.
const (
	MsgOfferUnavailable = "this offer is no longer available"
	MsgNoOneAvailable   = "no one was available for this case"
)

// Handler serves the engine's HTTP API.
type Handler struct {
	service  *usecase.AssignmentService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewHandler creates a handler over service.
func NewHandler(service *usecase.AssignmentService, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		logger:   logger.With("component", "http-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("offer-engine-api"),
	}
}

type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// instrument opens a span per request and counts it by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r.WithContext(ctx))

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		span.SetName("HTTP " + r.Method + " " + path)
		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// Router returns the API routes, plus /metrics and /healthz.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Route("/work-items", func(r chi.Router) {
		r.Post("/", h.handleCreateWorkItem)
		r.Get("/{id}", h.handleGetWorkItem)
		r.Post("/{id}/accept", h.handleAccept)
		r.Post("/{id}/decline", h.handleDecline)
	})
	r.Get("/candidates/{id}/offer", h.handleGetActiveOffer)
	r.Post("/sweeps", h.handleSweep)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, span trace.Span, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: details})
		return false
	}
	return true
}

// fail maps service errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, span trace.Span, op string, err error) {
	span.RecordError(err)
	switch {
	case errors.Is(err, domain.ErrNoActiveOffer):
		h.logger.Info(op+": offer no longer available", "error", err)
		writeError(w, http.StatusConflict, MsgOfferUnavailable)
	case errors.Is(err, domain.ErrWorkItemNotFound), errors.Is(err, domain.ErrCandidateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidWorkItem):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		span.SetStatus(codes.Error, op+" failed")
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.CreateWorkItem")
	defer span.End()

	var req CreateWorkItemRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	item, err := h.service.CreateWorkItem(ctx, req.ToNewWorkItem())
	if errors.Is(err, domain.ErrNoEligibleCandidates) && item != nil {
		span.SetAttributes(attribute.String("work_item.id", item.ID))
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: MsgNoOneAvailable, WorkItem: item})
		return
	}
	if err != nil {
		h.fail(w, span, "create work item", err)
		return
	}
	span.SetAttributes(attribute.String("work_item.id", item.ID))
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetWorkItem")
	defer span.End()
	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("work_item.id", id))

	view, err := h.service.GetWorkItem(ctx, id)
	if err != nil {
		h.fail(w, span, "get work item", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Accept")
	defer span.End()
	id := chi.URLParam(r, "id")

	var req AcceptRequest
	if !h.decode(w, r, span, &req) {
		return
	}
	span.SetAttributes(attribute.String("work_item.id", id), attribute.String("candidate.id", req.CandidateID))

	a, err := h.service.Accept(ctx, id, req.CandidateID)
	if err != nil {
		h.fail(w, span, "accept offer", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Decline")
	defer span.End()
	id := chi.URLParam(r, "id")

	var req DeclineRequest
	if !h.decode(w, r, span, &req) {
		return
	}
	span.SetAttributes(attribute.String("work_item.id", id), attribute.String("candidate.id", req.CandidateID))

	a, err := h.service.Decline(ctx, id, req.CandidateID, req.Reason)
	if err != nil {
		h.fail(w, span, "decline offer", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleGetActiveOffer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetActiveOffer")
	defer span.End()
	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("candidate.id", id))

	view, err := h.service.GetActiveOfferForCandidate(ctx, id)
	if err != nil {
		h.fail(w, span, "get active offer", err)
		return
	}
	if view == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(view))
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Sweep")
	defer span.End()

	n, err := h.service.SweepExpiredOffers(ctx)
	if err != nil {
		// Partial sweeps still report what they closed.
		h.logger.Error("sweep finished with errors", "timed_out", n, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		writeJSON(w, http.StatusInternalServerError, SweepResponse{TimedOut: n})
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{TimedOut: n})
}
