package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"licensure/backend/internal/middleware"
)

// CycleSummary is the plain status report of one processing cycle.
type CycleSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type CycleRunner interface {
	RunProcessingCycle(ctx context.Context, limit int) (CycleSummary, error)
}

type Handler struct {
	producer     *Producer
	repo         Repository
	runner       CycleRunner
	defaultLimit int
}

func NewHandler(producer *Producer, repo Repository, runner CycleRunner, defaultLimit int) *Handler {
	return &Handler{producer: producer, repo: repo, runner: runner, defaultLimit: defaultLimit}
}

// Webhook receives completed-payment events from the upstream webhook
// endpoint (already signature-verified) and enqueues provisioning jobs.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var event PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.ErrorContext(ctx, "invalid webhook payload", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "BAD_REQUEST", "invalid JSON payload", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "payment webhook received",
		"event_type", event.EventType,
		"payment_intent_id", event.PaymentIntentID,
		"correlationId", correlationID)

	result, err := h.producer.Enqueue(ctx, &event)
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			h.writeError(ctx, w, "BAD_REQUEST", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to enqueue payment event", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Process is the cron trigger for a processing cycle.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(ctx, w, "BAD_REQUEST", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	summary, err := h.runner.RunProcessingCycle(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "processing cycle failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": summary}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// List is the admin view over recent queue jobs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	jobs, err := h.repo.List(ctx, 100)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list queue jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if jobs == nil {
		jobs = []Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
