package refund

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"licensure/backend/internal/middleware"
)

type Handler struct {
	sweeper      *Sweeper
	defaultLimit int
}

func NewHandler(sweeper *Sweeper, defaultLimit int) *Handler {
	return &Handler{sweeper: sweeper, defaultLimit: defaultLimit}
}

// Sweep is the cron trigger for the compensating-refund sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
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

	summary, err := h.sweeper.RunSweep(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "refund sweep failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": summary}); err != nil {
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
