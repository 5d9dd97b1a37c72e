package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"licensure/backend/features/queue"
	"licensure/backend/internal/middleware"
)

type QueueRepo interface {
	CountByStatus(ctx context.Context) (map[queue.Status]int, error)
}

type LicenseRepo interface {
	Count(ctx context.Context) (int, error)
}

type RefundRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	queueRepo   QueueRepo
	licenseRepo LicenseRepo
	refundRepo  RefundRepo
}

func NewHandler(q QueueRepo, l LicenseRepo, r RefundRepo) *Handler {
	return &Handler{queueRepo: q, licenseRepo: l, refundRepo: r}
}

type StatsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Licenses   int `json:"licenses"`
	Refunds    int `json:"refunds"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	byStatus, err := h.queueRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count queue jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count queue jobs", http.StatusInternalServerError)
		return
	}

	lCount, err := h.licenseRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count licenses", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count licenses", http.StatusInternalServerError)
		return
	}

	rCount, err := h.refundRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count refunds", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count refunds", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Pending:    byStatus[queue.StatusPending],
		Processing: byStatus[queue.StatusProcessing],
		Completed:  byStatus[queue.StatusCompleted],
		Failed:     byStatus[queue.StatusFailed],
		Licenses:   lCount,
		Refunds:    rCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
