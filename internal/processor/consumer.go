package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"licensure/backend/internal/middleware"
)

// TickConsumer runs a processing cycle whenever a provision nudge arrives on
// NSQ, so freshly enqueued jobs do not wait for the next periodic tick.
type TickConsumer struct {
	processor *Processor
	limit     int
}

func NewTickConsumer(p *Processor, limit int) *TickConsumer {
	return &TickConsumer{processor: p, limit: limit}
}

func (c *TickConsumer) HandleMessage(m *nsq.Message) error {
	var payload struct {
		PaymentIntentID string `json:"payment_intent_id"`
		CorrelationID   string `json:"correlation_id,omitempty"`
	}
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("invalid provision nudge, dropping", "error", err)
			return nil // Don't retry invalid messages
		}
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	summary, err := c.processor.RunProcessingCycle(ctx, c.limit)
	if err != nil {
		// The periodic tick retries the cycle anyway; requeueing the nudge
		// would only pile up redundant cycles.
		slog.ErrorContext(ctx, "nudged processing cycle failed", "error", err)
		return nil
	}

	slog.InfoContext(ctx, "nudged processing cycle done",
		"payment_intent_id", payload.PaymentIntentID,
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return nil
}
