package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"licensure/backend/features/queue"
	"licensure/backend/internal/adapter/stripe"
	"licensure/backend/internal/config"
)

const refundMarkerPrefix = " REFUNDED:"

type JobSource interface {
	SelectRefundCandidates(ctx context.Context, grace time.Duration, limit int) ([]queue.Job, error)
	AppendRefundMarker(ctx context.Context, queueID, marker string) error
}

type PaymentProvider interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Sweeper issues compensating refunds for jobs that exhausted their retries
// and aged past the grace window, so customers are not charged for licenses
// that never materialized.
type Sweeper struct {
	jobs     JobSource
	repo     Repository
	provider PaymentProvider
	pub      EventPublisher
	grace    time.Duration
}

func NewSweeper(jobs JobSource, repo Repository, provider PaymentProvider, pub EventPublisher, grace time.Duration) *Sweeper {
	return &Sweeper{jobs: jobs, repo: repo, provider: provider, pub: pub, grace: grace}
}

// RunSweep refunds up to limit eligible jobs. A refund failure is logged and
// left for the next sweep; it never blocks the rest of the batch.
func (s *Sweeper) RunSweep(ctx context.Context, limit int) (queue.CycleSummary, error) {
	var summary queue.CycleSummary

	jobs, err := s.jobs.SelectRefundCandidates(ctx, s.grace, limit)
	if err != nil {
		return summary, fmt.Errorf("selecting refund candidates: %w", err)
	}

	for i := range jobs {
		job := jobs[i]
		summary.Processed++

		refunded, err := s.refundJob(ctx, &job)
		if err != nil {
			slog.ErrorContext(ctx, "refund failed, leaving for next sweep",
				"queue_id", job.QueueID,
				"payment_intent_id", job.PaymentIntentID,
				"error", err)
			summary.Failed++
			continue
		}
		if !refunded {
			summary.Skipped++
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func (s *Sweeper) refundJob(ctx context.Context, job *queue.Job) (bool, error) {
	// The candidate query already excludes marked jobs; the refunds table is
	// the structured second guard for sweeps racing each other.
	exists, err := s.repo.ExistsForQueueID(ctx, job.QueueID)
	if err != nil {
		return false, fmt.Errorf("refund lookup: %w", err)
	}
	if exists {
		if err := s.jobs.AppendRefundMarker(ctx, job.QueueID, refundMarkerPrefix+"recorded"); err != nil {
			slog.WarnContext(ctx, "failed to mark already-refunded job", "queue_id", job.QueueID, "error", err)
		}
		return false, nil
	}

	intent, err := s.provider.GetPaymentIntent(ctx, job.PaymentIntentID)
	if err != nil {
		return false, fmt.Errorf("fetching payment intent: %w", err)
	}

	amount := s.refundAmount(ctx, job, intent)
	if amount <= 0 {
		return false, fmt.Errorf("refund amount resolved to %d for intent %s", amount, intent.ID)
	}

	providerRefund, err := s.provider.CreateRefund(ctx, &stripe.RefundParams{
		ChargeID: intent.LatestCharge,
		Amount:   amount,
		Metadata: map[string]string{
			"queue_id":    job.QueueID,
			"license_key": job.LicenseKey,
			"reason":      "provisioning_failed",
		},
	})
	if err != nil {
		return false, fmt.Errorf("issuing refund: %w", err)
	}

	record := &Refund{
		RefundID:        providerRefund.ID,
		PaymentIntentID: job.PaymentIntentID,
		ChargeID:        intent.LatestCharge,
		Amount:          amount,
		Currency:        intent.Currency,
		Reason:          "provisioning_failed",
		QueueID:         job.QueueID,
		LicenseKey:      job.LicenseKey,
		Attempts:        job.Attempts,
	}
	inserted, err := s.repo.Save(ctx, record)
	if err != nil {
		return false, fmt.Errorf("persisting refund record: %w", err)
	}
	if !inserted {
		slog.WarnContext(ctx, "refund record already present, concurrent sweep detected", "queue_id", job.QueueID)
	}

	if err := s.jobs.AppendRefundMarker(ctx, job.QueueID, refundMarkerPrefix+providerRefund.ID); err != nil {
		// The refunds row still guards against a double refund; the marker
		// only saves the next sweep a provider round trip.
		slog.WarnContext(ctx, "failed to append refund marker", "queue_id", job.QueueID, "error", err)
	}

	s.publishAudit(ctx, job, providerRefund.ID, amount)

	slog.InfoContext(ctx, "compensating refund issued",
		"queue_id", job.QueueID,
		"refund_id", providerRefund.ID,
		"amount", amount)
	return true, nil
}

// refundAmount prefers the price unit amount; when the price lookup fails it
// falls back to the intent amount divided by the original quantity.
func (s *Sweeper) refundAmount(ctx context.Context, job *queue.Job, intent *stripe.PaymentIntent) int64 {
	if job.PriceID != "" {
		price, err := s.provider.GetPrice(ctx, job.PriceID)
		if err == nil && price.UnitAmount > 0 {
			return price.UnitAmount
		}
		slog.WarnContext(ctx, "price lookup failed, falling back to intent amount",
			"price_id", job.PriceID, "error", err)
	}

	quantity := int64(job.Quantity)
	if quantity < 1 {
		quantity = 1
	}
	return intent.Amount / quantity
}

func (s *Sweeper) publishAudit(ctx context.Context, job *queue.Job, refundID string, amount int64) {
	if s.pub == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{
		"queue_id":  job.QueueID,
		"refund_id": refundID,
		"amount":    fmt.Sprintf("%d", amount),
	})
	if err := s.pub.Publish(config.TopicRefunded, body); err != nil {
		slog.WarnContext(ctx, "failed to publish refund audit event", "error", err)
	}
}
