package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"licensure/backend/internal/config"
)

type UseCase string

const (
	// UseCaseDirectLink marks recurring-subscription checkouts, which are
	// provisioned synchronously by the checkout flow and never queued.
	UseCaseDirectLink UseCase = "direct_link"
	UseCaseQuantity   UseCase = "quantity"
	UseCaseSiteBatch  UseCase = "site_batch"
)

// PaymentEvent is the narrow slice of a completed-payment webhook the
// producer needs. Signature verification and event demuxing happen upstream.
type PaymentEvent struct {
	EventType       string            `json:"event_type"`
	SessionID       string            `json:"session_id"`
	PaymentIntentID string            `json:"payment_intent_id"`
	CustomerID      string            `json:"customer_id"`
	UserEmail       string            `json:"user_email"`
	Mode            string            `json:"mode"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	LineItems       []LineItem        `json:"line_items"`
}

type LineItem struct {
	PriceID  string `json:"price_id"`
	Quantity int    `json:"quantity"`
}

type EnqueueResult struct {
	UseCase  UseCase  `json:"use_case"`
	QueueIDs []string `json:"queue_ids"`
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Reason   string   `json:"reason,omitempty"`
}

var ErrInvalidEvent = errors.New("payment event missing required fields")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Producer classifies completed-payment events and writes queue rows. It
// never calls the payment provider; subscription creation belongs to the
// processor.
type Producer struct {
	repo        Repository
	pub         EventPublisher
	maxAttempts int
}

func NewProducer(repo Repository, pub EventPublisher, maxAttempts int) *Producer {
	return &Producer{repo: repo, pub: pub, maxAttempts: maxAttempts}
}

func classify(event *PaymentEvent) UseCase {
	if event.Mode == "subscription" {
		return UseCaseDirectLink
	}
	switch event.Metadata["purchase_type"] {
	case "sites":
		return UseCaseSiteBatch
	default:
		// One-time payments without a marker are single-unit purchases.
		return UseCaseQuantity
	}
}

func (p *Producer) Enqueue(ctx context.Context, event *PaymentEvent) (*EnqueueResult, error) {
	if event.PaymentIntentID == "" || event.CustomerID == "" {
		return nil, fmt.Errorf("%w: payment_intent_id=%q customer_id=%q", ErrInvalidEvent, event.PaymentIntentID, event.CustomerID)
	}

	useCase := classify(event)
	slog.InfoContext(ctx, "classified payment event",
		"use_case", useCase,
		"payment_intent_id", event.PaymentIntentID,
		"customer_id", event.CustomerID)

	var result *EnqueueResult
	var err error
	switch useCase {
	case UseCaseDirectLink:
		return &EnqueueResult{UseCase: UseCaseDirectLink, Reason: "recurring checkout handled synchronously"}, nil
	case UseCaseSiteBatch:
		result, err = p.enqueueSiteBatch(ctx, event)
	default:
		result, err = p.enqueueQuantity(ctx, event)
	}
	if err != nil {
		return nil, err
	}

	if result.Enqueued > 0 {
		p.nudgeProcessor(ctx, event.PaymentIntentID)
	}
	return result, nil
}

// enqueueQuantity fans out one job per license unit, all sharing the payment
// intent but each carrying its own (possibly temporary) license key.
func (p *Producer) enqueueQuantity(ctx context.Context, event *PaymentEvent) (*EnqueueResult, error) {
	result := &EnqueueResult{UseCase: UseCaseQuantity}

	priceID, quantity := firstLineItem(event)
	keys := splitList(event.Metadata["license_keys"])

	for i := 0; i < quantity; i++ {
		licenseKey := fmt.Sprintf("L%d", i+1)
		if i < len(keys) {
			licenseKey = keys[i]
		}

		existing, err := p.repo.FindActive(ctx, event.PaymentIntentID, licenseKey)
		if err != nil {
			return nil, fmt.Errorf("duplicate check for %s: %w", licenseKey, err)
		}
		if existing != nil {
			slog.InfoContext(ctx, "duplicate job, skipping enqueue",
				"queue_id", existing.QueueID,
				"payment_intent_id", event.PaymentIntentID,
				"license_key", licenseKey)
			result.QueueIDs = append(result.QueueIDs, existing.QueueID)
			result.Skipped++
			continue
		}

		job := &Job{
			QueueID:         uuid.New().String(),
			Type:            TypePerLicense,
			Status:          StatusPending,
			CustomerID:      event.CustomerID,
			UserEmail:       event.UserEmail,
			PaymentIntentID: event.PaymentIntentID,
			PriceID:         priceID,
			LicenseKey:      licenseKey,
			Quantity:        1,
			MaxAttempts:     p.maxAttempts,
		}
		if err := p.repo.Save(ctx, job); err != nil {
			return nil, fmt.Errorf("saving job for %s: %w", licenseKey, err)
		}
		result.QueueIDs = append(result.QueueIDs, job.QueueID)
		result.Enqueued++
	}
	return result, nil
}

// enqueueSiteBatch defers the whole site list to the processor as one job.
func (p *Producer) enqueueSiteBatch(ctx context.Context, event *PaymentEvent) (*EnqueueResult, error) {
	result := &EnqueueResult{UseCase: UseCaseSiteBatch}

	sites := splitList(event.Metadata["site_domains"])
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: site purchase with no site_domains", ErrInvalidEvent)
	}

	existing, err := p.repo.FindActive(ctx, event.PaymentIntentID, "")
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing != nil {
		slog.InfoContext(ctx, "duplicate site-batch job, skipping enqueue",
			"queue_id", existing.QueueID,
			"payment_intent_id", event.PaymentIntentID)
		result.QueueIDs = append(result.QueueIDs, existing.QueueID)
		result.Skipped++
		return result, nil
	}

	priceID, _ := firstLineItem(event)
	job := &Job{
		QueueID:         uuid.New().String(),
		Type:            TypePerSiteBatch,
		Status:          StatusPending,
		CustomerID:      event.CustomerID,
		UserEmail:       event.UserEmail,
		PaymentIntentID: event.PaymentIntentID,
		PriceID:         priceID,
		Quantity:        len(sites),
		Sites:           sites,
		MaxAttempts:     p.maxAttempts,
	}
	if err := p.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("saving site-batch job: %w", err)
	}
	result.QueueIDs = append(result.QueueIDs, job.QueueID)
	result.Enqueued++
	return result, nil
}

// nudgeProcessor is best effort: the periodic tick picks the job up anyway.
func (p *Producer) nudgeProcessor(ctx context.Context, paymentIntentID string) {
	if p.pub == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"payment_intent_id": paymentIntentID})
	if err := p.pub.Publish(config.TopicProvisionTask, body); err != nil {
		slog.WarnContext(ctx, "failed to publish provision nudge", "error", err)
	}
}

func firstLineItem(event *PaymentEvent) (priceID string, quantity int) {
	quantity = 1
	if len(event.LineItems) > 0 {
		priceID = event.LineItems[0].PriceID
		if event.LineItems[0].Quantity > 0 {
			quantity = event.LineItems[0].Quantity
		}
	}
	if priceID == "" {
		priceID = event.Metadata["price_id"]
	}
	return priceID, quantity
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
