package processor

import (
	"context"
	"time"

	"licensure/backend/features/license"
	"licensure/backend/features/queue"
	"licensure/backend/features/subscription"
	"licensure/backend/internal/adapter/stripe"
)

type JobStore interface {
	SelectDue(ctx context.Context, limit int) ([]queue.Job, error)
	Claim(ctx context.Context, queueID string) (bool, error)
	MarkCompleted(ctx context.Context, queueID, subscriptionID, itemID string) error
	ScheduleRetry(ctx context.Context, queueID string, attempts int, nextRetryAt int64, errMsg string) error
	MarkFailed(ctx context.Context, queueID string, attempts int, errMsg string) error
	UpdateLicenseKey(ctx context.Context, queueID, licenseKey string) error
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

type LicenseStore interface {
	Save(ctx context.Context, lic *license.License) error
	GetByKey(ctx context.Context, key string) (*license.License, error)
	SiteProvisioned(ctx context.Context, siteDomain, customerID string) (bool, error)
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *subscription.Subscription) error
}

type KeyGenerator interface {
	GenerateUniqueKey(ctx context.Context) (string, error)
}

type PaymentProvider interface {
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
}

type PlatformDetector interface {
	Detect(ctx context.Context, domain string) (string, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}
