package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"licensure/backend/features/license"
	"licensure/backend/features/queue"
	"licensure/backend/features/subscription"
	"licensure/backend/internal/adapter/stripe"
	"licensure/backend/internal/config"
)

type Options struct {
	BackoffBase     time.Duration
	StuckJobTimeout time.Duration
	TrialPeriodDays int
	SiteBatchDelay  time.Duration
}

// Processor drains due queue jobs and turns them into subscriptions and
// licenses. It is safe to run from any number of concurrent invocations:
// the conditional claim in the job store is the only lock.
type Processor struct {
	jobs     JobStore
	licenses LicenseStore
	subs     SubscriptionStore
	keygen   KeyGenerator
	provider PaymentProvider
	detector PlatformDetector
	pub      EventPublisher
	opts     Options
}

func New(jobs JobStore, licenses LicenseStore, subs SubscriptionStore, keygen KeyGenerator, provider PaymentProvider, detector PlatformDetector, pub EventPublisher, opts Options) *Processor {
	return &Processor{
		jobs:     jobs,
		licenses: licenses,
		subs:     subs,
		keygen:   keygen,
		provider: provider,
		detector: detector,
		pub:      pub,
		opts:     opts,
	}
}

// errPermanent wraps failures that must not be retried, such as key
// generation exhaustion or a malformed payload.
type errPermanent struct {
	err error
}

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

func permanent(err error) error { return errPermanent{err: err} }

// errSkip short-circuits processing without treating the job as failed.
type errSkip struct {
	reason string
}

func (e errSkip) Error() string { return "skipped: " + e.reason }

// RunProcessingCycle reclaims stuck jobs, then claims and processes up to
// limit due jobs. One job's failure never aborts the rest of the batch.
func (p *Processor) RunProcessingCycle(ctx context.Context, limit int) (queue.CycleSummary, error) {
	var summary queue.CycleSummary

	reclaimed, err := p.jobs.ReclaimStuck(ctx, p.opts.StuckJobTimeout)
	if err != nil {
		slog.WarnContext(ctx, "failed to reclaim stuck jobs", "error", err)
	} else if reclaimed > 0 {
		slog.InfoContext(ctx, "reclaimed stuck jobs", "count", reclaimed)
	}

	jobs, err := p.jobs.SelectDue(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("selecting due jobs: %w", err)
	}

	for i := range jobs {
		job := jobs[i]

		claimed, err := p.jobs.Claim(ctx, job.QueueID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to claim job", "queue_id", job.QueueID, "error", err)
			summary.Skipped++
			continue
		}
		if !claimed {
			// Another invocation won the claim, or the row moved state.
			summary.Skipped++
			continue
		}

		summary.Processed++
		if err := p.process(ctx, &job); err != nil {
			var skip errSkip
			if errors.As(err, &skip) {
				slog.InfoContext(ctx, "job skipped", "queue_id", job.QueueID, "reason", skip.reason)
				summary.Skipped++
				summary.Processed--
				continue
			}
			if p.retryOrFail(ctx, &job, err) {
				summary.Failed++
			}
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func (p *Processor) process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.PayloadOf(job)
	if err != nil {
		return permanent(err)
	}

	switch pl := payload.(type) {
	case queue.PerLicensePayload:
		return p.processLicense(ctx, job, pl)
	case queue.PerSiteBatchPayload:
		return p.processSiteBatch(ctx, job, pl)
	default:
		return permanent(fmt.Errorf("unhandled payload type %T", payload))
	}
}

func (p *Processor) processLicense(ctx context.Context, job *queue.Job, payload queue.PerLicensePayload) error {
	licenseKey := payload.LicenseKey

	// Swap temporary placeholder keys for real ones before anything durable
	// happens, and persist the swap so retries reuse the same key.
	if license.IsTemporary(licenseKey) {
		key, err := p.keygen.GenerateUniqueKey(ctx)
		if err != nil {
			return permanent(fmt.Errorf("generating license key: %w", err))
		}
		if err := p.jobs.UpdateLicenseKey(ctx, job.QueueID, key); err != nil {
			return fmt.Errorf("persisting replacement key: %w", err)
		}
		licenseKey = key
		job.LicenseKey = key
	}

	// Defense in depth: another job for this license may have completed
	// first, e.g. after a retry of a partial-write failure.
	existing, err := p.licenses.GetByKey(ctx, licenseKey)
	if err != nil {
		return fmt.Errorf("checking existing license: %w", err)
	}
	if existing != nil && existing.SubscriptionID != nil {
		itemID := ""
		if existing.ItemID != nil {
			itemID = *existing.ItemID
		}
		if err := p.jobs.MarkCompleted(ctx, job.QueueID, *existing.SubscriptionID, itemID); err != nil {
			return fmt.Errorf("marking job completed: %w", err)
		}
		return errSkip{reason: "race_detected"}
	}

	trialEnd, billingPeriod := p.trialTerms(ctx, job.PriceID)

	sub, err := p.provider.CreateSubscription(ctx, &stripe.SubscriptionParams{
		CustomerID: job.CustomerID,
		PriceID:    job.PriceID,
		Quantity:   payload.Quantity,
		TrialEnd:   trialEnd.Unix(),
		Metadata: map[string]string{
			"license_key": licenseKey,
			"queue_id":    job.QueueID,
		},
	}, stripe.IdempotencyKey(licenseKey, job.PaymentIntentID))
	if err != nil {
		return fmt.Errorf("provider subscription: %w", err)
	}

	if err := p.persistProvisioned(ctx, job, licenseKey, nil, sub, billingPeriod, trialEnd); err != nil {
		// The external subscription exists but the local write failed. The
		// job retries and the duplicate check above reconciles instead of
		// purchasing twice.
		return err
	}

	if err := p.jobs.MarkCompleted(ctx, job.QueueID, sub.ID, sub.ItemID); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	p.publishAudit(ctx, config.TopicProvisioned, map[string]string{
		"queue_id":        job.QueueID,
		"license_key":     licenseKey,
		"subscription_id": sub.ID,
	})

	slog.InfoContext(ctx, "license provisioned",
		"queue_id", job.QueueID,
		"license_key", licenseKey,
		"subscription_id", sub.ID)
	return nil
}

// persistProvisioned writes the subscription and license rows. Both must
// succeed before the job can complete; a partial write surfaces as a job
// failure and is retried.
func (p *Processor) persistProvisioned(ctx context.Context, job *queue.Job, licenseKey string, siteDomain *string, sub *stripe.Subscription, billingPeriod string, renewal time.Time) error {
	subRecord := &subscription.Subscription{
		SubscriptionID: sub.ID,
		CustomerID:     job.CustomerID,
		UserEmail:      job.UserEmail,
		Status:         sub.Status,
		BillingPeriod:  billingPeriod,
	}
	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0)
		subRecord.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0)
		subRecord.CurrentPeriodEnd = &end
	}
	if err := p.subs.Upsert(ctx, subRecord); err != nil {
		return fmt.Errorf("persisting subscription %s: %w", sub.ID, err)
	}

	itemID := sub.ItemID
	lic := &license.License{
		LicenseKey:     licenseKey,
		CustomerID:     job.CustomerID,
		SubscriptionID: &sub.ID,
		SiteDomain:     siteDomain,
		Status:         "active",
		BillingPeriod:  billingPeriod,
		RenewalDate:    &renewal,
	}
	if itemID != "" {
		lic.ItemID = &itemID
	}
	if err := p.licenses.Save(ctx, lic); err != nil {
		return fmt.Errorf("persisting license %s: %w", licenseKey, err)
	}
	return nil
}

// trialTerms computes when the first charge should land. Provider price
// metadata wins over the configured default; a price lookup failure falls
// back to config rather than blocking the job.
func (p *Processor) trialTerms(ctx context.Context, priceID string) (time.Time, string) {
	trialDays := p.opts.TrialPeriodDays
	billingPeriod := "monthly"

	price, err := p.provider.GetPrice(ctx, priceID)
	if err != nil {
		slog.WarnContext(ctx, "price lookup failed, using configured trial", "price_id", priceID, "error", err)
	} else {
		if days, convErr := strconv.Atoi(price.Metadata["trial_days"]); convErr == nil && days > 0 {
			trialDays = days
		}
		if price.Interval == "year" {
			billingPeriod = "yearly"
		}
	}
	return time.Now().Add(time.Duration(trialDays) * 24 * time.Hour), billingPeriod
}

// retryOrFail applies the retry policy. Returns true when the job went
// terminal.
func (p *Processor) retryOrFail(ctx context.Context, job *queue.Job, cause error) bool {
	attempts := job.Attempts + 1

	var perm errPermanent
	if errors.As(cause, &perm) || attempts >= job.MaxAttempts {
		slog.ErrorContext(ctx, "job failed permanently",
			"queue_id", job.QueueID,
			"attempts", attempts,
			"error", cause)
		if err := p.jobs.MarkFailed(ctx, job.QueueID, attempts, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "failed to mark job failed", "queue_id", job.QueueID, "error", err)
		}
		return true
	}

	nextRetryAt := time.Now().Add(backoffDelay(p.opts.BackoffBase, attempts)).Unix()
	slog.WarnContext(ctx, "job failed, scheduling retry",
		"queue_id", job.QueueID,
		"attempts", attempts,
		"next_retry_at", nextRetryAt,
		"error", cause)
	if err := p.jobs.ScheduleRetry(ctx, job.QueueID, attempts, nextRetryAt, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to schedule retry", "queue_id", job.QueueID, "error", err)
	}
	return false
}

// backoffDelay is base * 2^attempts: with the default 60s base the retry
// delays are 2, 4 and 8 minutes.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	return base * time.Duration(1<<uint(attempts))
}

func (p *Processor) publishAudit(ctx context.Context, topic string, fields map[string]string) {
	if p.pub == nil {
		return
	}
	body, _ := json.Marshal(fields)
	if err := p.pub.Publish(topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish audit event", "topic", topic, "error", err)
	}
}
