package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"licensure/backend/features/queue"
	"licensure/backend/internal/adapter/stripe"
	"licensure/backend/internal/config"
)

// processSiteBatch provisions one subscription per site, sequentially within
// the job. Partial completion fails the job naming the broken site; the next
// retry walks the whole list again and skips sites that already got a
// license, so re-processing is idempotent per site.
func (p *Processor) processSiteBatch(ctx context.Context, job *queue.Job, payload queue.PerSiteBatchPayload) error {
	trialEnd, billingPeriod := p.trialTerms(ctx, job.PriceID)

	var lastSub *stripe.Subscription
	for i, site := range payload.Sites {
		if i > 0 && p.opts.SiteBatchDelay > 0 {
			// Spacing out provider calls keeps the batch under rate limits.
			select {
			case <-time.After(p.opts.SiteBatchDelay):
			case <-ctx.Done():
				return fmt.Errorf("site %s: %w", site, ctx.Err())
			}
		}

		provisioned, err := p.licenses.SiteProvisioned(ctx, site, job.CustomerID)
		if err != nil {
			return fmt.Errorf("site %s: existence check: %w", site, err)
		}
		if provisioned {
			slog.InfoContext(ctx, "site already provisioned, skipping",
				"queue_id", job.QueueID, "site", site)
			continue
		}

		platform, err := p.detector.Detect(ctx, site)
		if err != nil {
			slog.WarnContext(ctx, "platform detection failed", "site", site, "error", err)
			platform = "unknown"
		}

		key, err := p.keygen.GenerateUniqueKey(ctx)
		if err != nil {
			return permanent(fmt.Errorf("site %s: generating license key: %w", site, err))
		}

		sub, err := p.provider.CreateSubscription(ctx, &stripe.SubscriptionParams{
			CustomerID: job.CustomerID,
			PriceID:    job.PriceID,
			Quantity:   1,
			TrialEnd:   trialEnd.Unix(),
			Metadata: map[string]string{
				"license_key": key,
				"queue_id":    job.QueueID,
				"site_domain": site,
				"platform":    platform,
			},
		}, stripe.IdempotencyKey(site, job.PaymentIntentID))
		if err != nil {
			return fmt.Errorf("site %s: provider subscription: %w", site, err)
		}

		siteDomain := site
		if err := p.persistProvisioned(ctx, job, key, &siteDomain, sub, billingPeriod, trialEnd); err != nil {
			return fmt.Errorf("site %s: %w", site, err)
		}
		lastSub = sub

		slog.InfoContext(ctx, "site provisioned",
			"queue_id", job.QueueID,
			"site", site,
			"license_key", key,
			"subscription_id", sub.ID)
	}

	subID, itemID := "", ""
	if lastSub != nil {
		subID, itemID = lastSub.ID, lastSub.ItemID
	}
	if err := p.jobs.MarkCompleted(ctx, job.QueueID, subID, itemID); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	p.publishAudit(ctx, config.TopicProvisioned, map[string]string{
		"queue_id":        job.QueueID,
		"subscription_id": subID,
		"sites":           fmt.Sprintf("%d", len(payload.Sites)),
	})
	return nil
}
