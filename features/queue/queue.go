package queue

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type JobType string

const (
	// TypePerLicense provisions one subscription for a single license slot.
	TypePerLicense JobType = "per_license"

	// TypePerSiteBatch provisions one subscription per site domain in Sites.
	TypePerSiteBatch JobType = "per_site_batch"
)

// Job is one unit of deferred provisioning work: create one subscription
// (and license, or one per site) for a completed payment.
type Job struct {
	QueueID         string     `json:"queue_id"`
	Type            JobType    `json:"job_type"`
	Status          Status     `json:"status"`
	CustomerID      string     `json:"customer_id"`
	UserEmail       string     `json:"user_email"`
	PaymentIntentID string     `json:"payment_intent_id"`
	PriceID         string     `json:"price_id"`
	LicenseKey      string     `json:"license_key"`
	SubscriptionID  *string    `json:"subscription_id,omitempty"`
	ItemID          *string    `json:"item_id,omitempty"`
	Quantity        int        `json:"quantity"`
	Sites           []string   `json:"sites,omitempty"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	NextRetryAt     *int64     `json:"next_retry_at,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// Payload is the closed set of job payloads. The producer builds one of the
// two concrete variants; field probing on raw metadata stops at that boundary.
type Payload interface {
	jobType() JobType
}

type PerLicensePayload struct {
	LicenseKey string
	Quantity   int
}

func (PerLicensePayload) jobType() JobType { return TypePerLicense }

type PerSiteBatchPayload struct {
	Sites []string
}

func (PerSiteBatchPayload) jobType() JobType { return TypePerSiteBatch }

var ErrEmptyPayload = errors.New("job payload has no provisionable content")

// PayloadOf reconstructs the typed payload from a stored row.
func PayloadOf(j *Job) (Payload, error) {
	switch j.Type {
	case TypePerLicense:
		if j.LicenseKey == "" {
			return nil, fmt.Errorf("%w: per-license job %s has no license key", ErrEmptyPayload, j.QueueID)
		}
		return PerLicensePayload{LicenseKey: j.LicenseKey, Quantity: j.Quantity}, nil
	case TypePerSiteBatch:
		if len(j.Sites) == 0 {
			return nil, fmt.Errorf("%w: site-batch job %s has no sites", ErrEmptyPayload, j.QueueID)
		}
		return PerSiteBatchPayload{Sites: j.Sites}, nil
	default:
		return nil, fmt.Errorf("unknown job type %q for job %s", j.Type, j.QueueID)
	}
}
