package refund

import "time"

// Refund records a compensating refund issued for a permanently failed
// provisioning job.
type Refund struct {
	ID              string    `json:"id"`
	RefundID        string    `json:"refund_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	ChargeID        string    `json:"charge_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason"`
	QueueID         string    `json:"queue_id"`
	LicenseKey      string    `json:"license_key"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
}
