package subscription

import "time"

// Subscription mirrors the payment provider's subscription object. Rows are
// upserted so repeated webhook delivery never duplicates them.
type Subscription struct {
	ID                 string     `json:"id"`
	SubscriptionID     string     `json:"subscription_id"`
	CustomerID         string     `json:"customer_id"`
	UserEmail          string     `json:"user_email"`
	Status             string     `json:"status"`
	BillingPeriod      string     `json:"billing_period"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
