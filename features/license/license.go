package license

import "time"

// License binds a generated key to a customer subscription, optionally scoped
// to a single site domain.
type License struct {
	ID             string     `json:"id"`
	LicenseKey     string     `json:"license_key"`
	CustomerID     string     `json:"customer_id"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	ItemID         *string    `json:"item_id,omitempty"`
	SiteDomain     *string    `json:"site_domain,omitempty"`
	Status         string     `json:"status"`
	BillingPeriod  string     `json:"billing_period"`
	RenewalDate    *time.Time `json:"renewal_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
