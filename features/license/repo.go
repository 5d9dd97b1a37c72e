package license

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, lic *License) error
	GetByKey(ctx context.Context, key string) (*License, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	SiteProvisioned(ctx context.Context, siteDomain, customerID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, lic *License) error {
	query := `INSERT INTO licenses (license_key, customer_id, subscription_id, item_id, site_domain, status, billing_period, renewal_date) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		lic.LicenseKey, lic.CustomerID, lic.SubscriptionID, lic.ItemID,
		lic.SiteDomain, lic.Status, lic.BillingPeriod, lic.RenewalDate,
	).Scan(&lic.ID, &lic.CreatedAt, &lic.UpdatedAt)
}

// GetByKey returns nil without error when no license exists for the key.
func (r *PostgresRepo) GetByKey(ctx context.Context, key string) (*License, error) {
	lic := &License{}
	query := `SELECT id, license_key, customer_id, subscription_id, item_id, site_domain, status, billing_period, renewal_date, created_at, updated_at FROM licenses WHERE license_key = $1`
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&lic.ID, &lic.LicenseKey, &lic.CustomerID, &lic.SubscriptionID,
		&lic.ItemID, &lic.SiteDomain, &lic.Status, &lic.BillingPeriod,
		&lic.RenewalDate, &lic.CreatedAt, &lic.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lic, nil
}

func (r *PostgresRepo) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM licenses WHERE license_key = $1)`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// SiteProvisioned reports whether a site in a batch job already has a live
// license, so a batch retry can skip sites that succeeded on a prior pass.
func (r *PostgresRepo) SiteProvisioned(ctx context.Context, siteDomain, customerID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM licenses WHERE site_domain = $1 AND customer_id = $2 AND subscription_id IS NOT NULL)`
	err := r.db.QueryRowContext(ctx, query, siteDomain, customerID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM licenses`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
