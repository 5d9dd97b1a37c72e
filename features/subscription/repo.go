package subscription

import (
	"context"
	"database/sql"
)

type Repository interface {
	Upsert(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, subscriptionID string) (*Subscription, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert keys on the provider subscription ID so an at-least-once redelivery
// updates the existing row instead of inserting a duplicate.
func (r *PostgresRepo) Upsert(ctx context.Context, sub *Subscription) error {
	query := `INSERT INTO subscriptions (subscription_id, customer_id, user_email, status, billing_period, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id) DO UPDATE SET
			status = EXCLUDED.status,
			billing_period = EXCLUDED.billing_period,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		sub.SubscriptionID, sub.CustomerID, sub.UserEmail, sub.Status,
		sub.BillingPeriod, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub := &Subscription{}
	query := `SELECT id, subscription_id, customer_id, user_email, status, billing_period, current_period_start, current_period_end, created_at, updated_at FROM subscriptions WHERE subscription_id = $1`
	err := r.db.QueryRowContext(ctx, query, subscriptionID).Scan(
		&sub.ID, &sub.SubscriptionID, &sub.CustomerID, &sub.UserEmail,
		&sub.Status, &sub.BillingPeriod, &sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&count)
	return count, err
}
