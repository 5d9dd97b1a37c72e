package refund

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, ref *Refund) (bool, error)
	ExistsForQueueID(ctx context.Context, queueID string) (bool, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts the refund record. The unique constraint on queue_id makes a
// concurrent double-sweep collapse into a single row; the second writer gets
// inserted=false instead of an error.
func (r *PostgresRepo) Save(ctx context.Context, ref *Refund) (bool, error) {
	query := `INSERT INTO refunds (refund_id, payment_intent_id, charge_id, amount, currency, reason, queue_id, license_key, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (queue_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		ref.RefundID, ref.PaymentIntentID, ref.ChargeID, ref.Amount,
		ref.Currency, ref.Reason, ref.QueueID, ref.LicenseKey, ref.Attempts,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) ExistsForQueueID(ctx context.Context, queueID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM refunds WHERE queue_id = $1)`
	err := r.db.QueryRowContext(ctx, query, queueID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refunds`).Scan(&count)
	return count, err
}
