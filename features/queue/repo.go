package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, queueID string) (*Job, error)
	FindActive(ctx context.Context, paymentIntentID, licenseKey string) (*Job, error)
	SelectDue(ctx context.Context, limit int) ([]Job, error)
	Claim(ctx context.Context, queueID string) (bool, error)
	MarkCompleted(ctx context.Context, queueID, subscriptionID, itemID string) error
	ScheduleRetry(ctx context.Context, queueID string, attempts int, nextRetryAt int64, errMsg string) error
	MarkFailed(ctx context.Context, queueID string, attempts int, errMsg string) error
	UpdateLicenseKey(ctx context.Context, queueID, licenseKey string) error
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	SelectRefundCandidates(ctx context.Context, grace time.Duration, limit int) ([]Job, error)
	AppendRefundMarker(ctx context.Context, queueID, marker string) error
	List(ctx context.Context, limit int) ([]Job, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `queue_id, job_type, status, customer_id, user_email, payment_intent_id, price_id, license_key, subscription_id, item_id, quantity, sites, attempts, max_attempts, next_retry_at, error_message, created_at, updated_at, processed_at`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*Job, error) {
	j := &Job{}
	var sites []string
	err := row.Scan(&j.QueueID, &j.Type, &j.Status, &j.CustomerID, &j.UserEmail, &j.PaymentIntentID, &j.PriceID, &j.LicenseKey, &j.SubscriptionID, &j.ItemID, &j.Quantity, pq.Array(&sites), &j.Attempts, &j.MaxAttempts, &j.NextRetryAt, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.ProcessedAt)
	if err != nil {
		return nil, err
	}
	j.Sites = sites
	return j, nil
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO queue (queue_id, job_type, status, customer_id, user_email, payment_intent_id, price_id, license_key, quantity, sites, max_attempts) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		job.QueueID, job.Type, job.Status, job.CustomerID, job.UserEmail,
		job.PaymentIntentID, job.PriceID, job.LicenseKey, job.Quantity,
		pq.Array(job.Sites), job.MaxAttempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, queueID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue WHERE queue_id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, queueID))
}

// FindActive returns a job for the same payment intent (and license key, when
// given) that is still in flight or already done. Failed jobs do not count:
// they are handled by the refund sweep, not re-enqueued.
func (r *PostgresRepo) FindActive(ctx context.Context, paymentIntentID, licenseKey string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue WHERE payment_intent_id = $1 AND status IN ('pending', 'processing', 'completed')`
	args := []interface{}{paymentIntentID}
	if licenseKey != "" {
		query += ` AND license_key = $2`
		args = append(args, licenseKey)
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepo) SelectDue(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= EXTRACT(EPOCH FROM NOW())) ORDER BY created_at ASC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Claim is the sole concurrency-control mechanism: the conditional update
// succeeds for exactly one caller per pending job.
func (r *PostgresRepo) Claim(ctx context.Context, queueID string) (bool, error) {
	query := `UPDATE queue SET status = 'processing', updated_at = NOW() WHERE queue_id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, queueID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, queueID, subscriptionID, itemID string) error {
	query := `UPDATE queue SET status = 'completed', subscription_id = NULLIF($1, ''), item_id = NULLIF($2, ''), processed_at = NOW(), updated_at = NOW() WHERE queue_id = $3`
	_, err := r.db.ExecContext(ctx, query, subscriptionID, itemID, queueID)
	return err
}

func (r *PostgresRepo) ScheduleRetry(ctx context.Context, queueID string, attempts int, nextRetryAt int64, errMsg string) error {
	query := `UPDATE queue SET status = 'pending', attempts = $1, next_retry_at = $2, error_message = $3, updated_at = NOW() WHERE queue_id = $4`
	_, err := r.db.ExecContext(ctx, query, attempts, nextRetryAt, errMsg, queueID)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, queueID string, attempts int, errMsg string) error {
	query := `UPDATE queue SET status = 'failed', attempts = $1, error_message = $2, updated_at = NOW() WHERE queue_id = $3`
	_, err := r.db.ExecContext(ctx, query, attempts, errMsg, queueID)
	return err
}

func (r *PostgresRepo) UpdateLicenseKey(ctx context.Context, queueID, licenseKey string) error {
	query := `UPDATE queue SET license_key = $1, updated_at = NOW() WHERE queue_id = $2`
	_, err := r.db.ExecContext(ctx, query, licenseKey, queueID)
	return err
}

// ReclaimStuck resets jobs wedged in processing by a crashed worker. Attempts
// are left unchanged so the reclaim itself never burns a retry.
func (r *PostgresRepo) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE queue SET status = 'pending', updated_at = NOW() WHERE status = 'processing' AND updated_at < NOW() - ($1 * INTERVAL '1 second')`
	res, err := r.db.ExecContext(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) SelectRefundCandidates(ctx context.Context, grace time.Duration, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue WHERE status = 'failed' AND created_at < NOW() - ($1 * INTERVAL '1 second') AND (error_message IS NULL OR error_message NOT LIKE '%REFUNDED:%') ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, int64(grace.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) AppendRefundMarker(ctx context.Context, queueID, marker string) error {
	query := `UPDATE queue SET error_message = COALESCE(error_message, '') || $1, updated_at = NOW() WHERE queue_id = $2`
	_, err := r.db.ExecContext(ctx, query, marker, queueID)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM queue GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting queue jobs: %w", err)
	}
	return counts, nil
}
