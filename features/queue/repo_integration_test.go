package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensure/backend/features/queue"
	"licensure/backend/internal/testutils"
)

func TestPostgresRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	repo := queue.NewPostgresRepo(suite.DB)
	ctx := context.Background()

	newJob := func() *queue.Job {
		return &queue.Job{
			QueueID:         uuid.New().String(),
			Type:            queue.TypePerLicense,
			Status:          queue.StatusPending,
			CustomerID:      "cus_int",
			UserEmail:       "buyer@example.com",
			PaymentIntentID: "pi_" + uuid.New().String()[:8],
			PriceID:         "price_int",
			LicenseKey:      "L1",
			Quantity:        1,
			MaxAttempts:     3,
		}
	}

	t.Run("ClaimIsExclusive", func(t *testing.T) {
		job := newJob()
		require.NoError(t, repo.Save(ctx, job))

		const workers = 8
		var wg sync.WaitGroup
		wins := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := repo.Claim(ctx, job.QueueID)
				assert.NoError(t, err)
				wins <- claimed
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for claimed := range wins {
			if claimed {
				won++
			}
		}
		assert.Equal(t, 1, won, "exactly one worker should win the claim")

		got, err := repo.Get(ctx, job.QueueID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, got.Status)
	})

	t.Run("ScheduledRetryNotDueYet", func(t *testing.T) {
		job := newJob()
		require.NoError(t, repo.Save(ctx, job))

		retryAt := time.Now().Add(10 * time.Minute).Unix()
		require.NoError(t, repo.ScheduleRetry(ctx, job.QueueID, 1, retryAt, "provider timeout"))

		due, err := repo.SelectDue(ctx, 100)
		require.NoError(t, err)
		for _, d := range due {
			assert.NotEqual(t, job.QueueID, d.QueueID, "future retry must not be selected")
		}
	})

	t.Run("ReclaimStuck", func(t *testing.T) {
		job := newJob()
		require.NoError(t, repo.Save(ctx, job))

		claimed, err := repo.Claim(ctx, job.QueueID)
		require.NoError(t, err)
		require.True(t, claimed)

		// A freshly claimed job is not stuck yet.
		n, err := repo.ReclaimStuck(ctx, time.Minute)
		require.NoError(t, err)
		assert.Zero(t, n)

		// With a zero threshold the same job counts as stuck.
		n, err = repo.ReclaimStuck(ctx, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := repo.Get(ctx, job.QueueID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, got.Status)
		assert.Equal(t, job.Attempts, got.Attempts, "reclaim must not burn an attempt")
	})

	t.Run("RefundCandidateLifecycle", func(t *testing.T) {
		job := newJob()
		require.NoError(t, repo.Save(ctx, job))
		require.NoError(t, repo.MarkFailed(ctx, job.QueueID, 3, "provider down"))

		// Inside the grace window the job is not yet a candidate.
		candidates, err := repo.SelectRefundCandidates(ctx, time.Hour, 100)
		require.NoError(t, err)
		for _, c := range candidates {
			assert.NotEqual(t, job.QueueID, c.QueueID)
		}

		// With no grace it is, until the marker lands.
		candidates, err = repo.SelectRefundCandidates(ctx, 0, 100)
		require.NoError(t, err)
		found := false
		for _, c := range candidates {
			if c.QueueID == job.QueueID {
				found = true
			}
		}
		assert.True(t, found)

		require.NoError(t, repo.AppendRefundMarker(ctx, job.QueueID, " REFUNDED:re_int"))

		candidates, err = repo.SelectRefundCandidates(ctx, 0, 100)
		require.NoError(t, err)
		for _, c := range candidates {
			assert.NotEqual(t, job.QueueID, c.QueueID, "marked job must not be re-selected")
		}

		got, err := repo.Get(ctx, job.QueueID)
		require.NoError(t, err)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "provider down REFUNDED:re_int", *got.ErrorMessage)
	})

	t.Run("SiteBatchRoundTrip", func(t *testing.T) {
		job := newJob()
		job.Type = queue.TypePerSiteBatch
		job.LicenseKey = ""
		job.Quantity = 2
		job.Sites = []string{"alpha.example.com", "beta.example.com"}
		require.NoError(t, repo.Save(ctx, job))

		got, err := repo.Get(ctx, job.QueueID)
		require.NoError(t, err)
		assert.Equal(t, job.Sites, got.Sites)
	})
}
