package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	summary CycleSummary
	err     error
	limit   int
}

func (s *stubRunner) RunProcessingCycle(ctx context.Context, limit int) (CycleSummary, error) {
	s.limit = limit
	return s.summary, s.err
}

func TestHandler_Webhook(t *testing.T) {
	repo := &fakeRepo{}
	h := NewHandler(NewProducer(repo, nil, 3), repo, &stubRunner{}, 25)

	t.Run("EnqueuesJobs", func(t *testing.T) {
		body := `{
			"event_type": "checkout.session.completed",
			"payment_intent_id": "pi_9",
			"customer_id": "cus_9",
			"user_email": "buyer@example.com",
			"mode": "payment",
			"line_items": [{"price_id": "price_9", "quantity": 2}]
		}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
		rec := httptest.NewRecorder()

		h.Webhook(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data EnqueueResult `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, UseCaseQuantity, resp.Data.UseCase)
		assert.Equal(t, 2, resp.Data.Enqueued)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()

		h.Webhook(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp, "error")
		assert.Contains(t, resp, "correlationId")
	})

	t.Run("MissingIdentifiers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"customer_id": "cus_9"}`))
		rec := httptest.NewRecorder()

		h.Webhook(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Process(t *testing.T) {
	repo := &fakeRepo{}

	t.Run("DefaultLimit", func(t *testing.T) {
		runner := &stubRunner{summary: CycleSummary{Processed: 2, Succeeded: 2}}
		h := NewHandler(NewProducer(repo, nil, 3), repo, runner, 25)

		req := httptest.NewRequest(http.MethodPost, "/internal/queue/process", nil)
		rec := httptest.NewRecorder()

		h.Process(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 25, runner.limit)

		var resp struct {
			Data CycleSummary `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Data.Succeeded)
	})

	t.Run("ExplicitLimit", func(t *testing.T) {
		runner := &stubRunner{}
		h := NewHandler(NewProducer(repo, nil, 3), repo, runner, 25)

		req := httptest.NewRequest(http.MethodPost, "/internal/queue/process?limit=5", nil)
		rec := httptest.NewRecorder()

		h.Process(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, runner.limit)
	})

	t.Run("RejectsBadLimit", func(t *testing.T) {
		runner := &stubRunner{}
		h := NewHandler(NewProducer(repo, nil, 3), repo, runner, 25)

		req := httptest.NewRequest(http.MethodPost, "/internal/queue/process?limit=zero", nil)
		rec := httptest.NewRecorder()

		h.Process(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, runner.limit)
	})
}
