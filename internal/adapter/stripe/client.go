package stripe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type SubscriptionParams struct {
	CustomerID string            `json:"customer"`
	PriceID    string            `json:"price"`
	Quantity   int               `json:"quantity"`
	TrialEnd   int64             `json:"trial_end,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Subscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CustomerID         string `json:"customer"`
	ItemID             string `json:"item_id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialEnd           int64  `json:"trial_end"`
	Interval           string `json:"interval"`
}

type Price struct {
	ID         string            `json:"id"`
	UnitAmount int64             `json:"unit_amount"`
	Currency   string            `json:"currency"`
	Interval   string            `json:"interval"`
	Metadata   map[string]string `json:"metadata"`
}

type PaymentIntent struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	LatestCharge string `json:"latest_charge"`
}

type RefundParams struct {
	ChargeID string            `json:"charge"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// IdempotencyKey derives a deterministic key from the license and payment
// intent, so a retried create-subscription call cannot double-charge even if
// the application-level dedup checks race.
func IdempotencyKey(licenseKey, paymentIntentID string) string {
	sum := sha256.Sum256([]byte(licenseKey + "|" + paymentIntentID))
	return fmt.Sprintf("prov-%x", sum[:12])
}

func (c *Client) CreateSubscription(ctx context.Context, params *SubscriptionParams, idempotencyKey string) (*Subscription, error) {
	var sub Subscription
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	if err := c.do(ctx, http.MethodPost, "/subscriptions", params, headers, &sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return &sub, nil
}

func (c *Client) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	var price Price
	if err := c.do(ctx, http.MethodGet, "/prices/"+priceID, nil, nil, &price); err != nil {
		return nil, fmt.Errorf("fetching price %s: %w", priceID, err)
	}
	return &price, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+id, nil, nil, &intent); err != nil {
		return nil, fmt.Errorf("fetching payment intent %s: %w", id, err)
	}
	return &intent, nil
}

func (c *Client) CreateRefund(ctx context.Context, params *RefundParams) (*Refund, error) {
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/refunds", params, nil, &refund); err != nil {
		return nil, fmt.Errorf("creating refund: %w", err)
	}
	return &refund, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider api error: %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
