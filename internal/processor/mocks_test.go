package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"licensure/backend/features/license"
	"licensure/backend/features/queue"
	"licensure/backend/features/subscription"
	"licensure/backend/internal/adapter/stripe"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job

	statusLog map[string][]queue.Status
	retryLog  map[string][]int64
}

func newFakeJobStore(jobs ...*queue.Job) *fakeJobStore {
	s := &fakeJobStore{
		jobs:      make(map[string]*queue.Job),
		statusLog: make(map[string][]queue.Status),
		retryLog:  make(map[string][]int64),
	}
	for _, j := range jobs {
		s.jobs[j.QueueID] = j
		s.statusLog[j.QueueID] = []queue.Status{j.Status}
	}
	return s
}

func (s *fakeJobStore) setStatus(j *queue.Job, st queue.Status) {
	j.Status = st
	s.statusLog[j.QueueID] = append(s.statusLog[j.QueueID], st)
}

func (s *fakeJobStore) SelectDue(ctx context.Context, limit int) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []queue.Job
	for _, j := range s.jobs {
		if j.Status == queue.StatusPending && len(due) < limit {
			due = append(due, *j)
		}
	}
	return due, nil
}

func (s *fakeJobStore) Claim(ctx context.Context, queueID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[queueID]
	if !ok || j.Status != queue.StatusPending {
		return false, nil
	}
	s.setStatus(j, queue.StatusProcessing)
	return true, nil
}

func (s *fakeJobStore) MarkCompleted(ctx context.Context, queueID, subscriptionID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[queueID]
	s.setStatus(j, queue.StatusCompleted)
	if subscriptionID != "" {
		j.SubscriptionID = &subscriptionID
	}
	if itemID != "" {
		j.ItemID = &itemID
	}
	now := time.Now()
	j.ProcessedAt = &now
	return nil
}

func (s *fakeJobStore) ScheduleRetry(ctx context.Context, queueID string, attempts int, nextRetryAt int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[queueID]
	s.setStatus(j, queue.StatusPending)
	j.Attempts = attempts
	j.NextRetryAt = &nextRetryAt
	j.ErrorMessage = &errMsg
	s.retryLog[queueID] = append(s.retryLog[queueID], nextRetryAt)
	return nil
}

func (s *fakeJobStore) MarkFailed(ctx context.Context, queueID string, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[queueID]
	s.setStatus(j, queue.StatusFailed)
	j.Attempts = attempts
	j.ErrorMessage = &errMsg
	return nil
}

func (s *fakeJobStore) UpdateLicenseKey(ctx context.Context, queueID, licenseKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[queueID].LicenseKey = licenseKey
	return nil
}

func (s *fakeJobStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeLicenseStore struct {
	mu       sync.Mutex
	byKey    map[string]*license.License
	sites    map[string]bool
	saveErrs []error
	saves    int
}

func newFakeLicenseStore() *fakeLicenseStore {
	return &fakeLicenseStore{
		byKey: make(map[string]*license.License),
		sites: make(map[string]bool),
	}
}

func (s *fakeLicenseStore) Save(ctx context.Context, lic *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	s.byKey[lic.LicenseKey] = lic
	if lic.SiteDomain != nil {
		s.sites[*lic.SiteDomain+"|"+lic.CustomerID] = true
	}
	return nil
}

func (s *fakeLicenseStore) GetByKey(ctx context.Context, key string) (*license.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[key], nil
}

func (s *fakeLicenseStore) SiteProvisioned(ctx context.Context, siteDomain, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sites[siteDomain+"|"+customerID], nil
}

type fakeSubStore struct {
	mu        sync.Mutex
	byID      map[string]*subscription.Subscription
	upserts   int
	upsertErr error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{byID: make(map[string]*subscription.Subscription)}
}

func (s *fakeSubStore) Upsert(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.byID[sub.SubscriptionID] = sub
	return nil
}

type fakeKeygen struct {
	keys []string
	next int
	err  error
}

func (g *fakeKeygen) GenerateUniqueKey(ctx context.Context) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if g.next < len(g.keys) {
		k := g.keys[g.next]
		g.next++
		return k, nil
	}
	g.next++
	return fmt.Sprintf("KEY-GENX-%04d-AAAA-BBBB", g.next), nil
}

type subscriptionCall struct {
	params         *stripe.SubscriptionParams
	idempotencyKey string
}

type fakeProvider struct {
	mu        sync.Mutex
	calls     []subscriptionCall
	responses []error // nil means success, in call order; exhausted list means success
	priceErr  error
	price     *stripe.Price
	nextSubID int
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, subscriptionCall{params: params, idempotencyKey: idempotencyKey})
	if len(p.responses) > 0 {
		err := p.responses[0]
		p.responses = p.responses[1:]
		if err != nil {
			return nil, err
		}
	}
	p.nextSubID++
	return &stripe.Subscription{
		ID:     fmt.Sprintf("sub_%03d", p.nextSubID),
		ItemID: fmt.Sprintf("si_%03d", p.nextSubID),
		Status: "trialing",
	}, nil
}

func (p *fakeProvider) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	if p.priceErr != nil {
		return nil, p.priceErr
	}
	if p.price != nil {
		return p.price, nil
	}
	return &stripe.Price{ID: priceID, UnitAmount: 4900, Currency: "usd", Interval: "month"}, nil
}

type fakeDetector struct {
	platform string
	err      error
}

func (d *fakeDetector) Detect(ctx context.Context, domain string) (string, error) {
	if d.err != nil {
		return "unknown", d.err
	}
	if d.platform == "" {
		return "wordpress", nil
	}
	return d.platform, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

var errProviderDown = errors.New("provider api error: 503: upstream unavailable")
