package business

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/antinvestor/daraja-api/config"
	"github.com/antinvestor/daraja-api/service/coreapi"
	"github.com/antinvestor/daraja-api/service/models"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRequestRepo is the in-memory PaymentRequestRepository used to exercise
// the engine without a database. Conditional updates hold the same
// only-if-PENDING guarantee the store enforces.
type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*models.PaymentRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: map[string]*models.PaymentRequest{}}
}

func (repo *fakeRequestRepo) GetByID(_ context.Context, id string) (*models.PaymentRequest, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	request, ok := repo.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *request
	return &copied, nil
}

func (repo *fakeRequestRepo) GetByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*models.PaymentRequest, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, request := range repo.requests {
		if request.CheckoutRequestID == checkoutRequestID {
			copied := *request
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (repo *fakeRequestRepo) Save(_ context.Context, request *models.PaymentRequest) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	copied := *request
	repo.requests[request.GetID()] = &copied
	return nil
}

func (repo *fakeRequestRepo) TransitionIfPending(_ context.Context, id string, status string, completedAt time.Time, receiptNumber string) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	request, ok := repo.requests[id]
	if !ok || request.Status != models.StatusPending {
		return false, nil
	}
	request.Status = status
	request.CompletedAt = &completedAt
	if receiptNumber != "" {
		request.ReceiptNumber = receiptNumber
	}
	return true, nil
}

func (repo *fakeRequestRepo) LinkTransaction(_ context.Context, id string, transactionID string) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	request, ok := repo.requests[id]
	if !ok || request.LinkedTransactionID != "" {
		return false, nil
	}
	request.LinkedTransactionID = transactionID
	return true, nil
}

func (repo *fakeRequestRepo) MatchForLedger(_ context.Context, receiptNumber string, accountReference string, amount decimal.Decimal) (*models.PaymentRequest, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if receiptNumber != "" {
		for _, request := range repo.requests {
			if request.ReceiptNumber == receiptNumber {
				copied := *request
				return &copied, nil
			}
		}
	}
	if accountReference == "" {
		return nil, nil
	}

	var candidates []*models.PaymentRequest
	for _, request := range repo.requests {
		if request.AccountReference == accountReference &&
			request.Status == models.StatusPending &&
			request.Amount.Valid && request.Amount.Decimal.Equal(amount) {
			candidates = append(candidates, request)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].InitiatedAt.After(candidates[j].InitiatedAt)
	})
	copied := *candidates[0]
	return &copied, nil
}

func (repo *fakeRequestRepo) PendingOlderThan(_ context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var matched []*models.PaymentRequest
	for _, request := range repo.requests {
		if request.Status == models.StatusPending && request.InitiatedAt.Before(cutoff) {
			copied := *request
			matched = append(matched, &copied)
		}
	}
	return matched, nil
}

func (repo *fakeRequestRepo) CompletedUnconfirmedBefore(_ context.Context, cutoff time.Time) ([]*models.PaymentRequest, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var matched []*models.PaymentRequest
	for _, request := range repo.requests {
		if request.Status == models.StatusCompleted &&
			request.LinkedTransactionID == "" &&
			request.CompletedAt != nil && request.CompletedAt.Before(cutoff) {
			copied := *request
			matched = append(matched, &copied)
		}
	}
	return matched, nil
}

func (repo *fakeRequestRepo) mustGet(t *testing.T, id string) *models.PaymentRequest {
	t.Helper()
	request, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("request %s not found", id)
	}
	return request
}

// fakeEventRepo enforces the (provider, provider_event_id) uniqueness the
// production store backs with a unique index.
type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.CallbackEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[string]*models.CallbackEvent{}}
}

func eventKey(provider, providerEventID string) string {
	return provider + "|" + providerEventID
}

func (repo *fakeEventRepo) Create(_ context.Context, event *models.CallbackEvent) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	key := eventKey(event.Provider, event.ProviderEventID)
	if _, ok := repo.events[key]; ok {
		return false, nil
	}
	copied := *event
	if copied.DeliveryCount == 0 {
		copied.DeliveryCount = 1
	}
	repo.events[key] = &copied
	return true, nil
}

func (repo *fakeEventRepo) RecordDuplicate(_ context.Context, provider string, providerEventID string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if event, ok := repo.events[eventKey(provider, providerEventID)]; ok {
		event.DeliveryCount++
	}
	return nil
}

func (repo *fakeEventRepo) GetByProviderEventID(_ context.Context, provider string, providerEventID string) (*models.CallbackEvent, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	event, ok := repo.events[eventKey(provider, providerEventID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (repo *fakeEventRepo) count() int {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return len(repo.events)
}

func testConfig() *config.DarajaConfig {
	return &config.DarajaConfig{
		StkPushEnabled:       true,
		MinimumAmount:        1,
		MaximumAmount:        150000,
		PushTimeoutMinutes:   30,
		ConfirmationSLAHours: 24,
	}
}

type testEngine struct {
	ctx         context.Context
	business    PushBusiness
	client      *coreapi.MockClient
	requestRepo *fakeRequestRepo
	eventRepo   *fakeEventRepo
	clock       *manualClock
}

func newTestEngine(t *testing.T, cfg *config.DarajaConfig) *testEngine {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}
	ctx, service := frame.NewService("daraja_tests", frame.WithConfig(cfg))
	t.Cleanup(func() { service.Stop(ctx) })

	client := &coreapi.MockClient{}
	requestRepo := newFakeRequestRepo()
	eventRepo := newFakeEventRepo()
	clock := newManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	return &testEngine{
		ctx:         ctx,
		business:    NewPushBusiness(ctx, service, cfg, client, clock, requestRepo, eventRepo),
		client:      client,
		requestRepo: requestRepo,
		eventRepo:   eventRepo,
		clock:       clock,
	}
}
