package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// Mock implementations

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) UpdateSubscriptionQuantity(ctx context.Context, remoteSubID, itemID string, quantity int, proration billing.ProrationMode, anchor billing.AnchorMode) error {
	args := m.Called(ctx, remoteSubID, itemID, quantity, proration, anchor)
	return args.Error(0)
}

func (m *mockProvider) UpdateSubscriptionPrice(ctx context.Context, remoteSubID, itemID, priceID string, proration billing.ProrationMode, anchor billing.AnchorMode) error {
	args := m.Called(ctx, remoteSubID, itemID, priceID, proration, anchor)
	return args.Error(0)
}

func (m *mockProvider) CreateAndFinalizeInvoice(ctx context.Context, customerID, remoteSubID, description string) (*billing.InvoiceResult, error) {
	args := m.Called(ctx, customerID, remoteSubID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.InvoiceResult), args.Error(1)
}

func (m *mockProvider) RetrieveSubscription(ctx context.Context, remoteSubID string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, remoteSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

func (m *mockProvider) CheckPaymentMethodValid(ctx context.Context, customerID string) (*billing.PaymentMethodCheck, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentMethodCheck), args.Error(1)
}

func (m *mockProvider) CheckPendingUnbilledCharges(ctx context.Context, customerID, remoteSubID string) (*billing.PendingCharges, error) {
	args := m.Called(ctx, customerID, remoteSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PendingCharges), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, remoteSubID string, immediately bool, metadata map[string]string) (*billing.RemoteSubscription, error) {
	args := m.Called(ctx, remoteSubID, immediately, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RemoteSubscription), args.Error(1)
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []subscription.ChangeEvent
}

func (p *capturePublisher) Publish(event subscription.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) kinds() []subscription.ChangeEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]subscription.ChangeEventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// Test fixtures

var testNow = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testPlans() []subscription.Plan {
	return []subscription.Plan{
		{
			ID:             "starter",
			Name:           "Starter",
			MonthlyPrice:   subscription.Money{Amount: 900, Currency: "USD"},
			YearlyPrice:    subscription.Money{Amount: 9000, Currency: "USD"},
			MonthlyPriceID: "price_starter_m",
			YearlyPriceID:  "price_starter_y",
			Limits: map[subscription.Resource]int64{
				subscription.ResourceCampaigns: 1,
				subscription.ResourceLeads:     100,
			},
			Active: true,
		},
		{
			ID:             "pro",
			Name:           "Pro",
			MonthlyPrice:   subscription.Money{Amount: 1000, Currency: "USD"},
			YearlyPrice:    subscription.Money{Amount: 10000, Currency: "USD"},
			MonthlyPriceID: "price_pro_m",
			YearlyPriceID:  "price_pro_y",
			IsSeatedPlan:   true,
			Limits: map[subscription.Resource]int64{
				subscription.ResourceCampaigns: 10,
				subscription.ResourceLeads:     5000,
			},
			Active: true,
		},
		{
			ID:             "business",
			Name:           "Business",
			MonthlyPrice:   subscription.Money{Amount: 4900, Currency: "USD"},
			YearlyPrice:    subscription.Money{Amount: 49000, Currency: "USD"},
			MonthlyPriceID: "price_business_m",
			YearlyPriceID:  "price_business_y",
			IsSeatedPlan:   true,
			Limits: map[subscription.Resource]int64{
				subscription.ResourceCampaigns: subscription.Unlimited,
				subscription.ResourceLeads:     subscription.Unlimited,
			},
			Active: true,
		},
	}
}

func newTestCatalog(t *testing.T) *subscription.Catalog {
	t.Helper()
	catalog, err := subscription.NewCatalog(context.Background(), subscription.StaticPlanSource(testPlans()))
	require.NoError(t, err)
	return catalog
}

// newTestSubscription returns an active pro subscription at 2/2 seats,
// halfway through a 30-day billing period.
func newTestSubscription() *subscription.Subscription {
	periodStart := testNow.AddDate(0, 0, -15)
	periodEnd := testNow.AddDate(0, 0, 15)
	return &subscription.Subscription{
		ID:                   uuid.New(),
		CustomerID:           uuid.New(),
		PlanID:               "pro",
		VendorCustomerID:     "cus_test",
		VendorSubscriptionID: "sub_test",
		VendorItemID:         "si_test",
		Cycle:                subscription.CycleMonthly,
		Status:               subscription.StatusActive,
		SeatsPurchased:       2,
		SeatsUsed:            2,
		CurrentPeriodStart:   &periodStart,
		CurrentPeriodEnd:     &periodEnd,
		PlanChange:           subscription.NoPlanChange(),
		Limits: map[subscription.Resource]int64{
			subscription.ResourceCampaigns: 10,
			subscription.ResourceLeads:     5000,
		},
		CreatedAt: testNow.AddDate(0, -3, 0),
		UpdatedAt: testNow.AddDate(0, 0, -15),
	}
}

type testEnv struct {
	subs     *subscription.MemorySubscriptionStore
	history  *subscription.MemoryHistoryStore
	pending  *subscription.MemoryPendingChangeStore
	provider *mockProvider
	events   *capturePublisher
	service  *subscription.Service
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		subs:     subscription.NewMemorySubscriptionStore(),
		history:  subscription.NewMemoryHistoryStore(),
		pending:  subscription.NewMemoryPendingChangeStore(),
		provider: &mockProvider{},
		events:   &capturePublisher{},
	}
	env.service = subscription.NewService(
		env.subs, env.history, env.pending, env.provider, newTestCatalog(t),
		subscription.WithNowFunc(fixedNow),
		subscription.WithEventPublisher(env.events),
		subscription.WithCheckoutURLs("https://app.test/billing/success", "https://app.test/billing/cancel"),
	)
	return env
}

func (env *testEnv) seed(t *testing.T, sub *subscription.Subscription) {
	t.Helper()
	require.NoError(t, env.subs.Save(context.Background(), sub))
}

func (env *testEnv) mustGet(t *testing.T, id uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := env.subs.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (env *testEnv) historyFor(t *testing.T, subID uuid.UUID) []*subscription.SeatChangeHistory {
	t.Helper()
	records, err := env.history.ListBySubscription(context.Background(), subID)
	require.NoError(t, err)
	return records
}
