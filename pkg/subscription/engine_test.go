package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) TearDownOrganization(ctx context.Context, customerID uuid.UUID) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}

type mockEnforcer struct {
	mock.Mock
}

func (m *mockEnforcer) DisableExcessCampaigns(ctx context.Context, customerID uuid.UUID, allowed int64) error {
	args := m.Called(ctx, customerID, allowed)
	return args.Error(0)
}

func (m *mockEnforcer) ArchiveExcessLeads(ctx context.Context, customerID uuid.UUID, allowed int64) error {
	args := m.Called(ctx, customerID, allowed)
	return args.Error(0)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) CustomerByVendorID(ctx context.Context, vendorCustomerID string) (uuid.UUID, error) {
	args := m.Called(ctx, vendorCustomerID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type engineEnv struct {
	subs     *subscription.MemorySubscriptionStore
	history  *subscription.MemoryHistoryStore
	provider *mockProvider
	cleaner  *mockCleaner
	enforcer *mockEnforcer
	resolver *mockResolver
	events   *capturePublisher
	engine   *subscription.Engine
}

func newTestEngine(t *testing.T) *engineEnv {
	t.Helper()

	env := &engineEnv{
		subs:     subscription.NewMemorySubscriptionStore(),
		history:  subscription.NewMemoryHistoryStore(),
		provider: &mockProvider{},
		cleaner:  &mockCleaner{},
		enforcer: &mockEnforcer{},
		resolver: &mockResolver{},
		events:   &capturePublisher{},
	}
	env.engine = subscription.NewEngine(
		env.subs, env.history, newTestCatalog(t), env.provider,
		subscription.WithEngineNowFunc(fixedNow),
		subscription.WithOrgCleaner(env.cleaner),
		subscription.WithLimitEnforcer(env.enforcer),
		subscription.WithCustomerResolver(env.resolver),
		subscription.WithEngineEventPublisher(env.events),
	)
	return env
}

func (env *engineEnv) seed(t *testing.T, sub *subscription.Subscription) {
	t.Helper()
	require.NoError(t, env.subs.Save(context.Background(), sub))
}

func (env *engineEnv) byVendorID(t *testing.T, vendorSubID string) *subscription.Subscription {
	t.Helper()
	sub, err := env.subs.GetByVendorSubscriptionID(context.Background(), vendorSubID)
	require.NoError(t, err)
	return sub
}

func checkoutCompletedEvent(customerID uuid.UUID) *subscription.WebhookEvent {
	periodStart := testNow.AddDate(0, 0, -1)
	periodEnd := testNow.AddDate(0, 1, -1)
	return &subscription.WebhookEvent{
		ID:                   "evt_checkout_1",
		Type:                 subscription.EventCheckoutCompleted,
		VendorSubscriptionID: "sub_new",
		VendorCustomerID:     "cus_new",
		CustomerID:           customerID,
		ItemID:               "si_new",
		Quantity:             3,
		PriceID:              "price_pro_m",
		Status:               "active",
		PeriodStart:          &periodStart,
		PeriodEnd:            &periodEnd,
		OccurredAt:           testNow,
	}
}

func TestEngine_CreatesSubscriptionFromCheckout(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	customerID := uuid.New()

	require.NoError(t, env.engine.HandleEvent(context.Background(), checkoutCompletedEvent(customerID)))

	sub := env.byVendorID(t, "sub_new")
	assert.Equal(t, customerID, sub.CustomerID)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, subscription.CycleMonthly, sub.Cycle)
	assert.Equal(t, 3, sub.SeatsPurchased, "seat count comes from the remote line item")
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, int64(5000), sub.Limits[subscription.ResourceLeads])
	require.NotNil(t, sub.CurrentPeriodEnd)

	assert.Equal(t, []subscription.ChangeEventKind{subscription.EventSubscriptionActivated}, env.events.kinds())
}

func TestEngine_CreationRetrievesRemoteWhenPayloadIncomplete(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	periodEnd := testNow.AddDate(0, 1, 0)
	env.provider.On("RetrieveSubscription", mock.Anything, "sub_new").
		Return(&billing.RemoteSubscription{
			ID:               "sub_new",
			ItemID:           "si_remote",
			PriceID:          "price_pro_m",
			Quantity:         4,
			Status:           "active",
			CurrentPeriodEnd: &periodEnd,
		}, nil)

	event := checkoutCompletedEvent(uuid.New())
	event.Quantity = 0
	event.ItemID = ""
	event.PriceID = ""

	require.NoError(t, env.engine.HandleEvent(context.Background(), event))

	sub := env.byVendorID(t, "sub_new")
	assert.Equal(t, 4, sub.SeatsPurchased)
	assert.Equal(t, "si_remote", sub.VendorItemID)
	env.provider.AssertExpectations(t)
}

func TestEngine_CreationResolvesCustomerByVendorID(t *testing.T) {
	t.Parallel()

	// A vendor-originated subscription.created carries only the
	// processor's customer id; the local customer comes from the
	// resolver.
	vendorCreated := func() *subscription.WebhookEvent {
		e := checkoutCompletedEvent(uuid.Nil)
		e.ID = "evt_created_vendor"
		e.Type = subscription.EventSubscriptionCreated
		return e
	}

	t.Run("attaches the resolved customer", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		customerID := uuid.New()
		env.resolver.On("CustomerByVendorID", mock.Anything, "cus_new").Return(customerID, nil)

		require.NoError(t, env.engine.HandleEvent(context.Background(), vendorCreated()))

		sub := env.byVendorID(t, "sub_new")
		assert.Equal(t, customerID, sub.CustomerID)
		env.resolver.AssertExpectations(t)
	})

	t.Run("refuses creation for an unknown vendor customer", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		env.resolver.On("CustomerByVendorID", mock.Anything, "cus_new").
			Return(uuid.Nil, subscription.ErrCustomerNotFound)

		// Acked without creating: redelivering the same event cannot
		// succeed until the customer record exists.
		require.NoError(t, env.engine.HandleEvent(context.Background(), vendorCreated()))

		_, err := env.subs.GetByVendorSubscriptionID(context.Background(), "sub_new")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
		assert.Empty(t, env.events.kinds())
	})

	t.Run("resolver store failure surfaces for redelivery", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		env.resolver.On("CustomerByVendorID", mock.Anything, "cus_new").
			Return(uuid.Nil, errors.New("connection refused"))

		err := env.engine.HandleEvent(context.Background(), vendorCreated())
		require.Error(t, err)

		_, lookupErr := env.subs.GetByVendorSubscriptionID(context.Background(), "sub_new")
		assert.ErrorIs(t, lookupErr, subscription.ErrSubscriptionNotFound)
	})

	t.Run("refuses creation without a resolver", func(t *testing.T) {
		t.Parallel()

		env := &engineEnv{
			subs:     subscription.NewMemorySubscriptionStore(),
			history:  subscription.NewMemoryHistoryStore(),
			provider: &mockProvider{},
		}
		env.engine = subscription.NewEngine(
			env.subs, env.history, newTestCatalog(t), env.provider,
			subscription.WithEngineNowFunc(fixedNow),
		)

		require.NoError(t, env.engine.HandleEvent(context.Background(), vendorCreated()))

		_, err := env.subs.GetByVendorSubscriptionID(context.Background(), "sub_new")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}

func TestEngine_DuplicateCreationReconcilesDriftOnly(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	customerID := uuid.New()
	ctx := context.Background()

	require.NoError(t, env.engine.HandleEvent(ctx, checkoutCompletedEvent(customerID)))

	// subscription.created races in with a different remote quantity.
	created := checkoutCompletedEvent(customerID)
	created.ID = "evt_created_1"
	created.Type = subscription.EventSubscriptionCreated
	created.Quantity = 5
	require.NoError(t, env.engine.HandleEvent(ctx, created))

	sub := env.byVendorID(t, "sub_new")
	assert.Equal(t, 5, sub.SeatsPurchased, "remote quantity is authoritative")

	// Only one welcome event despite two creation-class events.
	assert.Equal(t, []subscription.ChangeEventKind{subscription.EventSubscriptionActivated}, env.events.kinds())
}

func TestEngine_OrderingTolerance(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	updatedEvent := func() *subscription.WebhookEvent {
		e := checkoutCompletedEvent(customerID)
		e.ID = "evt_updated_1"
		e.Type = subscription.EventSubscriptionUpdated
		return e
	}

	run := func(t *testing.T, order []*subscription.WebhookEvent) *subscription.Subscription {
		env := newTestEngine(t)
		ctx := context.Background()
		for _, e := range order {
			require.NoError(t, env.engine.HandleEvent(ctx, e))
		}
		return env.byVendorID(t, "sub_new")
	}

	checkout := checkoutCompletedEvent(customerID)
	forward := run(t, []*subscription.WebhookEvent{checkout, updatedEvent()})
	reverse := run(t, []*subscription.WebhookEvent{updatedEvent(), checkout})

	assert.Equal(t, forward.PlanID, reverse.PlanID)
	assert.Equal(t, forward.SeatsPurchased, reverse.SeatsPurchased)
	assert.Equal(t, forward.Cycle, reverse.Cycle)
	assert.Equal(t, forward.Status, reverse.Status)
}

func TestEngine_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	t.Run("applies remote plan when nothing is scheduled", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		event := &subscription.WebhookEvent{
			ID:                   "evt_upd_1",
			Type:                 subscription.EventSubscriptionUpdated,
			VendorSubscriptionID: "sub_test",
			Quantity:             4,
			PriceID:              "price_business_m",
			Status:               "active",
		}
		require.NoError(t, env.engine.HandleEvent(context.Background(), event))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, 4, after.SeatsPurchased)
		assert.Equal(t, "business", after.PlanID)
		assert.Equal(t, subscription.Unlimited, after.Limits[subscription.ResourceCampaigns])
	})

	t.Run("suppresses plan change while a downgrade is scheduled", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		sub.PlanChange = subscription.ScheduledDowngrade("starter", testNow.AddDate(0, 0, 15), map[subscription.Resource]int64{
			subscription.ResourceCampaigns: 1,
		})
		env.seed(t, sub)

		newEnd := testNow.AddDate(0, 1, 0)
		event := &subscription.WebhookEvent{
			ID:                   "evt_upd_2",
			Type:                 subscription.EventSubscriptionUpdated,
			VendorSubscriptionID: "sub_test",
			// Remote already carries the downgraded price.
			PriceID:   "price_starter_m",
			PeriodEnd: &newEnd,
		}
		require.NoError(t, env.engine.HandleEvent(context.Background(), event))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, "pro", after.PlanID, "entitlement stays on the current tier until the effective date")
		assert.Equal(t, int64(5000), after.Limits[subscription.ResourceLeads])
		require.NotNil(t, after.CurrentPeriodEnd)
		assert.True(t, after.CurrentPeriodEnd.Equal(newEnd), "period bounds still update")
		assert.True(t, after.PlanChange.IsScheduled())
	})

	t.Run("records pending cancellation", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		cancelAt := testNow.AddDate(0, 0, 15)
		event := &subscription.WebhookEvent{
			ID:                   "evt_upd_3",
			Type:                 subscription.EventSubscriptionUpdated,
			VendorSubscriptionID: "sub_test",
			CancelAtPeriodEnd:    true,
			CancelAt:             &cancelAt,
		}
		require.NoError(t, env.engine.HandleEvent(context.Background(), event))

		after := env.byVendorID(t, "sub_test")
		require.NotNil(t, after.EndsAt)
		assert.True(t, after.EndsAt.Equal(cancelAt))
	})
}

func TestEngine_SubscriptionDeleted(t *testing.T) {
	t.Parallel()

	t.Run("tears down the organization before cancelling", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription() // pro is a seated plan
		env.seed(t, sub)

		env.cleaner.On("TearDownOrganization", mock.Anything, sub.CustomerID).Return(nil)

		event := &subscription.WebhookEvent{
			ID:                   "evt_del_1",
			Type:                 subscription.EventSubscriptionDeleted,
			VendorSubscriptionID: "sub_test",
		}
		require.NoError(t, env.engine.HandleEvent(context.Background(), event))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, subscription.StatusCancelled, after.Status)
		require.NotNil(t, after.CancelledAt)
		env.cleaner.AssertExpectations(t)
	})

	t.Run("teardown failure leaves the subscription uncancelled", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		env.cleaner.On("TearDownOrganization", mock.Anything, sub.CustomerID).Return(errors.New("members table locked"))

		event := &subscription.WebhookEvent{
			ID:                   "evt_del_2",
			Type:                 subscription.EventSubscriptionDeleted,
			VendorSubscriptionID: "sub_test",
		}
		require.Error(t, env.engine.HandleEvent(context.Background(), event))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, subscription.StatusActive, after.Status, "redelivery must be able to retry the teardown")
	})

	t.Run("unknown subscription is a no-op", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		event := &subscription.WebhookEvent{
			ID:                   "evt_del_3",
			Type:                 subscription.EventSubscriptionDeleted,
			VendorSubscriptionID: "sub_missing",
		}
		assert.NoError(t, env.engine.HandleEvent(context.Background(), event))
	})
}

func renewalEvent(effectivePeriodStart, effectivePeriodEnd time.Time) *subscription.WebhookEvent {
	return &subscription.WebhookEvent{
		ID:                   "evt_renewal_1",
		Type:                 subscription.EventInvoicePaymentSucceeded,
		VendorSubscriptionID: "sub_test",
		Invoice: &subscription.InvoiceEventData{
			InvoiceID:     "in_renewal",
			BillingReason: subscription.BillingReasonCycle,
			PeriodStart:   &effectivePeriodStart,
			PeriodEnd:     &effectivePeriodEnd,
		},
		OccurredAt: testNow,
	}
}

func TestEngine_RenewalRefreshesPeriodAndAppliesDueDowngrade(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	sub := newTestSubscription()
	// Downgrade became due yesterday.
	sub.PlanChange = subscription.ScheduledDowngrade("starter", testNow.AddDate(0, 0, -1), map[subscription.Resource]int64{
		subscription.ResourceCampaigns: 1,
		subscription.ResourceLeads:     100,
	})
	env.seed(t, sub)

	env.enforcer.On("DisableExcessCampaigns", mock.Anything, sub.CustomerID, int64(1)).Return(nil)
	env.enforcer.On("ArchiveExcessLeads", mock.Anything, sub.CustomerID, int64(100)).Return(nil)

	newStart := testNow
	newEnd := testNow.AddDate(0, 1, 0)
	require.NoError(t, env.engine.HandleEvent(context.Background(), renewalEvent(newStart, newEnd)))

	after := env.byVendorID(t, "sub_test")
	assert.Equal(t, "starter", after.PlanID)
	assert.Equal(t, int64(1), after.Limits[subscription.ResourceCampaigns])
	assert.False(t, after.PlanChange.IsScheduled(), "scheduled fields cleared after the switch")
	require.NotNil(t, after.CurrentPeriodEnd)
	assert.True(t, after.CurrentPeriodEnd.Equal(newEnd), "renewal always refreshes the billing period")

	assert.Equal(t, []subscription.ChangeEventKind{subscription.EventPlanChanged}, env.events.kinds())
	env.enforcer.AssertExpectations(t)

	// Reapplying after the schedule is cleared is a no-op.
	again := renewalEvent(newStart, newEnd)
	again.ID = "evt_renewal_2"
	require.NoError(t, env.engine.HandleEvent(context.Background(), again))
	assert.Equal(t, "starter", env.byVendorID(t, "sub_test").PlanID)
	assert.Len(t, env.events.kinds(), 1)
}

func TestEngine_RenewalWithFutureDowngradeOnlyRefreshesPeriod(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	sub := newTestSubscription()
	sub.PlanChange = subscription.ScheduledDowngrade("starter", testNow.AddDate(0, 0, 10), nil)
	env.seed(t, sub)

	newEnd := testNow.AddDate(0, 1, 0)
	require.NoError(t, env.engine.HandleEvent(context.Background(), renewalEvent(testNow, newEnd)))

	after := env.byVendorID(t, "sub_test")
	assert.Equal(t, "pro", after.PlanID)
	assert.True(t, after.PlanChange.IsScheduled())
}

func TestEngine_RenewalEnforcementFailureKeepsSchedule(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	sub := newTestSubscription()
	sub.PlanChange = subscription.ScheduledDowngrade("starter", testNow.AddDate(0, 0, -1), map[subscription.Resource]int64{
		subscription.ResourceCampaigns: 1,
	})
	env.seed(t, sub)

	env.enforcer.On("DisableExcessCampaigns", mock.Anything, sub.CustomerID, int64(1)).Return(errors.New("campaign service down"))

	require.Error(t, env.engine.HandleEvent(context.Background(), renewalEvent(testNow, testNow.AddDate(0, 1, 0))))

	after := env.byVendorID(t, "sub_test")
	assert.Equal(t, "pro", after.PlanID, "plan switch must not commit past failed enforcement")
	assert.True(t, after.PlanChange.IsScheduled())
}

func paymentFailedEvent(invoiceID string) *subscription.WebhookEvent {
	return &subscription.WebhookEvent{
		ID:                   "evt_failed_1",
		Type:                 subscription.EventInvoicePaymentFailed,
		VendorSubscriptionID: "sub_test",
		Invoice: &subscription.InvoiceEventData{
			InvoiceID: invoiceID,
			Lines: []subscription.InvoiceLine{
				{Amount: 1500, Currency: "USD", Proration: true, Description: "Additional seats"},
			},
		},
		OccurredAt: testNow,
	}
}

func TestEngine_PaymentFailureCompensation(t *testing.T) {
	t.Parallel()

	seedIncrease := func(t *testing.T, env *engineEnv, sub *subscription.Subscription, invoiceID string) *subscription.SeatChangeHistory {
		t.Helper()
		record := subscription.NewSeatChangeHistory(sub.ID, subscription.ActorUser, 2, 5, subscription.Money{Amount: 1500, Currency: "USD"}, "")
		record.CreatedAt = testNow.Add(-10 * time.Minute)
		require.NoError(t, record.Transition(subscription.HistoryCompleted))
		record.VendorInvoiceID = invoiceID
		require.NoError(t, env.history.Create(context.Background(), record))
		return record
	}

	t.Run("matches by invoice id and reverts both sides", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		sub.SeatsPurchased = 5
		sub.SeatsUsed = 0
		env.seed(t, sub)
		record := seedIncrease(t, env, sub, "in_100")

		env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
			Return(nil)

		require.NoError(t, env.engine.HandleEvent(context.Background(), paymentFailedEvent("in_100")))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, 2, after.SeatsPurchased, "local seats revert to the pre-increase value")

		settled, err := env.history.Get(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.HistoryReverted, settled.Status)
		assert.NotEmpty(t, settled.FailureReason)

		assert.Equal(t, []subscription.ChangeEventKind{subscription.EventSeatChangeReverted}, env.events.kinds())
		env.provider.AssertExpectations(t)
	})

	t.Run("falls back to the recent increase heuristic", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		sub.SeatsPurchased = 5
		sub.SeatsUsed = 0
		env.seed(t, sub)
		// History record has no invoice id (checkout-path increase).
		seedIncrease(t, env, sub, "")

		env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
			Return(nil)

		require.NoError(t, env.engine.HandleEvent(context.Background(), paymentFailedEvent("in_unmatched")))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, 2, after.SeatsPurchased)
	})

	t.Run("old increases outside the window are not touched", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		sub.SeatsPurchased = 5
		sub.SeatsUsed = 0
		env.seed(t, sub)

		record := subscription.NewSeatChangeHistory(sub.ID, subscription.ActorUser, 2, 5, subscription.Money{Amount: 1500, Currency: "USD"}, "")
		record.CreatedAt = testNow.Add(-3 * time.Hour)
		require.NoError(t, record.Transition(subscription.HistoryCompleted))
		require.NoError(t, env.history.Create(context.Background(), record))

		require.NoError(t, env.engine.HandleEvent(context.Background(), paymentFailedEvent("in_unmatched")))

		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, 5, after.SeatsPurchased)
		env.provider.AssertNotCalled(t, "UpdateSubscriptionQuantity")
	})

	t.Run("ignores failures without proration lines", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		event := paymentFailedEvent("in_plain")
		event.Invoice.Lines = []subscription.InvoiceLine{{Amount: 1000, Proration: false}}
		require.NoError(t, env.engine.HandleEvent(context.Background(), event))
		env.provider.AssertNotCalled(t, "UpdateSubscriptionQuantity")
	})

	t.Run("failed revert reports an error for redelivery", func(t *testing.T) {
		t.Parallel()

		env := newTestEngine(t)
		sub := newTestSubscription()
		sub.SeatsPurchased = 5
		sub.SeatsUsed = 0
		env.seed(t, sub)
		record := seedIncrease(t, env, sub, "in_100")

		env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
			Return(errors.New("gateway down"))

		require.Error(t, env.engine.HandleEvent(context.Background(), paymentFailedEvent("in_100")))

		// Nothing committed locally; the record stays revertible.
		after := env.byVendorID(t, "sub_test")
		assert.Equal(t, 5, after.SeatsPurchased)
		settled, err := env.history.Get(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.HistoryCompleted, settled.Status)
	})
}

func TestEngine_InvoiceVoidedWritesForensicRecord(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	sub := newTestSubscription()
	env.seed(t, sub)

	event := &subscription.WebhookEvent{
		ID:                   "evt_void_1",
		Type:                 subscription.EventInvoiceVoided,
		VendorSubscriptionID: "sub_test",
		Invoice: &subscription.InvoiceEventData{
			InvoiceID: "in_void",
			Currency:  "USD",
			Lines: []subscription.InvoiceLine{
				{Amount: 1500, Currency: "USD", Proration: true},
			},
		},
	}
	require.NoError(t, env.engine.HandleEvent(context.Background(), event))

	records, err := env.history.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryFailed, records[0].Status)
	assert.Equal(t, subscription.PaymentVoided, records[0].PaymentStatus)
	assert.Equal(t, subscription.ActorSystem, records[0].Actor)
	assert.Equal(t, "in_void", records[0].VendorInvoiceID)
	assert.Equal(t, int64(1500), records[0].Proration.Amount)

	// Audit only: seats are untouched.
	after := env.byVendorID(t, "sub_test")
	assert.Equal(t, 2, after.SeatsPurchased)
}

func TestEngine_UnknownEventTypeIgnored(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	event := &subscription.WebhookEvent{ID: "evt_x", Type: "customer.updated"}
	assert.NoError(t, env.engine.HandleEvent(context.Background(), event))
}
