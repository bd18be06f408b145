package subscription_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

func TestRequestSeatChange_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		res := env.service.RequestSeatChange(context.Background(), uuid.New(), 5, "")
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
		assert.False(t, res.Applied)
	})

	t.Run("cancelled subscription", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		sub := newTestSubscription()
		sub.Status = subscription.StatusCancelled
		env.seed(t, sub)

		res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
	})

	t.Run("change already in progress", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		sub := newTestSubscription()
		env.seed(t, sub)
		acquired, err := env.subs.TrySetSeatChangeInProgress(context.Background(), sub.ID)
		require.NoError(t, err)
		require.True(t, acquired)

		res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
		assert.Contains(t, res.Message, "in progress")
		env.provider.AssertNotCalled(t, "UpdateSubscriptionQuantity")
	})

	t.Run("reduce below seats in use", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		sub := newTestSubscription()
		sub.SeatsPurchased = 5
		sub.SeatsUsed = 4
		env.seed(t, sub)

		res := env.service.RequestSeatChange(context.Background(), sub.ID, 3, "")
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
		assert.Contains(t, res.Message, "seats in use")

		// No mutation.
		after := env.mustGet(t, sub.ID)
		assert.Equal(t, 5, after.SeatsPurchased)
		assert.Empty(t, env.historyFor(t, sub.ID))
	})

	t.Run("no-op seat count", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		res := env.service.RequestSeatChange(context.Background(), sub.ID, 2, "")
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
	})
}

func TestRequestSeatChange_IncreaseSuccess(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription() // 2/2 seats, 1000/seat, 15 of 30 days remaining
	env.seed(t, sub)

	env.provider.On("CheckPaymentMethodValid", mock.Anything, "cus_test").
		Return(&billing.PaymentMethodCheck{Valid: true}, nil)
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 5, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(nil)
	env.provider.On("CreateAndFinalizeInvoice", mock.Anything, "cus_test", "sub_test", mock.Anything).
		Return(&billing.InvoiceResult{Success: true, InvoiceID: "in_100", AmountCharged: 1500, Currency: "USD", Status: "paid"}, nil)

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "203.0.113.7")
	require.True(t, res.OK(), res.Message)
	assert.True(t, res.Applied)
	assert.Equal(t, 5, res.Seats)
	assert.Equal(t, subscription.Money{Amount: 1500, Currency: "USD"}, res.Charged)

	after := env.mustGet(t, sub.ID)
	assert.Equal(t, 5, after.SeatsPurchased)
	assert.False(t, after.SeatChangeInProgress)
	require.NotNil(t, after.LastSeatChangeAt)

	records := env.historyFor(t, sub.ID)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryCompleted, records[0].Status)
	assert.Equal(t, subscription.PaymentPaid, records[0].PaymentStatus)
	assert.Equal(t, "in_100", records[0].VendorInvoiceID)
	assert.Equal(t, 2, records[0].OldSeats)
	assert.Equal(t, 5, records[0].NewSeats)
	assert.Equal(t, int64(1500), records[0].Proration.Amount)
	assert.Equal(t, "203.0.113.7", records[0].IP)

	assert.Equal(t, []subscription.ChangeEventKind{subscription.EventSeatChangeCompleted}, env.events.kinds())
	env.provider.AssertExpectations(t)
}

func TestRequestSeatChange_InvoiceFailureRollsBack(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription()
	env.seed(t, sub)

	env.provider.On("CheckPaymentMethodValid", mock.Anything, "cus_test").
		Return(&billing.PaymentMethodCheck{Valid: true}, nil)
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 5, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(nil)
	env.provider.On("CreateAndFinalizeInvoice", mock.Anything, "cus_test", "sub_test", mock.Anything).
		Return(&billing.InvoiceResult{Success: false, InvoiceID: "in_101", Status: "open"}, nil)
	// The rollback restores the pre-change quantity with no proration.
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
		Return(nil)

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
	assert.Equal(t, subscription.FailurePayment, res.Failure)
	assert.False(t, res.Applied)

	after := env.mustGet(t, sub.ID)
	assert.Equal(t, 2, after.SeatsPurchased, "seat count must be unchanged after a failed increase")
	assert.False(t, after.SeatChangeInProgress)

	records := env.historyFor(t, sub.ID)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryFailed, records[0].Status)
	assert.NotEmpty(t, records[0].FailureReason)
	assert.Empty(t, env.events.kinds())
	env.provider.AssertExpectations(t)
}

func TestRequestSeatChange_CompensationFailure(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription()
	env.seed(t, sub)

	env.provider.On("CheckPaymentMethodValid", mock.Anything, "cus_test").
		Return(&billing.PaymentMethodCheck{Valid: true}, nil)
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 5, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(nil)
	env.provider.On("CreateAndFinalizeInvoice", mock.Anything, "cus_test", "sub_test", mock.Anything).
		Return(nil, errors.New("gateway timeout"))
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
		Return(errors.New("gateway still down"))

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
	assert.Equal(t, subscription.FailureCompensation, res.Failure)

	after := env.mustGet(t, sub.ID)
	assert.Equal(t, 2, after.SeatsPurchased)
	assert.False(t, after.SeatChangeInProgress, "lock must clear even on the worst path")
}

// saveFailingStore lets a test break Save after the fixture is seeded.
type saveFailingStore struct {
	*subscription.MemorySubscriptionStore
	failSaves bool
}

func (s *saveFailingStore) Save(ctx context.Context, sub *subscription.Subscription) error {
	if s.failSaves {
		return errors.New("connection reset by peer")
	}
	return s.MemorySubscriptionStore.Save(ctx, sub)
}

func TestRequestSeatChange_LocalCommitFailure(t *testing.T) {
	t.Parallel()

	subs := &saveFailingStore{MemorySubscriptionStore: subscription.NewMemorySubscriptionStore()}
	history := subscription.NewMemoryHistoryStore()
	provider := &mockProvider{}
	events := &capturePublisher{}
	service := subscription.NewService(
		subs, history, subscription.NewMemoryPendingChangeStore(), provider, newTestCatalog(t),
		subscription.WithNowFunc(fixedNow),
		subscription.WithEventPublisher(events),
		subscription.WithCheckoutURLs("https://app.test/billing/success", "https://app.test/billing/cancel"),
	)

	sub := newTestSubscription()
	sub.SeatsUsed = 1
	require.NoError(t, subs.Save(context.Background(), sub))
	subs.failSaves = true

	// A decrease touches no invoice; the only remote calls are the
	// quantity update and its revert once the local commit fails.
	provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 1, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(nil)
	provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 2, billing.ProrationNone, billing.AnchorUnchanged).
		Return(nil)

	res := service.RequestSeatChange(context.Background(), sub.ID, 1, "")
	assert.Equal(t, subscription.FailureInternal, res.Failure,
		"a store failure is not a payment failure")
	assert.NotContains(t, res.Message, "payment")
	assert.False(t, res.Applied)

	records, err := history.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryFailed, records[0].Status)
	assert.Contains(t, records[0].FailureReason, "local commit failed")

	subs.failSaves = false
	after, err := subs.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.SeatsPurchased)
	assert.False(t, after.SeatChangeInProgress)
	assert.Empty(t, events.kinds())
	provider.AssertNotCalled(t, "CreateAndFinalizeInvoice")
	provider.AssertExpectations(t)
}

func TestRequestSeatChange_Decrease(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription()
	sub.SeatsPurchased = 5
	sub.SeatsUsed = 2
	env.seed(t, sub)

	// Decreases never capture payment; the proration lands as a credit.
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 3, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(nil)

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 3, "")
	require.True(t, res.OK(), res.Message)
	assert.True(t, res.Applied)
	assert.Equal(t, 3, res.Seats)
	assert.True(t, res.Charged.IsZero())

	after := env.mustGet(t, sub.ID)
	assert.Equal(t, 3, after.SeatsPurchased)
	assert.False(t, after.SeatChangeInProgress)

	records := env.historyFor(t, sub.ID)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryCompleted, records[0].Status)
	assert.Equal(t, subscription.PaymentCredited, records[0].PaymentStatus)
	// 2 seats x 1000 x 15/30 = 1000, recorded as a credit.
	assert.Equal(t, int64(-1000), records[0].Proration.Amount)

	env.provider.AssertNotCalled(t, "CheckPaymentMethodValid")
	env.provider.AssertNotCalled(t, "CreateAndFinalizeInvoice")
	env.provider.AssertExpectations(t)
}

func TestRequestSeatChange_RedirectWhenNotChargeable(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription()
	env.seed(t, sub)

	env.provider.On("CheckPaymentMethodValid", mock.Anything, "cus_test").
		Return(&billing.PaymentMethodCheck{Valid: false, Reason: "no default payment method on file"}, nil)
	env.provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p billing.CheckoutParams) bool {
		return p.Amount == 1500 && p.Metadata["pending_change_id"] != ""
	})).Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil)

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
	require.True(t, res.OK(), res.Message)
	assert.False(t, res.Applied)
	assert.Equal(t, "https://pay.test/cs_1", res.RedirectURL)

	// Seats untouched and the lock is not held across the redirect.
	after := env.mustGet(t, sub.ID)
	assert.Equal(t, 2, after.SeatsPurchased)
	assert.False(t, after.SeatChangeInProgress)
	assert.Equal(t, int64(1500), after.PendingProrationAmount)

	records := env.historyFor(t, sub.ID)
	require.Len(t, records, 1)
	assert.Equal(t, subscription.HistoryPending, records[0].Status)

	env.provider.AssertNotCalled(t, "UpdateSubscriptionQuantity")
	env.provider.AssertExpectations(t)
}

func TestCompletePendingSeatChange(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*testEnv, *subscription.Subscription, uuid.UUID) {
		env := newTestService(t)
		sub := newTestSubscription()
		env.seed(t, sub)

		env.provider.On("CheckPaymentMethodValid", mock.Anything, "cus_test").
			Return(&billing.PaymentMethodCheck{Valid: false}, nil)
		env.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil)

		var pendingID uuid.UUID
		res := env.service.RequestSeatChange(context.Background(), sub.ID, 5, "")
		require.True(t, res.OK(), res.Message)
		for _, call := range env.provider.Calls {
			if call.Method == "CreateCheckoutSession" {
				params := call.Arguments.Get(1).(billing.CheckoutParams)
				pendingID = uuid.MustParse(params.Metadata["pending_change_id"])
			}
		}
		require.NotEqual(t, uuid.Nil, pendingID)
		return env, sub, pendingID
	}

	t.Run("finalizes after checkout", func(t *testing.T) {
		t.Parallel()

		env, sub, pendingID := setup(t)
		// Payment already captured through checkout: quantity only, no
		// extra proration.
		env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 5, billing.ProrationNone, billing.AnchorUnchanged).
			Return(nil)

		res := env.service.CompletePendingSeatChange(context.Background(), pendingID, sub.CustomerID)
		require.True(t, res.OK(), res.Message)
		assert.True(t, res.Applied)

		after := env.mustGet(t, sub.ID)
		assert.Equal(t, 5, after.SeatsPurchased)
		assert.False(t, after.SeatChangeInProgress)
		assert.Zero(t, after.PendingProrationAmount)

		records := env.historyFor(t, sub.ID)
		require.Len(t, records, 1)
		assert.Equal(t, subscription.HistoryCompleted, records[0].Status)

		_, err := env.pending.Get(context.Background(), pendingID)
		assert.ErrorIs(t, err, subscription.ErrPendingChangeNotFound)
	})

	t.Run("rejects a different customer", func(t *testing.T) {
		t.Parallel()

		env, sub, pendingID := setup(t)
		res := env.service.CompletePendingSeatChange(context.Background(), pendingID, uuid.New())
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)

		after := env.mustGet(t, sub.ID)
		assert.Equal(t, 2, after.SeatsPurchased)
	})

	t.Run("rejects unknown pending change", func(t *testing.T) {
		t.Parallel()

		env := newTestService(t)
		res := env.service.CompletePendingSeatChange(context.Background(), uuid.New(), uuid.New())
		assert.Equal(t, subscription.FailurePrecondition, res.Failure)
	})
}

func TestRequestSeatChange_LockAlwaysClears(t *testing.T) {
	t.Parallel()

	// Provider failure at the earliest remote step.
	env := newTestService(t)
	sub := newTestSubscription()
	sub.SeatsPurchased = 5
	sub.SeatsUsed = 0
	env.seed(t, sub)

	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 3, billing.ProrationCreate, billing.AnchorUnchanged).
		Return(errors.New("connection reset"))

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 3, "")
	assert.Equal(t, subscription.FailureProvider, res.Failure)

	after := env.mustGet(t, sub.ID)
	assert.False(t, after.SeatChangeInProgress)
	assert.Equal(t, 5, after.SeatsPurchased)
}

func TestRequestSeatChange_ProviderTimeoutBounded(t *testing.T) {
	t.Parallel()

	env := newTestService(t)
	sub := newTestSubscription()
	sub.SeatsPurchased = 5
	sub.SeatsUsed = 0
	env.seed(t, sub)

	var seenDeadline bool
	env.provider.On("UpdateSubscriptionQuantity", mock.Anything, "sub_test", "si_test", 3, billing.ProrationCreate, billing.AnchorUnchanged).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, seenDeadline = ctx.Deadline()
		}).
		Return(nil)

	res := env.service.RequestSeatChange(context.Background(), sub.ID, 3, "")
	require.True(t, res.OK(), res.Message)
	assert.True(t, seenDeadline, "provider calls must carry a bounded deadline")
}

func TestServiceOptionDefaults(t *testing.T) {
	t.Parallel()

	// Options guard against zero values.
	env := newTestService(t)
	require.NotNil(t, env.service)

	assert.Panics(t, func() {
		subscription.NewService(nil, nil, nil, nil, nil)
	})
}
