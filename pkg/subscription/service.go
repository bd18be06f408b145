package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
	"github.com/EcMarius/numz.ai-sub009/pkg/proration"
)

// Service drives the user-facing subscription workflows: seat changes,
// plan changes and cancellation. All public operations return explicit
// result records; they never surface raw store or provider errors to
// the caller.
type Service struct {
	subs     SubscriptionStore
	history  HistoryStore
	pending  PendingChangeStore
	provider billing.Provider
	catalog  *Catalog

	events          EventPublisher
	log             *slog.Logger
	now             func() time.Time
	providerTimeout time.Duration
	pendingTTL      time.Duration
	successURL      string
	cancelURL       string
}

// NewService creates the subscription service. All store, provider and
// catalog arguments are required.
func NewService(subs SubscriptionStore, history HistoryStore, pending PendingChangeStore, provider billing.Provider, catalog *Catalog, opts ...ServiceOption) *Service {
	if subs == nil {
		panic("subscription store is required")
	}
	if history == nil {
		panic("history store is required")
	}
	if pending == nil {
		panic("pending change store is required")
	}
	if provider == nil {
		panic("billing provider is required")
	}
	if catalog == nil {
		panic("plan catalog is required")
	}

	s := &Service{
		subs:            subs,
		history:         history,
		pending:         pending,
		provider:        provider,
		catalog:         catalog,
		events:          noopPublisher{},
		log:             slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		providerTimeout: 30 * time.Second,
		pendingTTL:      24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestSeatChange validates and executes a seat-count change for the
// subscription. Increases are charged a prorated amount before the
// local seat count is committed; decreases apply immediately with the
// proration issued as a credit on the next invoice. When the customer
// has no chargeable payment method, the change is parked and the result
// carries a checkout URL to complete payment out-of-band.
func (s *Service) RequestSeatChange(ctx context.Context, subscriptionID uuid.UUID, requestedSeats int, ip string) *SeatChangeResult {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return seatChangeFailure(FailurePrecondition, msgNoActiveSubscription)
		}
		s.log.ErrorContext(ctx, "failed to load subscription", "subscription_id", subscriptionID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if !sub.IsActive() {
		return seatChangeFailure(FailurePrecondition, msgNoActiveSubscription)
	}
	if sub.SeatChangeInProgress {
		return seatChangeFailure(FailurePrecondition, msgChangeInProgress)
	}
	if requestedSeats < sub.SeatsUsed {
		return seatChangeFailure(FailurePrecondition, msgBelowFloor)
	}
	if requestedSeats == sub.SeatsPurchased {
		return seatChangeFailure(FailurePrecondition, msgNoChange)
	}

	plan, err := s.catalog.ByID(sub.PlanID)
	if err != nil {
		s.log.ErrorContext(ctx, "subscription references unknown plan", "subscription_id", sub.ID, "plan_id", sub.PlanID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if !plan.IsSeatedPlan {
		return seatChangeFailure(FailurePrecondition, "current plan does not support seat management")
	}

	quote := s.quote(sub, plan, requestedSeats)

	if quote.Kind == proration.KindCharge {
		pctx, cancel := s.providerContext(ctx)
		check, err := s.provider.CheckPaymentMethodValid(pctx, sub.VendorCustomerID)
		cancel()
		if err != nil {
			s.log.ErrorContext(ctx, "payment method check failed", "subscription_id", sub.ID, "error", err)
			return seatChangeFailure(FailureProvider, msgProviderUnavailable)
		}
		if !check.Valid {
			return s.redirectToCheckout(ctx, sub, plan, requestedSeats, quote, ip)
		}
	}

	return s.applySeatChange(ctx, sub, requestedSeats, quote, ActorUser, ip)
}

// CompletePendingSeatChange finalizes a seat increase whose prorated
// payment was collected through a hosted checkout. Ownership is
// re-validated and the remote quantity is updated with no additional
// proration, since the money was already captured.
func (s *Service) CompletePendingSeatChange(ctx context.Context, pendingID, customerID uuid.UUID) *SeatChangeResult {
	pending, err := s.pending.Get(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrPendingChangeNotFound) {
			return seatChangeFailure(FailurePrecondition, "pending seat change not found")
		}
		s.log.ErrorContext(ctx, "failed to load pending seat change", "pending_id", pendingID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if pending.CustomerID != customerID {
		return seatChangeFailure(FailurePrecondition, "pending seat change belongs to a different customer")
	}
	if pending.Expired(s.now()) {
		return seatChangeFailure(FailurePrecondition, "checkout window has expired, please start over")
	}

	sub, err := s.subs.Get(ctx, pending.SubscriptionID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load subscription for pending change", "subscription_id", pending.SubscriptionID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if !sub.IsActive() {
		return seatChangeFailure(FailurePrecondition, msgNoActiveSubscription)
	}

	acquired, err := s.subs.TrySetSeatChangeInProgress(ctx, sub.ID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to acquire seat change lock", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if !acquired {
		return seatChangeFailure(FailurePrecondition, msgChangeInProgress)
	}
	defer s.releaseLock(ctx, sub.ID)

	record, err := s.history.Get(ctx, pending.HistoryID)
	if err != nil {
		s.log.ErrorContext(ctx, "pending change references missing history record", "history_id", pending.HistoryID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}

	// Payment was captured through checkout; adjust quantity only.
	pctx, cancel := s.providerContext(ctx)
	err = s.provider.UpdateSubscriptionQuantity(pctx, sub.VendorSubscriptionID, sub.VendorItemID, pending.RequestedSeats, billing.ProrationNone, billing.AnchorUnchanged)
	cancel()
	if err != nil {
		s.failHistory(ctx, record, fmt.Sprintf("remote quantity update failed: %v", err))
		s.log.ErrorContext(ctx, "remote quantity update failed", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	oldSeats := sub.SeatsPurchased
	now := s.now()
	sub.SeatsPurchased = pending.RequestedSeats
	sub.PendingProrationAmount = 0
	sub.PendingInvoiceID = ""
	sub.LastSeatChangeAt = &now
	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		s.failHistory(ctx, record, fmt.Sprintf("local commit failed: %v", err))
		s.log.ErrorContext(ctx, "local seat commit failed after checkout", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}

	if err := record.Transition(HistoryCompleted); err == nil {
		record.PaymentStatus = PaymentPaid
		record.VendorInvoiceID = pending.CheckoutSessionID
		if err := s.history.Update(ctx, record); err != nil {
			s.log.ErrorContext(ctx, "failed to settle history record", "history_id", record.ID, "error", err)
		}
	}

	if err := s.pending.Delete(ctx, pending.ID); err != nil {
		s.log.WarnContext(ctx, "failed to delete resolved pending change", "pending_id", pending.ID, "error", err)
	}

	s.events.Publish(ChangeEvent{
		Kind:           EventSeatChangeCompleted,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		Seats:          sub.SeatsPurchased,
		OldSeats:       oldSeats,
		Amount:         pending.Proration,
		OccurredAt:     now,
	})

	return &SeatChangeResult{
		Applied:   true,
		Seats:     sub.SeatsPurchased,
		Charged:   pending.Proration,
		HistoryID: record.ID,
		Message:   "seat change completed",
	}
}

// redirectToCheckout parks the change and hands the caller a hosted
// checkout URL. The seat-change lock is not held across the redirect;
// the parked intent lives outside the subscription row.
func (s *Service) redirectToCheckout(ctx context.Context, sub *Subscription, plan Plan, requestedSeats int, quote proration.Quote, ip string) *SeatChangeResult {
	prorationMoney := Money{Amount: quote.Amount, Currency: quote.Currency}
	record := NewSeatChangeHistory(sub.ID, ActorUser, sub.SeatsPurchased, requestedSeats, prorationMoney, ip)
	if err := s.history.Create(ctx, record); err != nil {
		s.log.ErrorContext(ctx, "failed to create history record", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}

	now := s.now()
	pending := &PendingSeatChange{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		RequestedSeats: requestedSeats,
		Proration:      prorationMoney,
		HistoryID:      record.ID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.pendingTTL),
	}
	pctx, cancel := s.providerContext(ctx)
	session, err := s.provider.CreateCheckoutSession(pctx, billing.CheckoutParams{
		CustomerID:  sub.VendorCustomerID,
		PriceID:     plan.PriceIDFor(sub.Cycle),
		Amount:      quote.Amount,
		Currency:    quote.Currency,
		Name:        "Additional seats",
		Description: fmt.Sprintf("Prorated charge for %d additional seat(s)", quote.SeatDelta),
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
		Metadata: map[string]string{
			"pending_change_id": pending.ID.String(),
			"subscription_id":   sub.ID.String(),
		},
	})
	cancel()
	if err != nil {
		s.failHistory(ctx, record, fmt.Sprintf("checkout session creation failed: %v", err))
		s.log.ErrorContext(ctx, "checkout session creation failed", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	pending.CheckoutSessionID = session.ID
	if err := s.pending.Create(ctx, pending); err != nil {
		s.failHistory(ctx, record, fmt.Sprintf("failed to persist pending change: %v", err))
		s.log.ErrorContext(ctx, "failed to persist pending change", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}

	sub.PendingProrationAmount = quote.Amount
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		s.log.WarnContext(ctx, "failed to record pending proration on subscription", "subscription_id", sub.ID, "error", err)
	}

	return &SeatChangeResult{
		RedirectURL: session.URL,
		Seats:       sub.SeatsPurchased,
		HistoryID:   record.ID,
		Message:     "complete payment to finish the seat change",
	}
}

// applySeatChange runs the same-transaction flow: lock, pending audit
// record, remote quantity update, capture (increases only), local
// commit, settle the audit record. The lock is released on every
// terminal path.
func (s *Service) applySeatChange(ctx context.Context, sub *Subscription, requestedSeats int, quote proration.Quote, actor Actor, ip string) *SeatChangeResult {
	acquired, err := s.subs.TrySetSeatChangeInProgress(ctx, sub.ID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to acquire seat change lock", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}
	if !acquired {
		// Lost the race to a concurrent change.
		return seatChangeFailure(FailurePrecondition, msgChangeInProgress)
	}
	defer s.releaseLock(ctx, sub.ID)

	oldSeats := sub.SeatsPurchased
	prorationMoney := Money{Amount: quote.Amount, Currency: quote.Currency}
	if quote.Kind == proration.KindCredit {
		prorationMoney = prorationMoney.Neg()
	}
	record := NewSeatChangeHistory(sub.ID, actor, oldSeats, requestedSeats, prorationMoney, ip)
	if err := s.history.Create(ctx, record); err != nil {
		s.log.ErrorContext(ctx, "failed to create history record", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureInternal, msgInternal)
	}

	pctx, cancel := s.providerContext(ctx)
	err = s.provider.UpdateSubscriptionQuantity(pctx, sub.VendorSubscriptionID, sub.VendorItemID, requestedSeats, billing.ProrationCreate, billing.AnchorUnchanged)
	cancel()
	if err != nil {
		s.failHistory(ctx, record, fmt.Sprintf("remote quantity update failed: %v", err))
		s.log.ErrorContext(ctx, "remote quantity update failed", "subscription_id", sub.ID, "error", err)
		return seatChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	charged := Money{Currency: quote.Currency}
	if quote.Kind == proration.KindCharge {
		// Capture payment strictly before committing the local seat
		// count: increases are never free to try.
		pctx, cancel := s.providerContext(ctx)
		invoice, invErr := s.provider.CreateAndFinalizeInvoice(pctx, sub.VendorCustomerID, sub.VendorSubscriptionID,
			fmt.Sprintf("Prorated charge for %d additional seat(s)", quote.SeatDelta))
		cancel()
		if invErr != nil || !invoice.Success {
			reason := "invoice finalization failed"
			if invErr != nil {
				reason = fmt.Sprintf("invoice finalization failed: %v", invErr)
			} else {
				reason = fmt.Sprintf("invoice %s not paid, status %s", invoice.InvoiceID, invoice.Status)
				record.VendorInvoiceID = invoice.InvoiceID
			}
			return s.abortSeatChange(ctx, sub, record, oldSeats, reason, FailurePayment, msgPaymentDeclined)
		}
		record.VendorInvoiceID = invoice.InvoiceID
		charged = Money{Amount: invoice.AmountCharged, Currency: invoice.Currency}
	}

	now := s.now()
	sub.SeatsPurchased = requestedSeats
	sub.PendingProrationAmount = 0
	sub.PendingInvoiceID = ""
	sub.LastSeatChangeAt = &now
	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		// Payment may already be captured; put the remote quantity back so
		// local and remote agree on the old count. No payment was declined
		// here, so the failure reports as internal, not payment.
		return s.abortSeatChange(ctx, sub, record, oldSeats, fmt.Sprintf("local commit failed: %v", err), FailureInternal, msgInternal)
	}

	if err := record.Transition(HistoryCompleted); err == nil {
		if quote.Kind == proration.KindCharge {
			record.PaymentStatus = PaymentPaid
		} else {
			record.PaymentStatus = PaymentCredited
		}
		if err := s.history.Update(ctx, record); err != nil {
			s.log.ErrorContext(ctx, "failed to settle history record", "history_id", record.ID, "error", err)
		}
	}

	s.events.Publish(ChangeEvent{
		Kind:           EventSeatChangeCompleted,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		Seats:          requestedSeats,
		OldSeats:       oldSeats,
		Amount:         charged,
		OccurredAt:     now,
	})

	return &SeatChangeResult{
		Applied:   true,
		Seats:     requestedSeats,
		Charged:   charged,
		HistoryID: record.ID,
		Message:   "seat change completed",
	}
}

// abortSeatChange rolls back a seat change that failed after the remote
// quantity was already updated: the local seat count is left untouched,
// the audit record settles as failed, and the remote quantity is
// reverted with no proration. The caller classifies the failure; a
// failed revert escalates it to compensation, the worst outcome the
// workflow can produce.
func (s *Service) abortSeatChange(ctx context.Context, sub *Subscription, record *SeatChangeHistory, oldSeats int, reason string, kind FailureKind, message string) *SeatChangeResult {
	s.failHistory(ctx, record, reason)

	pctx, cancel := s.providerContext(ctx)
	revertErr := s.provider.UpdateSubscriptionQuantity(pctx, sub.VendorSubscriptionID, sub.VendorItemID, oldSeats, billing.ProrationNone, billing.AnchorUnchanged)
	cancel()
	if revertErr != nil {
		s.log.ErrorContext(ctx, "remote seat revert failed, remote and local seat counts have diverged",
			"compensation_failed", true,
			"subscription_id", sub.ID,
			"expected_seats", oldSeats,
			"error", revertErr,
		)
		return seatChangeFailure(FailureCompensation, message)
	}

	s.log.WarnContext(ctx, "seat change aborted", "subscription_id", sub.ID, "reason", reason)
	return seatChangeFailure(kind, message)
}

// failHistory settles an audit record as failed, preserving the raw
// reason for support diagnosis.
func (s *Service) failHistory(ctx context.Context, record *SeatChangeHistory, reason string) {
	if err := record.Transition(HistoryFailed); err != nil {
		s.log.ErrorContext(ctx, "cannot settle history record as failed", "history_id", record.ID, "error", err)
		return
	}
	record.FailureReason = reason
	if err := s.history.Update(ctx, record); err != nil {
		s.log.ErrorContext(ctx, "failed to persist failed history record", "history_id", record.ID, "error", err)
	}
}

// releaseLock clears the seat-change lock; runs deferred on every
// terminal path of the workflows that acquired it.
func (s *Service) releaseLock(ctx context.Context, id uuid.UUID) {
	if err := s.subs.ClearSeatChangeInProgress(ctx, id); err != nil {
		s.log.ErrorContext(ctx, "failed to clear seat change lock", "subscription_id", id, "error", err)
	}
}

// quote computes the proration for moving the subscription to the
// requested seat count at the current point in the billing period.
// Without period bounds the full period is charged.
func (s *Service) quote(sub *Subscription, plan Plan, requestedSeats int) proration.Quote {
	remaining, total := 1, 1
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		remaining, total = proration.PeriodDays(s.now(), *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd)
	}
	price := plan.PriceFor(sub.Cycle)
	return proration.Calculate(sub.SeatsPurchased, requestedSeats, price.Amount, price.Currency, remaining, total)
}

func (s *Service) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.providerTimeout)
}
