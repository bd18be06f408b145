package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
)

// fallbackDowngradeDelay is used when a downgrade's effective date
// cannot be derived from the billing period or trial end.
const fallbackDowngradeDelay = 30 * 24 * time.Hour

// ChangePlan decides whether a plan swap is an immediate upgrade or a
// deferred downgrade and executes it. Upgrades apply immediately with
// prorated billing; downgrades are recorded as a scheduled intent and
// the customer keeps current-tier access until the next renewal.
func (s *Service) ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newPlanID string, cycle BillingCycle) *PlanChangeResult {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return planChangeFailure(FailurePrecondition, msgNoActiveSubscription)
		}
		s.log.ErrorContext(ctx, "failed to load subscription", "subscription_id", subscriptionID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}
	if !sub.IsActive() {
		return planChangeFailure(FailurePrecondition, msgNoActiveSubscription)
	}

	if planID, date, _, scheduled := sub.PlanChange.Downgrade(); scheduled {
		// The caller must cancel the existing schedule explicitly before
		// requesting a new change.
		conflictDate := date
		return &PlanChangeResult{
			ConflictPlanID: planID,
			ConflictDate:   &conflictDate,
			Failure:        FailurePrecondition,
			Message:        "a plan downgrade is already scheduled; cancel it before changing plans",
		}
	}

	if !cycle.Valid() {
		return planChangeFailure(FailurePrecondition, "unknown billing cycle")
	}
	if cycle != sub.Cycle {
		return planChangeFailure(FailurePrecondition, "billing cycle change requires cancelling and resubscribing")
	}

	newPlan, err := s.catalog.ByID(newPlanID)
	if err != nil {
		return planChangeFailure(FailurePrecondition, "requested plan does not exist")
	}
	currentPlan, err := s.catalog.ByID(sub.PlanID)
	if err != nil {
		s.log.ErrorContext(ctx, "subscription references unknown plan", "subscription_id", sub.ID, "plan_id", sub.PlanID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}

	newPrice := newPlan.PriceFor(cycle)
	currentPrice := currentPlan.PriceFor(cycle)
	switch {
	case newPrice.Amount > currentPrice.Amount:
		return s.applyUpgrade(ctx, sub, newPlan, cycle)
	case newPrice.Amount < currentPrice.Amount:
		return s.scheduleDowngrade(ctx, sub, newPlan, cycle)
	default:
		return planChangeFailure(FailurePrecondition, "requested plan costs the same as the current plan")
	}
}

// applyUpgrade switches the remote price with prorated billing and
// commits the live plan reference immediately.
func (s *Service) applyUpgrade(ctx context.Context, sub *Subscription, newPlan Plan, cycle BillingCycle) *PlanChangeResult {
	pctx, cancel := s.providerContext(ctx)
	err := s.provider.UpdateSubscriptionPrice(pctx, sub.VendorSubscriptionID, sub.VendorItemID, newPlan.PriceIDFor(cycle), billing.ProrationCreate, billing.AnchorUnchanged)
	cancel()
	if err != nil {
		s.log.ErrorContext(ctx, "remote price update failed", "subscription_id", sub.ID, "plan_id", newPlan.ID, "error", err)
		return planChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	oldPlanID := sub.PlanID
	now := s.now()
	sub.PlanID = newPlan.ID
	sub.ApplyLimits(newPlan.Limits)
	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "local plan commit failed after remote upgrade", "subscription_id", sub.ID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}

	s.events.Publish(ChangeEvent{
		Kind:           EventPlanChanged,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         newPlan.ID,
		Seats:          sub.SeatsPurchased,
		OccurredAt:     now,
	})
	s.log.InfoContext(ctx, "plan upgraded", "subscription_id", sub.ID, "from", oldPlanID, "to", newPlan.ID)

	return &PlanChangeResult{
		Applied: true,
		PlanID:  newPlan.ID,
		Message: "plan upgraded",
	}
}

// scheduleDowngrade records the intent locally, then updates the remote
// price with no proration so the customer is billed the lower price at
// the next renewal. The intent is persisted before the remote call so a
// racing subscription.updated webhook observes the schedule and
// suppresses the plan change until the effective date.
func (s *Service) scheduleDowngrade(ctx context.Context, sub *Subscription, newPlan Plan, cycle BillingCycle) *PlanChangeResult {
	effective := s.downgradeEffectiveDate(sub)

	sub.PlanChange = ScheduledDowngrade(newPlan.ID, effective, newPlan.Limits)
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "failed to persist downgrade schedule", "subscription_id", sub.ID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}

	pctx, cancel := s.providerContext(ctx)
	err := s.provider.UpdateSubscriptionPrice(pctx, sub.VendorSubscriptionID, sub.VendorItemID, newPlan.PriceIDFor(cycle), billing.ProrationNone, billing.AnchorUnchanged)
	cancel()
	if err != nil {
		// Roll the schedule back; nothing changed remotely.
		sub.PlanChange = NoPlanChange()
		sub.UpdatedAt = s.now()
		if saveErr := s.subs.Save(ctx, sub); saveErr != nil {
			s.log.ErrorContext(ctx, "failed to roll back downgrade schedule",
				"compensation_failed", true,
				"subscription_id", sub.ID,
				"error", saveErr,
			)
		}
		s.log.ErrorContext(ctx, "remote price update failed", "subscription_id", sub.ID, "plan_id", newPlan.ID, "error", err)
		return planChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	s.log.InfoContext(ctx, "plan downgrade scheduled", "subscription_id", sub.ID, "to", newPlan.ID, "effective", effective)

	return &PlanChangeResult{
		Scheduled:     true,
		PlanID:        newPlan.ID,
		EffectiveDate: &effective,
		Message:       fmt.Sprintf("downgrade scheduled for %s", effective.Format("2006-01-02")),
	}
}

// downgradeEffectiveDate is the current period end, else trial end,
// else 30 days out.
func (s *Service) downgradeEffectiveDate(sub *Subscription) time.Time {
	now := s.now()
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
		return sub.CurrentPeriodEnd.UTC()
	}
	if sub.TrialEndsAt != nil && sub.TrialEndsAt.After(now) {
		return sub.TrialEndsAt.UTC()
	}
	return now.Add(fallbackDowngradeDelay)
}

// CancelScheduledDowngrade reverts the remote price to the current
// plan and clears the schedule.
func (s *Service) CancelScheduledDowngrade(ctx context.Context, subscriptionID uuid.UUID) *PlanChangeResult {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return planChangeFailure(FailurePrecondition, msgNoActiveSubscription)
		}
		s.log.ErrorContext(ctx, "failed to load subscription", "subscription_id", subscriptionID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}
	if !sub.PlanChange.IsScheduled() {
		return planChangeFailure(FailurePrecondition, "no plan downgrade is scheduled")
	}

	currentPlan, err := s.catalog.ByID(sub.PlanID)
	if err != nil {
		s.log.ErrorContext(ctx, "subscription references unknown plan", "subscription_id", sub.ID, "plan_id", sub.PlanID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}

	pctx, cancel := s.providerContext(ctx)
	err = s.provider.UpdateSubscriptionPrice(pctx, sub.VendorSubscriptionID, sub.VendorItemID, currentPlan.PriceIDFor(sub.Cycle), billing.ProrationNone, billing.AnchorUnchanged)
	cancel()
	if err != nil {
		s.log.ErrorContext(ctx, "failed to restore current plan price", "subscription_id", sub.ID, "error", err)
		return planChangeFailure(FailureProvider, msgProviderUnavailable)
	}

	sub.PlanChange = NoPlanChange()
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "failed to clear downgrade schedule", "subscription_id", sub.ID, "error", err)
		return planChangeFailure(FailureInternal, msgInternal)
	}

	return &PlanChangeResult{
		Applied: true,
		PlanID:  sub.PlanID,
		Message: "scheduled downgrade cancelled",
	}
}

// CancelDowngradeAndUpgrade cancels an existing scheduled downgrade and
// then applies an upgrade. The two steps are not commutative: upgrading
// while a downgrade is scheduled corrupts the renewal price, so the
// cancellation must fully complete first.
func (s *Service) CancelDowngradeAndUpgrade(ctx context.Context, subscriptionID uuid.UUID, newPlanID string, cycle BillingCycle) *PlanChangeResult {
	if res := s.CancelScheduledDowngrade(ctx, subscriptionID); !res.OK() {
		return res
	}
	return s.ChangePlan(ctx, subscriptionID, newPlanID, cycle)
}

// CancelSubscription schedules cancellation at the period end. Pending
// uncollected proration is invoiced immediately first, closing the
// window where seats could be added and the subscription cancelled
// before the charge lands.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID uuid.UUID, reason, details string) *CancelResult {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return cancelFailure(FailurePrecondition, msgNoActiveSubscription)
		}
		s.log.ErrorContext(ctx, "failed to load subscription", "subscription_id", subscriptionID, "error", err)
		return cancelFailure(FailureInternal, msgInternal)
	}
	if !sub.IsActive() {
		return cancelFailure(FailurePrecondition, msgNoActiveSubscription)
	}

	var charged Money
	pctx, cancel := s.providerContext(ctx)
	pendingCharges, err := s.provider.CheckPendingUnbilledCharges(pctx, sub.VendorCustomerID, sub.VendorSubscriptionID)
	cancel()
	if err != nil {
		s.log.ErrorContext(ctx, "pending charges check failed", "subscription_id", sub.ID, "error", err)
		return cancelFailure(FailureProvider, msgProviderUnavailable)
	}
	if pendingCharges.HasPending {
		pctx, cancel := s.providerContext(ctx)
		invoice, invErr := s.provider.CreateAndFinalizeInvoice(pctx, sub.VendorCustomerID, sub.VendorSubscriptionID, "Outstanding prorated charges")
		cancel()
		if invErr != nil {
			s.log.ErrorContext(ctx, "failed to collect pending charges before cancellation", "subscription_id", sub.ID, "error", invErr)
			return cancelFailure(FailureProvider, msgProviderUnavailable)
		}
		if !invoice.Success {
			s.log.WarnContext(ctx, "pending charges not collected before cancellation",
				"subscription_id", sub.ID, "invoice_id", invoice.InvoiceID, "status", invoice.Status)
			return cancelFailure(FailurePayment, msgPaymentDeclined)
		}
		charged = Money{Amount: invoice.AmountCharged, Currency: invoice.Currency}
	}

	pctx, cancel = s.providerContext(ctx)
	remote, err := s.provider.CancelSubscription(pctx, sub.VendorSubscriptionID, false, map[string]string{
		"cancellation_reason": reason,
	})
	cancel()
	if err != nil {
		s.log.ErrorContext(ctx, "remote cancellation failed", "subscription_id", sub.ID, "error", err)
		return cancelFailure(FailureProvider, msgProviderUnavailable)
	}

	now := s.now()
	sub.CancelledAt = &now
	sub.CancellationReason = reason
	sub.CancellationDetails = details
	switch {
	case remote.CancelAt != nil:
		sub.EndsAt = remote.CancelAt
	case sub.CurrentPeriodEnd != nil:
		sub.EndsAt = sub.CurrentPeriodEnd
	default:
		sub.EndsAt = &now
	}
	sub.UpdatedAt = now
	if err := s.subs.Save(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "failed to record cancellation locally", "subscription_id", sub.ID, "error", err)
		return cancelFailure(FailureInternal, msgInternal)
	}

	s.events.Publish(ChangeEvent{
		Kind:           EventSubscriptionCancelled,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		Seats:          sub.SeatsPurchased,
		OccurredAt:     now,
	})

	return &CancelResult{
		Cancelled: true,
		EndsAt:    sub.EndsAt,
		Charged:   charged,
	}
}
