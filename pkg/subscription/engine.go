package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
)

// OrgCleaner tears down the organization that depended on a seated
// subscription when it is deleted at the processor. Implemented by the
// membership layer; this core only orders the call before the
// subscription is marked cancelled.
type OrgCleaner interface {
	TearDownOrganization(ctx context.Context, customerID uuid.UUID) error
}

// CustomerResolver maps the payment processor's customer id to the
// local customer. Needed for creation events that did not originate
// from our checkout flow and so carry no local customer id.
type CustomerResolver interface {
	CustomerByVendorID(ctx context.Context, vendorCustomerID string) (uuid.UUID, error)
}

// LimitEnforcer applies a downgraded plan's allowances when the
// downgrade takes effect. Both operations must be recoverable: disable
// rather than delete, archive rather than drop.
type LimitEnforcer interface {
	// DisableExcessCampaigns disables campaigns beyond the allowance,
	// oldest first, keeping the newest up to allowed.
	DisableExcessCampaigns(ctx context.Context, customerID uuid.UUID, allowed int64) error

	// ArchiveExcessLeads archives stored lead records beyond the
	// allowance, oldest first.
	ArchiveExcessLeads(ctx context.Context, customerID uuid.UUID, allowed int64) error
}

type noopCleaner struct{}

func (noopCleaner) TearDownOrganization(context.Context, uuid.UUID) error { return nil }

type noopEnforcer struct{}

func (noopEnforcer) DisableExcessCampaigns(context.Context, uuid.UUID, int64) error { return nil }
func (noopEnforcer) ArchiveExcessLeads(context.Context, uuid.UUID, int64) error     { return nil }

// Engine is the webhook reconciliation state machine. It consumes
// verified, deduplicated events and converges local subscription
// records with the payment processor's view, applying compensating
// actions when payment fails after a seat change.
type Engine struct {
	subs     SubscriptionStore
	history  HistoryStore
	catalog  *Catalog
	provider billing.Provider

	cleaner            OrgCleaner
	enforcer           LimitEnforcer
	customers          CustomerResolver
	events             EventPublisher
	log                *slog.Logger
	now                func() time.Time
	providerTimeout    time.Duration
	compensationWindow time.Duration
}

// NewEngine creates the reconciliation engine. Stores, catalog and
// provider are required; collaborators default to no-ops.
func NewEngine(subs SubscriptionStore, history HistoryStore, catalog *Catalog, provider billing.Provider, opts ...EngineOption) *Engine {
	if subs == nil {
		panic("subscription store is required")
	}
	if history == nil {
		panic("history store is required")
	}
	if catalog == nil {
		panic("plan catalog is required")
	}
	if provider == nil {
		panic("billing provider is required")
	}

	e := &Engine{
		subs:               subs,
		history:            history,
		catalog:            catalog,
		provider:           provider,
		cleaner:            noopCleaner{},
		enforcer:           noopEnforcer{},
		events:             noopPublisher{},
		log:                slog.Default(),
		now:                func() time.Time { return time.Now().UTC() },
		providerTimeout:    30 * time.Second,
		compensationWindow: time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleEvent dispatches one inbound event. A returned error means the
// event could not be applied; the transport logs it and relies on the
// processor's redelivery. Events are independent: no error here may
// prevent later events from being processed.
func (e *Engine) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	if event == nil {
		return errors.New("nil webhook event")
	}

	e.log.InfoContext(ctx, "processing webhook event", "event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case EventCheckoutCompleted, EventSubscriptionCreated:
		return e.ensureSubscription(ctx, event)
	case EventSubscriptionUpdated:
		return e.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		return e.handleSubscriptionDeleted(ctx, event)
	case EventInvoicePaymentSucceeded:
		return e.handleInvoicePaymentSucceeded(ctx, event)
	case EventInvoicePaymentFailed:
		return e.handleInvoicePaymentFailed(ctx, event)
	case EventInvoiceVoided:
		return e.handleInvoiceVoided(ctx, event)
	default:
		e.log.WarnContext(ctx, "ignoring unknown webhook event type", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}

// ensureSubscription handles checkout.completed and
// subscription.created, which may arrive in either order for the same
// remote subscription. If the record already exists only seat-count
// drift is reconciled; otherwise the record is created from the remote
// object, never from client-supplied values.
func (e *Engine) ensureSubscription(ctx context.Context, event *WebhookEvent) error {
	if event.VendorSubscriptionID == "" {
		return errors.New("event carries no vendor subscription id")
	}

	existing, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err == nil {
		return e.reconcileSeatDrift(ctx, existing, event.Quantity)
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}

	// The remote object is the source of truth for quantity, item and
	// period bounds; re-read it when the event payload is incomplete.
	quantity := event.Quantity
	itemID := event.ItemID
	priceID := event.PriceID
	periodStart, periodEnd := event.PeriodStart, event.PeriodEnd
	trialEnd := event.TrialEnd
	if quantity == 0 || itemID == "" || priceID == "" {
		pctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
		remote, rerr := e.provider.RetrieveSubscription(pctx, event.VendorSubscriptionID)
		cancel()
		if rerr != nil {
			return fmt.Errorf("retrieve remote subscription %s: %w", event.VendorSubscriptionID, rerr)
		}
		quantity = remote.Quantity
		itemID = remote.ItemID
		priceID = remote.PriceID
		periodStart, periodEnd = remote.CurrentPeriodStart, remote.CurrentPeriodEnd
		trialEnd = remote.TrialEnd
	}
	if quantity < 1 {
		quantity = 1
	}

	plan, cycle, err := e.catalog.ByPriceID(priceID)
	if err != nil {
		return fmt.Errorf("resolve plan for price %s: %w", priceID, err)
	}

	// Checkout events carry the local customer id in their metadata;
	// vendor-originated events only carry the processor's customer id
	// and must be resolved. An unresolvable customer refuses creation —
	// an orphaned subscription would be unreachable by every operation.
	customerID := event.CustomerID
	if customerID == uuid.Nil {
		if e.customers == nil || event.VendorCustomerID == "" {
			e.log.ErrorContext(ctx, "cannot create subscription, no local customer to attach it to",
				"vendor_subscription_id", event.VendorSubscriptionID, "vendor_customer_id", event.VendorCustomerID)
			return nil
		}
		customerID, err = e.customers.CustomerByVendorID(ctx, event.VendorCustomerID)
		if errors.Is(err, ErrCustomerNotFound) {
			e.log.ErrorContext(ctx, "cannot create subscription, vendor customer has no local account",
				"vendor_subscription_id", event.VendorSubscriptionID, "vendor_customer_id", event.VendorCustomerID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("resolve customer %s: %w", event.VendorCustomerID, err)
		}
	}

	now := e.now()
	sub := &Subscription{
		ID:                   uuid.New(),
		CustomerID:           customerID,
		PlanID:               plan.ID,
		VendorCustomerID:     event.VendorCustomerID,
		VendorSubscriptionID: event.VendorSubscriptionID,
		VendorItemID:         itemID,
		Cycle:                cycle,
		Status:               mapVendorStatus(event.Status),
		SeatsPurchased:       quantity,
		SeatsUsed:            0,
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		TrialEndsAt:          trialEnd,
		PlanChange:           NoPlanChange(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	sub.ApplyLimits(plan.Limits)
	if err := e.subs.Save(ctx, sub); err != nil {
		if errors.Is(err, ErrSubscriptionExists) {
			// Lost the insert race to a concurrent delivery; the
			// redelivery will find the row and take the update path.
			e.log.WarnContext(ctx, "concurrent subscription creation detected",
				"vendor_subscription_id", event.VendorSubscriptionID)
		}
		return fmt.Errorf("create subscription: %w", err)
	}

	e.log.InfoContext(ctx, "subscription created from webhook",
		"subscription_id", sub.ID, "vendor_subscription_id", sub.VendorSubscriptionID, "plan_id", plan.ID, "seats", quantity)

	// Welcome mail is best-effort and post-commit; its failure cannot
	// fail the webhook.
	e.events.Publish(ChangeEvent{
		Kind:           EventSubscriptionActivated,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         plan.ID,
		Seats:          quantity,
		OccurredAt:     now,
	})
	return nil
}

// reconcileSeatDrift aligns the local seat count with the remote
// quantity; remote is authoritative.
func (e *Engine) reconcileSeatDrift(ctx context.Context, sub *Subscription, remoteQuantity int) error {
	if remoteQuantity < 1 || remoteQuantity == sub.SeatsPurchased {
		return nil
	}
	e.log.WarnContext(ctx, "seat count drift detected, adopting remote quantity",
		"subscription_id", sub.ID, "local", sub.SeatsPurchased, "remote", remoteQuantity)
	sub.SeatsPurchased = remoteQuantity
	sub.UpdatedAt = e.now()
	return e.subs.Save(ctx, sub)
}

func (e *Engine) handleSubscriptionUpdated(ctx context.Context, event *WebhookEvent) error {
	sub, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Creation event may not have arrived yet; converge via create.
			return e.ensureSubscription(ctx, event)
		}
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}

	if event.Quantity > 0 && event.Quantity != sub.SeatsPurchased {
		e.log.WarnContext(ctx, "seat count drift detected, adopting remote quantity",
			"subscription_id", sub.ID, "local", sub.SeatsPurchased, "remote", event.Quantity)
		sub.SeatsPurchased = event.Quantity
	}

	// Plan reconciliation: a scheduled, not-yet-due downgrade suppresses
	// the plan change — the remote price already reflects the future
	// plan, but the customer keeps current-tier entitlement until the
	// effective date.
	if event.PriceID != "" {
		plan, cycle, perr := e.catalog.ByPriceID(event.PriceID)
		if perr != nil {
			e.log.WarnContext(ctx, "webhook references unknown price, skipping plan reconciliation",
				"subscription_id", sub.ID, "price_id", event.PriceID)
		} else if sub.PlanChange.IsScheduled() && !sub.PlanChange.DueAt(e.now()) {
			e.log.InfoContext(ctx, "plan change suppressed by scheduled downgrade",
				"subscription_id", sub.ID, "scheduled_plan_id", sub.PlanChange.PlanID())
		} else if plan.ID != sub.PlanID || cycle != sub.Cycle {
			sub.PlanID = plan.ID
			sub.Cycle = cycle
			sub.ApplyLimits(plan.Limits)
		}
	}

	if event.PeriodStart != nil {
		sub.CurrentPeriodStart = event.PeriodStart
	}
	if event.PeriodEnd != nil {
		sub.CurrentPeriodEnd = event.PeriodEnd
	}
	if event.TrialEnd != nil {
		sub.TrialEndsAt = event.TrialEnd
	}
	if event.Status != "" {
		sub.Status = mapVendorStatus(event.Status)
	}
	if event.CancelAtPeriodEnd {
		switch {
		case event.CancelAt != nil:
			sub.EndsAt = event.CancelAt
		case sub.CurrentPeriodEnd != nil:
			sub.EndsAt = sub.CurrentPeriodEnd
		}
	} else {
		sub.EndsAt = nil
	}

	sub.UpdatedAt = e.now()
	return e.subs.Save(ctx, sub)
}

// handleSubscriptionDeleted tears down the dependent organization
// before marking the subscription cancelled; if teardown fails the
// subscription stays uncancelled so redelivery can retry.
func (e *Engine) handleSubscriptionDeleted(ctx context.Context, event *WebhookEvent) error {
	sub, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}
	if sub.IsCancelled() {
		return nil
	}

	plan, err := e.catalog.ByID(sub.PlanID)
	if err == nil && plan.IsSeatedPlan {
		if err := e.cleaner.TearDownOrganization(ctx, sub.CustomerID); err != nil {
			return fmt.Errorf("tear down organization for customer %s: %w", sub.CustomerID, err)
		}
	}

	now := e.now()
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.EndsAt = &now
	sub.PlanChange = NoPlanChange()
	sub.UpdatedAt = now
	if err := e.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("mark subscription cancelled: %w", err)
	}

	e.events.Publish(ChangeEvent{
		Kind:           EventSubscriptionCancelled,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		Seats:          sub.SeatsPurchased,
		OccurredAt:     now,
	})
	return nil
}

// handleInvoicePaymentSucceeded refreshes the billing period on cycle
// renewal and applies a scheduled downgrade whose effective date has
// arrived. Reapplying after the schedule was already cleared is a
// no-op.
func (e *Engine) handleInvoicePaymentSucceeded(ctx context.Context, event *WebhookEvent) error {
	if event.Invoice == nil || event.Invoice.BillingReason != BillingReasonCycle {
		return nil
	}

	sub, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}

	// The new period boundaries reset monthly usage counters.
	if event.Invoice.PeriodStart != nil {
		sub.CurrentPeriodStart = event.Invoice.PeriodStart
	}
	if event.Invoice.PeriodEnd != nil {
		sub.CurrentPeriodEnd = event.Invoice.PeriodEnd
	}
	sub.UpdatedAt = e.now()

	if !sub.PlanChange.DueAt(e.now()) {
		return e.subs.Save(ctx, sub)
	}

	planID, _, limits, _ := sub.PlanChange.Downgrade()
	if err := e.enforceDowngradeLimits(ctx, sub.CustomerID, limits); err != nil {
		// Leave the schedule in place; redelivery retries enforcement.
		if saveErr := e.subs.Save(ctx, sub); saveErr != nil {
			e.log.ErrorContext(ctx, "failed to persist renewed period", "subscription_id", sub.ID, "error", saveErr)
		}
		return fmt.Errorf("enforce downgrade limits: %w", err)
	}

	sub.PlanID = planID
	sub.ApplyLimits(limits)
	sub.PlanChange = NoPlanChange()
	if err := e.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("commit scheduled downgrade: %w", err)
	}

	e.log.InfoContext(ctx, "scheduled downgrade applied", "subscription_id", sub.ID, "plan_id", planID)
	e.events.Publish(ChangeEvent{
		Kind:           EventPlanChanged,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         planID,
		Seats:          sub.SeatsPurchased,
		OccurredAt:     e.now(),
	})
	return nil
}

// enforceDowngradeLimits applies the downgraded plan's allowances.
// Recoverable by design: campaigns are disabled (newest kept up to the
// allowance), leads archived oldest first.
func (e *Engine) enforceDowngradeLimits(ctx context.Context, customerID uuid.UUID, limits map[Resource]int64) error {
	if allowed, ok := limits[ResourceCampaigns]; ok && allowed != Unlimited {
		if err := e.enforcer.DisableExcessCampaigns(ctx, customerID, allowed); err != nil {
			return fmt.Errorf("disable excess campaigns: %w", err)
		}
	}
	if allowed, ok := limits[ResourceLeads]; ok && allowed != Unlimited {
		if err := e.enforcer.ArchiveExcessLeads(ctx, customerID, allowed); err != nil {
			return fmt.Errorf("archive excess leads: %w", err)
		}
	}
	return nil
}

// handleInvoicePaymentFailed runs the compensating transaction for a
// failed seat-increase charge: both remote and local seat counts revert
// to the pre-increase value and the audit record settles as reverted.
// The matching history record is found by invoice id when the charge
// carried one, falling back to the most recent increase inside the
// compensation window.
func (e *Engine) handleInvoicePaymentFailed(ctx context.Context, event *WebhookEvent) error {
	if event.Invoice == nil || !event.Invoice.HasProration() {
		return nil
	}

	sub, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}

	record, err := e.history.FindByInvoiceID(ctx, event.Invoice.InvoiceID)
	if errors.Is(err, ErrHistoryNotFound) {
		record, err = e.history.FindRecentIncrease(ctx, sub.ID, e.now().Add(-e.compensationWindow))
	}
	if err != nil {
		if errors.Is(err, ErrHistoryNotFound) {
			// Prorated failure with no matching seat change; nothing to
			// compensate.
			return nil
		}
		return fmt.Errorf("find seat change for failed invoice %s: %w", event.Invoice.InvoiceID, err)
	}
	if !record.IsIncrease() || !record.CanTransition(HistoryReverted) {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	revertErr := e.provider.UpdateSubscriptionQuantity(pctx, sub.VendorSubscriptionID, sub.VendorItemID, record.OldSeats, billing.ProrationNone, billing.AnchorUnchanged)
	cancel()
	if revertErr != nil {
		e.log.ErrorContext(ctx, "remote seat revert failed, remote and local seat counts have diverged",
			"compensation_failed", true,
			"subscription_id", sub.ID,
			"expected_seats", record.OldSeats,
			"error", revertErr,
		)
		return fmt.Errorf("revert remote seat quantity: %w", revertErr)
	}

	sub.SeatsPurchased = record.OldSeats
	sub.UpdatedAt = e.now()
	if err := e.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("revert local seat count: %w", err)
	}

	if err := record.Transition(HistoryReverted); err != nil {
		return err
	}
	record.FailureReason = fmt.Sprintf("payment failed for invoice %s, seats reverted to %d", event.Invoice.InvoiceID, record.OldSeats)
	if record.VendorInvoiceID == "" {
		record.VendorInvoiceID = event.Invoice.InvoiceID
	}
	if err := e.history.Update(ctx, record); err != nil {
		return fmt.Errorf("settle reverted history record: %w", err)
	}

	e.log.WarnContext(ctx, "seat increase reverted after payment failure",
		"subscription_id", sub.ID, "invoice_id", event.Invoice.InvoiceID, "seats", record.OldSeats)
	e.events.Publish(ChangeEvent{
		Kind:           EventSeatChangeReverted,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		Seats:          record.OldSeats,
		OldSeats:       record.NewSeats,
		Amount:         record.Proration,
		OccurredAt:     e.now(),
	})
	return nil
}

// handleInvoiceVoided writes a forensic audit record when an invoice
// carrying prorated charges is voided before capture. No automatic
// remediation; the record exists to detect exploitation of the
// cancel-before-charge race.
func (e *Engine) handleInvoiceVoided(ctx context.Context, event *WebhookEvent) error {
	if event.Invoice == nil || !event.Invoice.HasProration() {
		return nil
	}

	sub, err := e.subs.GetByVendorSubscriptionID(ctx, event.VendorSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return fmt.Errorf("lookup subscription %s: %w", event.VendorSubscriptionID, err)
	}

	amount := event.Invoice.ProrationAmount()
	now := e.now()
	record := &SeatChangeHistory{
		ID:              uuid.New(),
		SubscriptionID:  sub.ID,
		Actor:           ActorSystem,
		OldSeats:        sub.SeatsPurchased,
		NewSeats:        sub.SeatsPurchased,
		Proration:       Money{Amount: amount, Currency: event.Invoice.Currency},
		VendorInvoiceID: event.Invoice.InvoiceID,
		Status:          HistoryFailed,
		PaymentStatus:   PaymentVoided,
		FailureReason:   fmt.Sprintf("invoice %s voided with %d in prorated charges", event.Invoice.InvoiceID, amount),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.history.Create(ctx, record); err != nil {
		return fmt.Errorf("write voided invoice audit record: %w", err)
	}

	e.log.WarnContext(ctx, "invoice with prorated charges voided",
		"subscription_id", sub.ID, "invoice_id", event.Invoice.InvoiceID, "amount", amount)
	return nil
}

func mapVendorStatus(status string) Status {
	switch status {
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "canceled", "cancelled":
		return StatusCancelled
	case "unpaid", "incomplete_expired":
		return StatusExpired
	default:
		return StatusActive
	}
}
