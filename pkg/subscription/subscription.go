package subscription

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Subscription represents one active billing relationship per customer.
// It mirrors the payment processor's subscription object; the processor
// is the source of truth and the webhook reconciliation engine keeps
// the two converged.
type Subscription struct {
	ID                   uuid.UUID
	CustomerID           uuid.UUID
	PlanID               string
	VendorCustomerID     string // payment processor's customer id
	VendorSubscriptionID string // payment processor's subscription id
	VendorItemID         string // the subscription item carrying the seat quantity
	Cycle                BillingCycle
	Status               Status
	SeatsPurchased       int
	SeatsUsed            int
	SeatChangeInProgress bool
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	TrialEndsAt          *time.Time
	PlanChange           PlanChangeIntent
	Limits               map[Resource]int64 // snapshot of the live plan's limits

	// Transient fields tracking a proration that has been quoted but not
	// yet settled; cleared when the change resolves.
	PendingProrationAmount int64
	PendingInvoiceID       string

	LastSeatChangeAt    *time.Time
	CancelledAt         *time.Time
	EndsAt              *time.Time
	CancellationReason  string
	CancellationDetails string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive returns true if the subscription is usable (active or trialing).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// IsCancelled returns true if the subscription is cancelled.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// SeatsFloor returns the minimum seat count the subscription can shrink
// to: seats currently assigned to members.
func (s *Subscription) SeatsFloor() int {
	return s.SeatsUsed
}

// ApplyLimits replaces the live limits snapshot with a copy of the
// given limits.
func (s *Subscription) ApplyLimits(limits map[Resource]int64) {
	s.Limits = maps.Clone(limits)
}

// PlanChangeIntent is a tagged variant describing whether a deferred
// plan change is pending. The zero value means no change is scheduled.
type PlanChangeIntent struct {
	scheduled     bool
	planID        string
	effectiveDate time.Time
	limits        map[Resource]int64
}

// NoPlanChange returns an intent with nothing scheduled.
func NoPlanChange() PlanChangeIntent {
	return PlanChangeIntent{}
}

// ScheduledDowngrade returns an intent recording a downgrade to planID
// that takes effect at effectiveDate, with the target plan's limits
// snapshotted so enforcement does not depend on the catalog at apply
// time.
func ScheduledDowngrade(planID string, effectiveDate time.Time, limits map[Resource]int64) PlanChangeIntent {
	return PlanChangeIntent{
		scheduled:     true,
		planID:        planID,
		effectiveDate: effectiveDate.UTC(),
		limits:        maps.Clone(limits),
	}
}

// IsScheduled reports whether a downgrade is pending.
func (i PlanChangeIntent) IsScheduled() bool {
	return i.scheduled
}

// Downgrade returns the scheduled downgrade details. ok is false when
// nothing is scheduled.
func (i PlanChangeIntent) Downgrade() (planID string, effectiveDate time.Time, limits map[Resource]int64, ok bool) {
	if !i.scheduled {
		return "", time.Time{}, nil, false
	}
	return i.planID, i.effectiveDate, maps.Clone(i.limits), true
}

// DueAt reports whether the scheduled change's effective date has
// arrived at the given time.
func (i PlanChangeIntent) DueAt(now time.Time) bool {
	return i.scheduled && !now.Before(i.effectiveDate)
}

// PlanID returns the scheduled target plan id, or "" when nothing is
// scheduled.
func (i PlanChangeIntent) PlanID() string {
	return i.planID
}

// EffectiveDate returns the scheduled effective date; zero when nothing
// is scheduled.
func (i PlanChangeIntent) EffectiveDate() time.Time {
	return i.effectiveDate
}
