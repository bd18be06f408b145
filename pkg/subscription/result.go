package subscription

import (
	"time"

	"github.com/google/uuid"
)

// FailureKind classifies why a public operation did not apply. The
// user-visible Message stays generic; the precise technical cause lives
// in the audit ledger and logs.
type FailureKind string

const (
	// FailureNone indicates success.
	FailureNone FailureKind = ""
	// FailurePrecondition: rejected before any state was mutated.
	FailurePrecondition FailureKind = "precondition"
	// FailurePayment: charge declined or not collectable.
	FailurePayment FailureKind = "payment"
	// FailureProvider: the payment processor call failed.
	FailureProvider FailureKind = "provider"
	// FailureCompensation: a rollback after a failed step itself failed;
	// local and remote state may have diverged.
	FailureCompensation FailureKind = "compensation"
	// FailureInternal: a local store or invariant failure.
	FailureInternal FailureKind = "internal"
)

// SeatChangeResult is the outcome of RequestSeatChange and
// CompletePendingSeatChange. Exactly one of Applied or RedirectURL is
// meaningful on success.
type SeatChangeResult struct {
	Applied     bool
	RedirectURL string // hosted checkout to complete payment out-of-band
	Seats       int    // seats purchased after the operation
	Charged     Money  // amount captured (zero for decreases and redirects)
	HistoryID   uuid.UUID
	Failure     FailureKind
	Message     string // human-readable, generic on failure
}

// OK reports whether the operation succeeded (applied or redirected).
func (r *SeatChangeResult) OK() bool {
	return r.Failure == FailureNone
}

func seatChangeFailure(kind FailureKind, message string) *SeatChangeResult {
	return &SeatChangeResult{Failure: kind, Message: message}
}

// PlanChangeResult is the outcome of the plan change operations.
type PlanChangeResult struct {
	Applied       bool       // upgrade applied immediately
	Scheduled     bool       // downgrade recorded for later
	EffectiveDate *time.Time // when a scheduled downgrade takes effect
	PlanID        string     // the plan now live, or scheduled

	// Set when the request conflicts with an existing scheduled
	// downgrade that must be cancelled first.
	ConflictPlanID string
	ConflictDate   *time.Time

	Failure FailureKind
	Message string
}

// OK reports whether the operation succeeded.
func (r *PlanChangeResult) OK() bool {
	return r.Failure == FailureNone
}

func planChangeFailure(kind FailureKind, message string) *PlanChangeResult {
	return &PlanChangeResult{Failure: kind, Message: message}
}

// CancelResult is the outcome of CancelSubscription.
type CancelResult struct {
	Cancelled bool
	EndsAt    *time.Time // when access ends (period end)
	Charged   Money      // pending proration collected before cancelling
	Failure   FailureKind
	Message   string
}

// OK reports whether the cancellation succeeded.
func (r *CancelResult) OK() bool {
	return r.Failure == FailureNone
}

func cancelFailure(kind FailureKind, message string) *CancelResult {
	return &CancelResult{Failure: kind, Message: message}
}

// Generic user-facing failure messages. The audit ledger keeps the raw
// cause; callers only ever see these.
const (
	msgNoActiveSubscription = "no active subscription found"
	msgChangeInProgress     = "another seat change is in progress, please try again shortly"
	msgBelowFloor           = "cannot reduce below seats in use"
	msgNoChange             = "requested seat count equals the current seat count"
	msgPaymentDeclined      = "payment declined, please try again or contact support"
	msgProviderUnavailable  = "billing service is temporarily unavailable, please try again"
	msgInternal             = "something went wrong, please contact support"
)
