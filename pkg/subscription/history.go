package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryStatus is the lifecycle state of a seat-change attempt.
type HistoryStatus string

const (
	HistoryPending   HistoryStatus = "pending"
	HistoryCompleted HistoryStatus = "completed"
	HistoryFailed    HistoryStatus = "failed"
	HistoryReverted  HistoryStatus = "reverted"
)

// PaymentStatus records how the money side of a seat change settled.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"     // proration charged and captured
	PaymentCredited PaymentStatus = "credited" // proration applied as credit on the next invoice
	PaymentVoided   PaymentStatus = "voided"   // prorated invoice voided before capture
)

// historyTransitions defines the legal status moves. Terminal states
// have no outgoing transitions; the ledger is immutable once settled.
// A pending record may be reverted directly when a payment failure
// arrives before the attempt completed.
var historyTransitions = map[HistoryStatus][]HistoryStatus{
	HistoryPending:   {HistoryCompleted, HistoryFailed, HistoryReverted},
	HistoryCompleted: {HistoryReverted},
	HistoryFailed:    {},
	HistoryReverted:  {},
}

// SeatChangeHistory is one append-only audit record per attempted seat
// change. It is the forensic trail used to explain chargebacks,
// exploited races and reverted charges; records are never deleted.
type SeatChangeHistory struct {
	ID              uuid.UUID
	SubscriptionID  uuid.UUID
	Actor           Actor
	OldSeats        int
	NewSeats        int
	Delta           int
	Proration       Money  // signed: positive charge, negative credit
	VendorInvoiceID string // invoice that carried the proration, when known
	Status          HistoryStatus
	PaymentStatus   PaymentStatus
	FailureReason   string // raw technical cause, retained for support diagnosis
	IP              string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSeatChangeHistory creates a pending audit record for an attempt.
func NewSeatChangeHistory(subscriptionID uuid.UUID, actor Actor, oldSeats, newSeats int, proration Money, ip string) *SeatChangeHistory {
	now := time.Now().UTC()
	return &SeatChangeHistory{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Actor:          actor,
		OldSeats:       oldSeats,
		NewSeats:       newSeats,
		Delta:          newSeats - oldSeats,
		Proration:      proration,
		Status:         HistoryPending,
		IP:             ip,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the record has settled.
func (h *SeatChangeHistory) IsTerminal() bool {
	return len(historyTransitions[h.Status]) == 0
}

// CanTransition reports whether moving to the given status is legal.
func (h *SeatChangeHistory) CanTransition(to HistoryStatus) bool {
	for _, allowed := range historyTransitions[h.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the record to the given status, or returns
// ErrInvalidHistoryTransition when the move would mutate a settled
// record or skip a state.
func (h *SeatChangeHistory) Transition(to HistoryStatus) error {
	if !h.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidHistoryTransition, h.Status, to)
	}
	h.Status = to
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// IsIncrease reports whether the record describes a seat increase.
func (h *SeatChangeHistory) IsIncrease() bool {
	return h.Delta > 0
}
