package subscription

import (
	"time"

	"github.com/google/uuid"
)

// ChangeEventKind tags a post-commit domain event.
type ChangeEventKind string

const (
	// EventSubscriptionActivated fires after a new subscription record is
	// created from a confirmed checkout; consumers send the welcome mail.
	EventSubscriptionActivated ChangeEventKind = "subscription.activated"
	// EventSeatChangeCompleted fires after a seat change committed.
	EventSeatChangeCompleted ChangeEventKind = "seat_change.completed"
	// EventSeatChangeReverted fires after a compensating seat reversion;
	// consumers notify the customer their payment failed.
	EventSeatChangeReverted ChangeEventKind = "seat_change.reverted"
	// EventPlanChanged fires after a plan switch becomes live.
	EventPlanChanged ChangeEventKind = "plan.changed"
	// EventSubscriptionCancelled fires after a cancellation is recorded.
	EventSubscriptionCancelled ChangeEventKind = "subscription.cancelled"
)

// ChangeEvent is emitted after the authoritative state transition has
// been persisted. Consumers run asynchronously; their failure cannot
// affect the transaction that produced the event.
type ChangeEvent struct {
	Kind           ChangeEventKind
	SubscriptionID uuid.UUID
	CustomerID     uuid.UUID
	PlanID         string
	Seats          int
	OldSeats       int
	Amount         Money
	OccurredAt     time.Time
}

// EventPublisher delivers post-commit events to interested consumers.
// Publish must not block and must not return errors into the caller's
// path.
type EventPublisher interface {
	Publish(event ChangeEvent)
}

// noopPublisher drops events; used when no publisher is configured.
type noopPublisher struct{}

func (noopPublisher) Publish(ChangeEvent) {}
