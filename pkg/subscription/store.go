package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines the persistence interface for subscription
// records.
type SubscriptionStore interface {
	// Get retrieves a subscription by its local id.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByCustomerID retrieves the customer's subscription.
	GetByCustomerID(ctx context.Context, customerID uuid.UUID) (*Subscription, error)

	// GetByVendorSubscriptionID retrieves a subscription by the payment
	// processor's subscription id.
	GetByVendorSubscriptionID(ctx context.Context, vendorSubID string) (*Subscription, error)

	// Save creates or updates a subscription. The implementation uses ID
	// to determine whether it is an update.
	Save(ctx context.Context, sub *Subscription) error

	// TrySetSeatChangeInProgress atomically sets the seat-change lock if
	// it is not already held. Returns false when another change holds it;
	// a caller losing the race must abort, never proceed.
	TrySetSeatChangeInProgress(ctx context.Context, id uuid.UUID) (bool, error)

	// ClearSeatChangeInProgress unconditionally releases the lock.
	ClearSeatChangeInProgress(ctx context.Context, id uuid.UUID) error
}

// HistoryStore defines the persistence interface for the seat-change
// audit ledger. Records are append-then-settle; they are never deleted.
type HistoryStore interface {
	// Create appends a new audit record.
	Create(ctx context.Context, record *SeatChangeHistory) error

	// Update persists a status/settlement change to an existing record.
	Update(ctx context.Context, record *SeatChangeHistory) error

	// Get retrieves a record by id. Returns ErrHistoryNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*SeatChangeHistory, error)

	// FindByInvoiceID retrieves the record that carried the given vendor
	// invoice. Returns ErrHistoryNotFound when absent.
	FindByInvoiceID(ctx context.Context, vendorInvoiceID string) (*SeatChangeHistory, error)

	// FindRecentIncrease returns the most recent pending or completed
	// seat increase for the subscription created at or after since.
	// Returns ErrHistoryNotFound when none matches.
	FindRecentIncrease(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (*SeatChangeHistory, error)

	// ListBySubscription returns all records for a subscription, newest
	// first.
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*SeatChangeHistory, error)
}

// PendingSeatChange records a seat-change intent that could not be
// charged automatically and awaits out-of-band checkout completion. It
// lives outside the subscription row so an abandoned checkout never
// blocks later changes.
type PendingSeatChange struct {
	ID                uuid.UUID
	SubscriptionID    uuid.UUID
	CustomerID        uuid.UUID
	RequestedSeats    int
	Proration         Money
	HistoryID         uuid.UUID
	CheckoutSessionID string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the pending change is past its checkout
// window at the given time.
func (p *PendingSeatChange) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PendingChangeStore persists out-of-band seat-change intents.
type PendingChangeStore interface {
	// Create stores a new pending change.
	Create(ctx context.Context, pending *PendingSeatChange) error

	// Get retrieves a pending change by id.
	// Returns ErrPendingChangeNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*PendingSeatChange, error)

	// Delete removes a pending change once resolved or abandoned.
	Delete(ctx context.Context, id uuid.UUID) error
}
