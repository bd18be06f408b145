package subscription

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an inbound webhook event from the payment
// processor, normalized across gateways.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.completed"
	EventSubscriptionCreated     EventType = "subscription.created"
	EventSubscriptionUpdated     EventType = "subscription.updated"
	EventSubscriptionDeleted     EventType = "subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventInvoiceVoided           EventType = "invoice.voided"
)

// BillingReasonCycle marks an invoice raised by the regular renewal
// cycle, as opposed to one raised by a mid-period change.
const BillingReasonCycle = "subscription_cycle"

// WebhookEvent is a normalized inbound event. The transport layer
// verifies the signature and parses the gateway payload into this
// shape before handing it to the Engine.
type WebhookEvent struct {
	ID   string // unique event id, the idempotency key
	Type EventType

	VendorSubscriptionID string
	VendorCustomerID     string
	CustomerID           uuid.UUID // local customer, resolved from checkout metadata when present

	// Subscription payload fields.
	ItemID            string
	Quantity          int
	PriceID           string
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CancelAt          *time.Time

	// Invoice payload, set for invoice.* events.
	Invoice *InvoiceEventData

	OccurredAt time.Time
}

// InvoiceEventData carries the invoice portion of an event.
type InvoiceEventData struct {
	InvoiceID     string
	BillingReason string
	AmountDue     int64
	Currency      string
	Lines         []InvoiceLine
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
}

// InvoiceLine is one line item on an invoice.
type InvoiceLine struct {
	Amount      int64
	Currency    string
	Proration   bool
	Description string
}

// ProrationAmount sums the invoice's prorated line amounts.
func (d *InvoiceEventData) ProrationAmount() int64 {
	var total int64
	for _, line := range d.Lines {
		if line.Proration {
			total += line.Amount
		}
	}
	return total
}

// HasProration reports whether any line item is a proration charge.
func (d *InvoiceEventData) HasProration() bool {
	for _, line := range d.Lines {
		if line.Proration {
			return true
		}
	}
	return false
}
