package billing

import (
	"context"
	"time"
)

// ProrationMode controls whether a remote subscription mutation creates
// prorated invoice lines or adjusts silently.
type ProrationMode string

const (
	ProrationCreate ProrationMode = "create_prorations"
	ProrationNone   ProrationMode = "none"
)

// AnchorMode controls the billing cycle anchor of a remote mutation.
// AnchorUnchanged keeps the renewal date; AnchorNow restarts the cycle.
type AnchorMode string

const (
	AnchorUnchanged AnchorMode = "unchanged"
	AnchorNow       AnchorMode = "now"
)

// Provider is the payment collaborator abstraction consumed by the
// subscription engine. Implementations wrap a concrete gateway SDK and
// handle gateway-specific quirks internally; the engine never sees raw
// gateway objects, only the normalized types below.
type Provider interface {
	// CreateCheckoutSession creates a hosted payment page for an ad-hoc
	// charge (issued when the customer has no chargeable payment method
	// on file and must complete payment out-of-band).
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// UpdateSubscriptionQuantity sets the seat quantity on a remote
	// subscription item.
	UpdateSubscriptionQuantity(ctx context.Context, remoteSubID, itemID string, quantity int, proration ProrationMode, anchor AnchorMode) error

	// UpdateSubscriptionPrice swaps the price on a remote subscription
	// item (plan upgrade/downgrade).
	UpdateSubscriptionPrice(ctx context.Context, remoteSubID, itemID, priceID string, proration ProrationMode, anchor AnchorMode) error

	// CreateAndFinalizeInvoice immediately invoices any pending items on
	// the remote subscription and attempts collection. A declined charge
	// is reported through InvoiceResult.Success, not an error; errors are
	// reserved for transport/gateway failures.
	CreateAndFinalizeInvoice(ctx context.Context, customerID, remoteSubID, description string) (*InvoiceResult, error)

	// RetrieveSubscription reads the remote subscription, the source of
	// truth for seat quantity and billing period boundaries.
	RetrieveSubscription(ctx context.Context, remoteSubID string) (*RemoteSubscription, error)

	// CheckPaymentMethodValid reports whether the customer has a
	// chargeable default payment method on file.
	CheckPaymentMethodValid(ctx context.Context, customerID string) (*PaymentMethodCheck, error)

	// CheckPendingUnbilledCharges reports prorated charges accrued on the
	// upcoming invoice that have not been collected yet.
	CheckPendingUnbilledCharges(ctx context.Context, customerID, remoteSubID string) (*PendingCharges, error)

	// CancelSubscription schedules cancellation at period end (or cancels
	// immediately) and returns the post-cancel remote state.
	CancelSubscription(ctx context.Context, remoteSubID string, immediately bool, metadata map[string]string) (*RemoteSubscription, error)
}

// CheckoutParams describes an ad-hoc hosted checkout for a prorated
// seat charge.
type CheckoutParams struct {
	CustomerID  string
	PriceID     string // catalog price, for gateways that cannot charge ad-hoc amounts
	Amount      int64  // minor currency units
	Currency    string
	Name        string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession is a hosted payment page the caller redirects to.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// InvoiceResult is the outcome of an immediate invoice-and-collect.
type InvoiceResult struct {
	Success       bool
	InvoiceID     string
	AmountCharged int64 // minor currency units
	Currency      string
	Status        string // gateway invoice status (paid, open, ...)
}

// RemoteSubscription is the normalized view of the gateway's
// subscription object.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	ItemID             string // the single subscription item carrying seats
	PriceID            string
	Quantity           int
	Status             string
	Currency           string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	CancelAt           *time.Time
}

// PaymentMethodCheck reports whether a customer can be charged without
// further interaction.
type PaymentMethodCheck struct {
	Valid  bool
	Reason string // human-readable reason when invalid
}

// PendingCharges reports uncollected proration accrued on the upcoming
// invoice.
type PendingCharges struct {
	HasPending bool
	Amount     int64 // minor currency units
	Currency   string
}
