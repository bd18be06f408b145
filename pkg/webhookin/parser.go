package webhookin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// envelope is the normalized wire format for inbound events. Gateway
// adapters translate processor payloads into this shape before they
// reach the endpoint.
type envelope struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Sub        *envelopeSub     `json:"subscription,omitempty"`
	Invoice    *envelopeInvoice `json:"invoice,omitempty"`
}

type envelopeSub struct {
	VendorSubscriptionID string     `json:"vendor_subscription_id"`
	VendorCustomerID     string     `json:"vendor_customer_id,omitempty"`
	CustomerID           string     `json:"customer_id,omitempty"`
	ItemID               string     `json:"item_id,omitempty"`
	Quantity             int        `json:"quantity,omitempty"`
	PriceID              string     `json:"price_id,omitempty"`
	Status               string     `json:"status,omitempty"`
	PeriodStart          *time.Time `json:"period_start,omitempty"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end,omitempty"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
}

type envelopeInvoice struct {
	InvoiceID     string         `json:"invoice_id"`
	BillingReason string         `json:"billing_reason,omitempty"`
	AmountDue     int64          `json:"amount_due,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	PeriodStart   *time.Time     `json:"period_start,omitempty"`
	PeriodEnd     *time.Time     `json:"period_end,omitempty"`
	Lines         []envelopeLine `json:"lines,omitempty"`
}

type envelopeLine struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Proration   bool   `json:"proration,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParseEvent decodes a normalized event payload.
func ParseEvent(payload []byte) (*subscription.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}

	event := &subscription.WebhookEvent{
		ID:         env.ID,
		Type:       subscription.EventType(env.Type),
		OccurredAt: env.OccurredAt,
	}

	if env.Sub != nil {
		event.VendorSubscriptionID = env.Sub.VendorSubscriptionID
		event.VendorCustomerID = env.Sub.VendorCustomerID
		event.ItemID = env.Sub.ItemID
		event.Quantity = env.Sub.Quantity
		event.PriceID = env.Sub.PriceID
		event.Status = env.Sub.Status
		event.PeriodStart = env.Sub.PeriodStart
		event.PeriodEnd = env.Sub.PeriodEnd
		event.TrialEnd = env.Sub.TrialEnd
		event.CancelAtPeriodEnd = env.Sub.CancelAtPeriodEnd
		event.CancelAt = env.Sub.CancelAt
		if env.Sub.CustomerID != "" {
			customerID, err := uuid.Parse(env.Sub.CustomerID)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed customer id %q", ErrInvalidPayload, env.Sub.CustomerID)
			}
			event.CustomerID = customerID
		}
	}

	if env.Invoice != nil {
		inv := &subscription.InvoiceEventData{
			InvoiceID:     env.Invoice.InvoiceID,
			BillingReason: env.Invoice.BillingReason,
			AmountDue:     env.Invoice.AmountDue,
			Currency:      env.Invoice.Currency,
			PeriodStart:   env.Invoice.PeriodStart,
			PeriodEnd:     env.Invoice.PeriodEnd,
		}
		for _, line := range env.Invoice.Lines {
			inv.Lines = append(inv.Lines, subscription.InvoiceLine{
				Amount:      line.Amount,
				Currency:    line.Currency,
				Proration:   line.Proration,
				Description: line.Description,
			})
		}
		event.Invoice = inv
	}

	return event, nil
}
