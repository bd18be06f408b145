package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeConfig holds the Stripe API credentials.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY,required"`
}

// StripeProvider implements Provider on top of the Stripe API.
type StripeProvider struct {
	client *client.API
}

// NewStripeProvider creates a Stripe-backed payment provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	return &StripeProvider{client: sc}, nil
}

// CreateCheckoutSession creates a one-off payment checkout for a
// prorated seat charge. The session uses ad-hoc price data so no
// catalog price has to exist for arbitrary proration amounts.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Customer:   stripe.String(params.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(params.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(params.Name),
						Description: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	for k, v := range params.Metadata {
		sessionParams.AddMetadata(k, v)
	}

	session, err := p.client.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateCheckoutSession, err)
	}

	return &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// UpdateSubscriptionQuantity sets the seat quantity on the subscription
// item, keeping the billing cycle anchor untouched when requested so a
// mid-period seat change never shifts the renewal date.
func (p *StripeProvider) UpdateSubscriptionQuantity(ctx context.Context, remoteSubID, itemID string, quantity int, proration ProrationMode, anchor AnchorMode) error {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(itemID),
				Quantity: stripe.Int64(int64(quantity)),
			},
		},
		ProrationBehavior: stripe.String(string(proration)),
	}
	applyAnchor(params, anchor)

	if _, err := p.client.Subscriptions.Update(remoteSubID, params); err != nil {
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}
	return nil
}

// UpdateSubscriptionPrice swaps the price on the subscription item.
func (p *StripeProvider) UpdateSubscriptionPrice(ctx context.Context, remoteSubID, itemID, priceID string, proration ProrationMode, anchor AnchorMode) error {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String(string(proration)),
	}
	applyAnchor(params, anchor)

	if _, err := p.client.Subscriptions.Update(remoteSubID, params); err != nil {
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}
	return nil
}

// CreateAndFinalizeInvoice invoices pending items on the subscription
// and attempts immediate collection. A zero or negative amount due is
// reported as success without finalizing anything.
func (p *StripeProvider) CreateAndFinalizeInvoice(ctx context.Context, customerID, remoteSubID, description string) (*InvoiceResult, error) {
	inv, err := p.client.Invoices.New(&stripe.InvoiceParams{
		Params:           stripe.Params{Context: ctx},
		Customer:         stripe.String(customerID),
		Subscription:     stripe.String(remoteSubID),
		Description:      stripe.String(description),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically)),
		AutoAdvance:      stripe.Bool(false),
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateInvoice, err)
	}

	if inv.AmountDue <= 0 {
		return &InvoiceResult{
			Success:       true,
			InvoiceID:     inv.ID,
			AmountCharged: 0,
			Currency:      strings.ToUpper(string(inv.Currency)),
			Status:        string(inv.Status),
		}, nil
	}

	finalized, err := p.client.Invoices.FinalizeInvoice(inv.ID, &stripe.InvoiceFinalizeInvoiceParams{
		Params:      stripe.Params{Context: ctx},
		AutoAdvance: stripe.Bool(true),
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateInvoice, err)
	}

	// AutoAdvance collects asynchronously in some cases; re-read to get
	// the settled status.
	settled, err := p.client.Invoices.Get(finalized.ID, &stripe.InvoiceParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateInvoice, err)
	}

	return &InvoiceResult{
		Success:       settled.Status == stripe.InvoiceStatusPaid,
		InvoiceID:     settled.ID,
		AmountCharged: settled.AmountPaid,
		Currency:      strings.ToUpper(string(settled.Currency)),
		Status:        string(settled.Status),
	}, nil
}

// RetrieveSubscription reads the remote subscription state.
func (p *StripeProvider) RetrieveSubscription(ctx context.Context, remoteSubID string) (*RemoteSubscription, error) {
	sub, err := p.client.Subscriptions.Get(remoteSubID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, errors.Join(ErrSubscriptionNotFound, err)
		}
		return nil, fmt.Errorf("retrieve subscription %s: %w", remoteSubID, err)
	}
	return mapStripeSubscription(sub), nil
}

// CheckPaymentMethodValid verifies the customer has a default payment
// method on file and, for cards, that it has not expired.
func (p *StripeProvider) CheckPaymentMethodValid(ctx context.Context, customerID string) (*PaymentMethodCheck, error) {
	cus, err := p.client.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, errors.Join(ErrCustomerNotFound, err)
		}
		return nil, fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}

	if cus.InvoiceSettings == nil || cus.InvoiceSettings.DefaultPaymentMethod == nil {
		return &PaymentMethodCheck{Valid: false, Reason: "no default payment method on file"}, nil
	}

	pm, err := p.client.PaymentMethods.Get(cus.InvoiceSettings.DefaultPaymentMethod.ID, &stripe.PaymentMethodParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment method: %w", err)
	}

	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		now := time.Now().UTC()
		expired := pm.Card.ExpYear < int64(now.Year()) ||
			(pm.Card.ExpYear == int64(now.Year()) && pm.Card.ExpMonth < int64(now.Month()))
		if expired {
			return &PaymentMethodCheck{Valid: false, Reason: "default card has expired"}, nil
		}
	}

	return &PaymentMethodCheck{Valid: true}, nil
}

// CheckPendingUnbilledCharges sums proration lines accrued on the
// upcoming invoice. Stripe returns resource_missing when there is no
// upcoming invoice at all, which simply means nothing is pending.
func (p *StripeProvider) CheckPendingUnbilledCharges(ctx context.Context, customerID, remoteSubID string) (*PendingCharges, error) {
	upcoming, err := p.client.Invoices.Upcoming(&stripe.InvoiceUpcomingParams{
		Params:       stripe.Params{Context: ctx},
		Customer:     stripe.String(customerID),
		Subscription: stripe.String(remoteSubID),
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeInvoiceUpcomingNone {
			return &PendingCharges{HasPending: false}, nil
		}
		return nil, fmt.Errorf("retrieve upcoming invoice: %w", err)
	}

	var total int64
	currency := strings.ToUpper(string(upcoming.Currency))
	if upcoming.Lines != nil {
		for _, line := range upcoming.Lines.Data {
			if line.Proration {
				total += line.Amount
			}
		}
	}

	return &PendingCharges{
		HasPending: total > 0,
		Amount:     total,
		Currency:   currency,
	}, nil
}

// CancelSubscription cancels at period end by default so the customer
// keeps access they already paid for; immediate cancellation is used
// for compensating rollbacks.
func (p *StripeProvider) CancelSubscription(ctx context.Context, remoteSubID string, immediately bool, metadata map[string]string) (*RemoteSubscription, error) {
	if immediately {
		params := &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: ctx},
		}
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		sub, err := p.client.Subscriptions.Cancel(remoteSubID, params)
		if err != nil {
			return nil, errors.Join(ErrFailedToCancelSubscription, err)
		}
		return mapStripeSubscription(sub), nil
	}

	params := &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	sub, err := p.client.Subscriptions.Update(remoteSubID, params)
	if err != nil {
		return nil, errors.Join(ErrFailedToCancelSubscription, err)
	}
	return mapStripeSubscription(sub), nil
}

func applyAnchor(params *stripe.SubscriptionParams, anchor AnchorMode) {
	switch anchor {
	case AnchorUnchanged:
		params.BillingCycleAnchorUnchanged = stripe.Bool(true)
	case AnchorNow:
		params.BillingCycleAnchorNow = stripe.Bool(true)
	}
}

func mapStripeSubscription(sub *stripe.Subscription) *RemoteSubscription {
	remote := &RemoteSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Currency: strings.ToUpper(string(sub.Currency)),
	}
	if sub.Customer != nil {
		remote.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		remote.ItemID = item.ID
		remote.Quantity = int(item.Quantity)
		if item.Price != nil {
			remote.PriceID = item.Price.ID
		}
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		remote.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		remote.CurrentPeriodEnd = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		remote.TrialEnd = &t
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0).UTC()
		remote.CancelAt = &t
	}
	return remote
}
