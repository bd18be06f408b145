package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds the Paddle API credentials.
type PaddleConfig struct {
	APIKey      string `env:"PADDLE_API_KEY,required"`
	Environment string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle. Paddle manages seat
// and plan changes through its hosted customer portal rather than
// direct API mutation, so the mutation methods report
// ErrOperationNotSupported and callers should redirect the customer to
// the portal link instead.
type PaddleProvider struct {
	client *paddle.SDK
}

// NewPaddleProvider creates a Paddle-backed payment provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var (
		sdk *paddle.SDK
		err error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{client: sdk}, nil
}

// CreateCheckoutSession creates a Paddle transaction with a hosted
// checkout. Paddle charges against catalog prices, so PriceID is
// required here.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if params.PriceID == "" {
		return nil, errors.Join(ErrFailedToCreateCheckoutSession, errors.New("paddle checkout requires a catalog price ID"))
	}
	if params.CustomerID == "" {
		return nil, errors.Join(ErrFailedToCreateCheckoutSession, errors.New("customer ID is required"))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{"customer_id": params.CustomerID}
	for k, v := range params.Metadata {
		custom[k] = v
	}

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if params.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(params.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateCheckoutSession, err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.Join(ErrFailedToCreateCheckoutSession, errors.New("no checkout URL returned from paddle"))
	}

	return &CheckoutSession{
		ID:  transaction.ID,
		URL: *transaction.Checkout.URL,
		// Paddle checkout links expire after 24 hours.
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

// CustomerPortalURL returns a link to Paddle's hosted customer portal,
// where seat and plan changes are performed for Paddle subscriptions.
func (p *PaddleProvider) CustomerPortalURL(ctx context.Context, customerID, remoteSubID string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer ID is required")
	}

	req := &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	}
	if remoteSubID != "" {
		req.SubscriptionIDs = []string{remoteSubID}
	}

	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}

	return session.URLs.General.Overview, nil
}

// UpdateSubscriptionQuantity is not available for Paddle; seat changes
// go through the customer portal.
func (p *PaddleProvider) UpdateSubscriptionQuantity(_ context.Context, _, _ string, _ int, _ ProrationMode, _ AnchorMode) error {
	return ErrOperationNotSupported
}

// UpdateSubscriptionPrice is not available for Paddle; plan changes go
// through the customer portal.
func (p *PaddleProvider) UpdateSubscriptionPrice(_ context.Context, _, _, _ string, _ ProrationMode, _ AnchorMode) error {
	return ErrOperationNotSupported
}

// CreateAndFinalizeInvoice is not available for Paddle; Paddle bills
// transactions at creation time.
func (p *PaddleProvider) CreateAndFinalizeInvoice(_ context.Context, _, _, _ string) (*InvoiceResult, error) {
	return nil, ErrOperationNotSupported
}

// RetrieveSubscription is not available through this provider.
func (p *PaddleProvider) RetrieveSubscription(_ context.Context, _ string) (*RemoteSubscription, error) {
	return nil, ErrOperationNotSupported
}

// CheckPaymentMethodValid is not available for Paddle; payment methods
// are managed inside Paddle's checkout.
func (p *PaddleProvider) CheckPaymentMethodValid(_ context.Context, _ string) (*PaymentMethodCheck, error) {
	return nil, ErrOperationNotSupported
}

// CheckPendingUnbilledCharges is not available for Paddle.
func (p *PaddleProvider) CheckPendingUnbilledCharges(_ context.Context, _, _ string) (*PendingCharges, error) {
	return nil, ErrOperationNotSupported
}

// CancelSubscription is not available for Paddle; cancellation goes
// through the customer portal.
func (p *PaddleProvider) CancelSubscription(_ context.Context, _ string, _ bool, _ map[string]string) (*RemoteSubscription, error) {
	return nil, ErrOperationNotSupported
}

var _ Provider = (*PaddleProvider)(nil)
var _ Provider = (*StripeProvider)(nil)
