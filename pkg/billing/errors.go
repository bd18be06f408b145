package billing

import "errors"

var (
	// ErrFailedToCreateCheckoutSession is returned when the gateway
	// rejects a hosted checkout creation request.
	ErrFailedToCreateCheckoutSession = errors.New("failed to create checkout session")

	// ErrFailedToUpdateSubscription is returned when a remote
	// subscription mutation (quantity or price) fails.
	ErrFailedToUpdateSubscription = errors.New("failed to update subscription")

	// ErrFailedToCreateInvoice is returned when an immediate invoice
	// could not be created or finalized at the gateway.
	ErrFailedToCreateInvoice = errors.New("failed to create invoice")

	// ErrSubscriptionNotFound is returned when the remote subscription
	// does not exist at the gateway.
	ErrSubscriptionNotFound = errors.New("subscription not found at gateway")

	// ErrCustomerNotFound is returned when the remote customer does not
	// exist at the gateway.
	ErrCustomerNotFound = errors.New("customer not found at gateway")

	// ErrFailedToCancelSubscription is returned when cancellation at the
	// gateway fails.
	ErrFailedToCancelSubscription = errors.New("failed to cancel subscription")

	// ErrOperationNotSupported is returned by providers that do not
	// implement a given capability (e.g. gateways whose seat changes are
	// managed exclusively through their hosted portal).
	ErrOperationNotSupported = errors.New("operation not supported by this payment provider")
)
