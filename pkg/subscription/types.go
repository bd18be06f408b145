package subscription

// Resource represents a countable customer resource constrained by plan limits.
type Resource string

const (
	ResourceSeats     Resource = "seats"
	ResourceCampaigns Resource = "campaigns"
	ResourceLeads     Resource = "leads"
	ResourceEmails    Resource = "emails"
	ResourceStorage   Resource = "storage" // Measured in GB
	ResourceDomains   Resource = "domains"
)

const (
	// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// BillingCycle represents the billing frequency of a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "month"
	CycleYearly  BillingCycle = "year"
)

// Valid reports whether the cycle is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Status represents the current state of a subscription.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Actor identifies who initiated a seat change.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorSystem Actor = "system"
)
