package entitlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// CounterFunc reports how many instances of a resource the customer
// currently has.
type CounterFunc func(ctx context.Context, customerID uuid.UUID) (int64, error)

// CounterRegistry maps resources to their usage counters. Populate it
// once at startup; it is not safe for concurrent mutation afterwards.
type CounterRegistry map[subscription.Resource]CounterFunc

func NewRegistry() CounterRegistry {
	return make(CounterRegistry)
}

func (r CounterRegistry) Register(res subscription.Resource, fn CounterFunc) {
	r[res] = fn
}
