package entitlement

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// SubscriptionSource provides the customer's subscription, whose live
// limits snapshot is the authority for every check. The snapshot moves
// with the subscription, so a downgrade applied at a cycle boundary is
// enforced here without any cache to invalidate.
type SubscriptionSource interface {
	GetByCustomerID(ctx context.Context, customerID uuid.UUID) (*subscription.Subscription, error)
}

// UsageInfo is the current usage and limit for one resource.
type UsageInfo struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
}

// Service gates resource creation against the customer's live plan
// limits.
type Service struct {
	subs     SubscriptionSource
	counters CounterRegistry
}

// NewService creates an entitlement service. The subscription source is
// required; a nil registry is replaced with an empty one.
func NewService(subs SubscriptionSource, counters CounterRegistry) *Service {
	if subs == nil {
		panic("entitlement: subscription source is required")
	}
	if counters == nil {
		counters = NewRegistry()
	}
	return &Service{subs: subs, counters: counters}
}

// CanCreate reports whether the customer may create one more instance
// of the resource under their current plan limits.
func (s *Service) CanCreate(ctx context.Context, customerID uuid.UUID, res subscription.Resource) error {
	limit, err := s.limitFor(ctx, customerID, res)
	if err != nil {
		return err
	}
	if limit == subscription.Unlimited {
		return nil
	}

	current, err := s.count(ctx, customerID, res)
	if err != nil {
		return err
	}
	if current >= limit {
		return ErrLimitExceeded
	}
	return nil
}

// Usage returns the current usage and limit for a resource.
func (s *Service) Usage(ctx context.Context, customerID uuid.UUID, res subscription.Resource) (used, limit int64, err error) {
	limit, err = s.limitFor(ctx, customerID, res)
	if err != nil {
		return 0, 0, err
	}
	used, err = s.count(ctx, customerID, res)
	if err != nil {
		return 0, 0, err
	}
	return used, limit, nil
}

// UsagePercent returns usage as a percentage clamped to 0-100, or -1
// for an unlimited resource. Errors collapse to zero; this is a
// dashboard convenience, not an enforcement point.
func (s *Service) UsagePercent(ctx context.Context, customerID uuid.UUID, res subscription.Resource) int {
	used, limit, err := s.Usage(ctx, customerID, res)
	if err != nil {
		return 0
	}
	if limit == subscription.Unlimited {
		return -1
	}
	if limit == 0 {
		return 100
	}
	return min(int((used*100)/limit), 100)
}

// AllUsage returns usage for every resource in the customer's plan.
// Resources without a registered counter report zero usage rather than
// failing the whole call.
func (s *Service) AllUsage(ctx context.Context, customerID uuid.UUID) (map[subscription.Resource]UsageInfo, error) {
	sub, err := s.subs.GetByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := make(map[subscription.Resource]UsageInfo, len(sub.Limits))
	for res, limit := range sub.Limits {
		info := UsageInfo{Limit: limit}
		if counter, ok := s.counters[res]; ok {
			if current, err := counter(ctx, customerID); err == nil {
				info.Current = current
			}
		}
		result[res] = info
	}
	return result, nil
}

// CanFitPlan reports whether the customer's current usage fits within
// the target plan's limits. It is advisory: a scheduled downgrade still
// takes effect even when usage is over, with the excess disabled or
// archived at the boundary.
func (s *Service) CanFitPlan(ctx context.Context, customerID uuid.UUID, target *subscription.Plan) error {
	sub, err := s.subs.GetByCustomerID(ctx, customerID)
	if err != nil {
		return err
	}

	for res, targetLimit := range target.Limits {
		if targetLimit == subscription.Unlimited {
			continue
		}
		currentLimit, ok := sub.Limits[res]
		if !ok {
			continue
		}
		if currentLimit != subscription.Unlimited && currentLimit <= targetLimit {
			continue
		}
		counter, ok := s.counters[res]
		if !ok {
			// Cannot verify without a counter, so allow.
			continue
		}
		current, err := counter(ctx, customerID)
		if err != nil {
			return errors.Join(ErrUsageCountFailed, err)
		}
		if current > targetLimit {
			return ErrPlanTooSmall
		}
	}
	return nil
}

func (s *Service) limitFor(ctx context.Context, customerID uuid.UUID, res subscription.Resource) (int64, error) {
	sub, err := s.subs.GetByCustomerID(ctx, customerID)
	if err != nil {
		return 0, err
	}
	limit, ok := sub.Limits[res]
	if !ok {
		return 0, ErrUnknownResource
	}
	return limit, nil
}

func (s *Service) count(ctx context.Context, customerID uuid.UUID, res subscription.Resource) (int64, error) {
	counter, ok := s.counters[res]
	if !ok {
		return 0, ErrNoCounterRegistered
	}
	current, err := counter(ctx, customerID)
	if err != nil {
		return 0, errors.Join(ErrUsageCountFailed, err)
	}
	return current, nil
}
