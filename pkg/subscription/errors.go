package subscription

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrCustomerNotFound     = errors.New("customer not found")

	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrHistoryNotFound          = errors.New("seat change history record not found")
	ErrInvalidHistoryTransition = errors.New("invalid seat change history transition")

	ErrPendingChangeNotFound = errors.New("pending seat change not found")
)
