package entitlement

import "errors"

var (
	ErrLimitExceeded       = errors.New("plan limit exceeded for resource")
	ErrUnknownResource     = errors.New("resource is not covered by the plan")
	ErrNoCounterRegistered = errors.New("no usage counter registered for resource")
	ErrUsageCountFailed    = errors.New("failed to count resource usage")
	ErrPlanTooSmall        = errors.New("current usage exceeds the target plan's limits")
)
