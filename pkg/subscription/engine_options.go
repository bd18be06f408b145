package subscription

import (
	"log/slog"
	"time"
)

// EngineOption configures optional Engine behavior.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithOrgCleaner sets the organization teardown collaborator invoked
// when a seated subscription is deleted.
func WithOrgCleaner(cleaner OrgCleaner) EngineOption {
	return func(e *Engine) {
		if cleaner != nil {
			e.cleaner = cleaner
		}
	}
}

// WithCustomerResolver sets the collaborator that maps vendor customer
// ids to local customers when a creation event carries no local id.
// Without one, such events are refused rather than creating orphans.
func WithCustomerResolver(resolver CustomerResolver) EngineOption {
	return func(e *Engine) {
		if resolver != nil {
			e.customers = resolver
		}
	}
}

// WithLimitEnforcer sets the collaborator that applies downgraded plan
// allowances.
func WithLimitEnforcer(enforcer LimitEnforcer) EngineOption {
	return func(e *Engine) {
		if enforcer != nil {
			e.enforcer = enforcer
		}
	}
}

// WithEngineEventPublisher sets the post-commit event publisher.
func WithEngineEventPublisher(events EventPublisher) EngineOption {
	return func(e *Engine) {
		if events != nil {
			e.events = events
		}
	}
}

// WithEngineNowFunc overrides the clock, for deterministic tests.
func WithEngineNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEngineProviderTimeout bounds payment provider calls made during
// reconciliation. Defaults to 30 seconds.
func WithEngineProviderTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.providerTimeout = d
		}
	}
}

// WithCompensationWindow sets how far back the payment-failure
// compensation path looks for a matching seat increase when the invoice
// id alone cannot identify one. Defaults to one hour.
func WithCompensationWindow(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.compensationWindow = d
		}
	}
}
