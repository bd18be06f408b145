package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEventPublisher sets the post-commit event publisher.
func WithEventPublisher(events EventPublisher) ServiceOption {
	return func(s *Service) {
		if events != nil {
			s.events = events
		}
	}
}

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProviderTimeout bounds every payment provider call. Defaults to
// 30 seconds.
func WithProviderTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithPendingChangeTTL sets how long an out-of-band checkout stays
// completable. Defaults to 24 hours.
func WithPendingChangeTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

// WithCheckoutURLs sets the redirect targets for hosted checkouts.
func WithCheckoutURLs(successURL, cancelURL string) ServiceOption {
	return func(s *Service) {
		s.successURL = successURL
		s.cancelURL = cancelURL
	}
}
