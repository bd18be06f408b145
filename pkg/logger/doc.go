// Package logger is a context-aware slog factory for the billing
// services. New builds a *slog.Logger from functional options (format,
// level, static attributes, per-environment defaults) and wraps the
// handler so registered ContextExtractor callbacks can inject
// request-scoped values into every record.
//
//	log := logger.New(
//		logger.WithProduction("billing"),
//		logger.WithContextValue("request_id", ctxKeyRequestID),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "seat change committed",
//		logger.SubscriptionID(sub.ID),
//		logger.Seats(sub.SeatsPurchased),
//	)
//
// Attribute constructors in attr.go fix the key vocabulary used across
// the codebase (customer_id, subscription_id, invoice_id, event_id,
// compensation_failed and friends) so aggregation queries stay stable.
package logger
