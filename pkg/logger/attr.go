package logger

import "log/slog"

// Attribute constructors keep key naming consistent across the billing
// codebase so log aggregation queries never chase spelling variants.

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records a single error under the key "error". Nil yields an
// empty Attr so callers can log unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// CustomerID records the customer identifier under "customer_id".
func CustomerID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("customer_id", id)
}

// SubscriptionID records the subscription identifier under
// "subscription_id".
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// PlanID records the plan identifier under "plan_id".
func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// Seats records a seat count under "seats".
func Seats(n int) slog.Attr {
	return slog.Int("seats", n)
}

// InvoiceID records the vendor invoice identifier under "invoice_id".
func InvoiceID(id string) slog.Attr {
	return slog.String("invoice_id", id)
}

// EventID records the webhook event identifier under "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records the webhook event type under "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Amount records a minor-unit money amount under "amount".
func Amount(amount int64) slog.Attr {
	return slog.Int64("amount", amount)
}

// Currency records an ISO currency code under "currency".
func Currency(code string) slog.Attr {
	return slog.String("currency", code)
}

// RequestID records the request identifier under "request_id".
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// Duration records a duration under "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// CompensationFailed marks log records describing a failed compensating
// transaction; alerting keys off this attribute.
func CompensationFailed() slog.Attr {
	return slog.Bool("compensation_failed", true)
}
