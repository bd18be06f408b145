package webhookin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// maxPayloadBytes bounds an inbound request body. Processor payloads
// are a few kilobytes; anything near the cap is hostile.
const maxPayloadBytes = 1 << 20

// EventSink consumes verified, deduplicated events.
type EventSink interface {
	HandleEvent(ctx context.Context, event *subscription.WebhookEvent) error
}

// Handler is the inbound webhook endpoint. Requests pass signature
// verification, envelope parsing and dedupe before reaching the sink.
type Handler struct {
	secret    string
	sink      EventSink
	deduper   Deduper
	log       *slog.Logger
	now       func() time.Time
	tolerance time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithTolerance sets the accepted signature timestamp window.
func WithTolerance(tolerance time.Duration) Option {
	return func(h *Handler) {
		if tolerance > 0 {
			h.tolerance = tolerance
		}
	}
}

// NewHandler creates the webhook endpoint. Secret, sink and deduper are
// required.
func NewHandler(secret string, sink EventSink, deduper Deduper, opts ...Option) *Handler {
	if secret == "" {
		panic("webhook secret is required")
	}
	if sink == nil {
		panic("event sink is required")
	}
	if deduper == nil {
		panic("deduper is required")
	}

	h := &Handler{
		secret:    secret,
		sink:      sink,
		deduper:   deduper,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		tolerance: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler, mountable on a chi router:
//
//	r.Post("/webhooks/billing", handler.ServeHTTP)
//
// Status codes drive the processor's retry policy: 400 rejects a
// request that will never verify, 200 acknowledges, 500 requests
// redelivery. The dedupe key is recorded only after the sink succeeds,
// so a redelivered failure is not mistaken for a duplicate.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, payload, r.Header.Get(SignatureHeader), h.tolerance, h.now()); err != nil {
		h.log.WarnContext(ctx, "rejected webhook with invalid signature", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, err := ParseEvent(payload)
	if err != nil {
		h.log.WarnContext(ctx, "rejected malformed webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	seen, err := h.deduper.Seen(ctx, event.ID)
	if err != nil {
		// Dedupe store outage: processing anyway would be safe (the sink
		// converges), but redelivery is cheaper than a split decision.
		h.log.ErrorContext(ctx, "webhook dedupe check failed", "event_id", event.ID, "error", err)
		http.Error(w, "dedupe unavailable", http.StatusInternalServerError)
		return
	}
	if seen {
		h.log.InfoContext(ctx, "acknowledging duplicate webhook event", "event_id", event.ID, "event_type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.sink.HandleEvent(ctx, event); err != nil {
		h.log.ErrorContext(ctx, "webhook event processing failed", "event_id", event.ID, "event_type", event.Type, "error", err)
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.deduper.Mark(ctx, event.ID); err != nil {
		// The event is already applied; a redelivery will be reprocessed
		// but every sink operation is idempotent.
		h.log.ErrorContext(ctx, "failed to record webhook dedupe key", "event_id", event.ID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

var _ http.Handler = (*Handler)(nil)
