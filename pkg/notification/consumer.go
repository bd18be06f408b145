package notification

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// Recipient is where billing notifications for a customer go.
type Recipient struct {
	Name  string
	Email string
}

// CustomerDirectory resolves a customer id to a mail recipient.
type CustomerDirectory interface {
	RecipientFor(ctx context.Context, customerID uuid.UUID) (Recipient, error)
}

// Consumer turns post-commit billing events into customer email. It is
// strictly best-effort: a failed send is logged and dropped, never
// retried into the billing path.
type Consumer struct {
	sub       *Subscription[subscription.ChangeEvent]
	sender    EmailSender
	directory CustomerDirectory
	catalog   *subscription.Catalog
	product   string
	log       *slog.Logger
}

// NewConsumer creates the email consumer and attaches it to the hub
// immediately, so events published between construction and Run are
// buffered rather than dropped. All collaborators are required.
func NewConsumer(hub *Hub[subscription.ChangeEvent], sender EmailSender, directory CustomerDirectory, catalog *subscription.Catalog, product string, log *slog.Logger) *Consumer {
	if hub == nil {
		panic("event hub is required")
	}
	if sender == nil {
		panic("email sender is required")
	}
	if directory == nil {
		panic("customer directory is required")
	}
	if catalog == nil {
		panic("plan catalog is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		sub:       hub.Subscribe(context.Background()),
		sender:    sender,
		directory: directory,
		catalog:   catalog,
		product:   product,
		log:       log,
	}
}

// Run drains the subscription taken at construction until ctx is
// cancelled or the hub closes.
func (c *Consumer) Run(ctx context.Context) {
	defer c.sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.sub.C():
			if !ok {
				return
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, event subscription.ChangeEvent) {
	var params SendEmailParams
	switch event.Kind {
	case subscription.EventSubscriptionActivated:
		params = c.welcomeMail(event)
	case subscription.EventSeatChangeReverted:
		params = c.revertedMail(event)
	default:
		return
	}

	recipient, err := c.directory.RecipientFor(ctx, event.CustomerID)
	if err != nil {
		c.log.ErrorContext(ctx, "failed to resolve notification recipient",
			"customer_id", event.CustomerID, "event_kind", event.Kind, "error", err)
		return
	}
	params.SendTo = recipient.Email

	if err := c.sender.SendEmail(ctx, params); err != nil {
		c.log.ErrorContext(ctx, "failed to send billing notification",
			"customer_id", event.CustomerID, "event_kind", event.Kind, "error", err)
		return
	}
	c.log.InfoContext(ctx, "billing notification sent",
		"customer_id", event.CustomerID, "event_kind", event.Kind)
}

func (c *Consumer) welcomeMail(event subscription.ChangeEvent) SendEmailParams {
	planName := event.PlanID
	if plan, err := c.catalog.ByID(event.PlanID); err == nil {
		planName = plan.Name
	}
	return SendEmailParams{
		Subject: fmt.Sprintf("Welcome to %s", c.product),
		Tag:     "subscription-welcome",
		BodyHTML: fmt.Sprintf(
			"<p>Your %s subscription on the %s plan is active with %d seat(s).</p>",
			html.EscapeString(c.product), html.EscapeString(planName), event.Seats,
		),
	}
}

func (c *Consumer) revertedMail(event subscription.ChangeEvent) SendEmailParams {
	return SendEmailParams{
		Subject: fmt.Sprintf("%s: seat change payment failed", c.product),
		Tag:     "seat-change-reverted",
		BodyHTML: fmt.Sprintf(
			"<p>The payment for your seat change could not be collected. Your subscription has been returned to %d seat(s). Please update your payment method and try again.</p>",
			event.Seats,
		),
	}
}
