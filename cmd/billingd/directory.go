package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EcMarius/numz.ai-sub009/pkg/notification"
	"github.com/EcMarius/numz.ai-sub009/pkg/pg"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
)

// pgDirectory resolves customers from the customers table: mail
// recipients for the notification consumer and vendor-id mappings for
// the webhook engine.
type pgDirectory struct {
	pool *pgxpool.Pool
}

var (
	_ notification.CustomerDirectory = (*pgDirectory)(nil)
	_ subscription.CustomerResolver  = (*pgDirectory)(nil)
)

func customerDirectory(pool *pgxpool.Pool) *pgDirectory {
	return &pgDirectory{pool: pool}
}

func (d *pgDirectory) RecipientFor(ctx context.Context, customerID uuid.UUID) (notification.Recipient, error) {
	var r notification.Recipient
	err := d.pool.QueryRow(ctx,
		`SELECT name, email FROM customers WHERE id = $1`,
		customerID,
	).Scan(&r.Name, &r.Email)
	if pg.IsNotFoundError(err) {
		return notification.Recipient{}, fmt.Errorf("unknown customer %s", customerID)
	}
	if err != nil {
		return notification.Recipient{}, err
	}
	return r, nil
}

func (d *pgDirectory) CustomerByVendorID(ctx context.Context, vendorCustomerID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx,
		`SELECT id FROM customers WHERE vendor_customer_id = $1`,
		vendorCustomerID,
	).Scan(&id)
	if pg.IsNotFoundError(err) {
		return uuid.Nil, subscription.ErrCustomerNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
