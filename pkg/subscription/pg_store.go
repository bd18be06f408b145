package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EcMarius/numz.ai-sub009/pkg/pg"
)

// PostgresSubscriptionStore implements SubscriptionStore on pgx. The
// PlanChangeIntent variant is serialized to three nullable columns at
// this boundary; the domain type never leaks the column layout.
type PostgresSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionStore creates a store backed by the given pool.
func NewPostgresSubscriptionStore(pool *pgxpool.Pool) *PostgresSubscriptionStore {
	if pool == nil {
		panic("pgx pool is required")
	}
	return &PostgresSubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	id, customer_id, plan_id, vendor_customer_id, vendor_subscription_id, vendor_item_id,
	cycle, status, seats_purchased, seats_used, seat_change_in_progress,
	current_period_start, current_period_end, trial_ends_at,
	scheduled_plan_id, scheduled_plan_date, scheduled_plan_limits,
	plan_limits, pending_proration_amount, pending_invoice_id,
	last_seat_change_at, cancelled_at, ends_at, cancellation_reason, cancellation_details,
	created_at, updated_at`

func (s *PostgresSubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.getBy(ctx, "id = $1", id)
}

func (s *PostgresSubscriptionStore) GetByCustomerID(ctx context.Context, customerID uuid.UUID) (*Subscription, error) {
	return s.getBy(ctx, "customer_id = $1", customerID)
}

func (s *PostgresSubscriptionStore) GetByVendorSubscriptionID(ctx context.Context, vendorSubID string) (*Subscription, error) {
	return s.getBy(ctx, "vendor_subscription_id = $1", vendorSubID)
}

func (s *PostgresSubscriptionStore) getBy(ctx context.Context, where string, arg any) (*Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE %s`, subscriptionColumns, where)
	row := s.pool.QueryRow(ctx, query, arg)
	return scanSubscription(row)
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub             Subscription
		scheduledPlanID *string
		scheduledDate   *time.Time
		scheduledLimits []byte
		liveLimits      []byte
	)
	err := row.Scan(
		&sub.ID, &sub.CustomerID, &sub.PlanID, &sub.VendorCustomerID, &sub.VendorSubscriptionID, &sub.VendorItemID,
		&sub.Cycle, &sub.Status, &sub.SeatsPurchased, &sub.SeatsUsed, &sub.SeatChangeInProgress,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEndsAt,
		&scheduledPlanID, &scheduledDate, &scheduledLimits,
		&liveLimits, &sub.PendingProrationAmount, &sub.PendingInvoiceID,
		&sub.LastSeatChangeAt, &sub.CancelledAt, &sub.EndsAt, &sub.CancellationReason, &sub.CancellationDetails,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	if liveLimits != nil {
		if err := json.Unmarshal(liveLimits, &sub.Limits); err != nil {
			return nil, fmt.Errorf("decode plan limits: %w", err)
		}
	}
	if scheduledPlanID != nil && scheduledDate != nil {
		var limits map[Resource]int64
		if scheduledLimits != nil {
			if err := json.Unmarshal(scheduledLimits, &limits); err != nil {
				return nil, fmt.Errorf("decode scheduled plan limits: %w", err)
			}
		}
		sub.PlanChange = ScheduledDowngrade(*scheduledPlanID, *scheduledDate, limits)
	} else {
		sub.PlanChange = NoPlanChange()
	}
	return &sub, nil
}

func (s *PostgresSubscriptionStore) Save(ctx context.Context, sub *Subscription) error {
	var (
		scheduledPlanID *string
		scheduledDate   *time.Time
		scheduledLimits []byte
	)
	if planID, date, limits, ok := sub.PlanChange.Downgrade(); ok {
		scheduledPlanID = &planID
		scheduledDate = &date
		encoded, err := json.Marshal(limits)
		if err != nil {
			return fmt.Errorf("encode scheduled plan limits: %w", err)
		}
		scheduledLimits = encoded
	}

	liveLimits, err := json.Marshal(sub.Limits)
	if err != nil {
		return fmt.Errorf("encode plan limits: %w", err)
	}

	// seat_change_in_progress is deliberately absent: the lock is owned
	// by the CAS methods below.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			id, customer_id, plan_id, vendor_customer_id, vendor_subscription_id, vendor_item_id,
			cycle, status, seats_purchased, seats_used,
			current_period_start, current_period_end, trial_ends_at,
			scheduled_plan_id, scheduled_plan_date, scheduled_plan_limits,
			plan_limits, pending_proration_amount, pending_invoice_id,
			last_seat_change_at, cancelled_at, ends_at, cancellation_reason, cancellation_details,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			vendor_customer_id = EXCLUDED.vendor_customer_id,
			vendor_subscription_id = EXCLUDED.vendor_subscription_id,
			vendor_item_id = EXCLUDED.vendor_item_id,
			cycle = EXCLUDED.cycle,
			status = EXCLUDED.status,
			seats_purchased = EXCLUDED.seats_purchased,
			seats_used = EXCLUDED.seats_used,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_ends_at = EXCLUDED.trial_ends_at,
			scheduled_plan_id = EXCLUDED.scheduled_plan_id,
			scheduled_plan_date = EXCLUDED.scheduled_plan_date,
			scheduled_plan_limits = EXCLUDED.scheduled_plan_limits,
			plan_limits = EXCLUDED.plan_limits,
			pending_proration_amount = EXCLUDED.pending_proration_amount,
			pending_invoice_id = EXCLUDED.pending_invoice_id,
			last_seat_change_at = EXCLUDED.last_seat_change_at,
			cancelled_at = EXCLUDED.cancelled_at,
			ends_at = EXCLUDED.ends_at,
			cancellation_reason = EXCLUDED.cancellation_reason,
			cancellation_details = EXCLUDED.cancellation_details,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.CustomerID, sub.PlanID, sub.VendorCustomerID, sub.VendorSubscriptionID, sub.VendorItemID,
		sub.Cycle, sub.Status, sub.SeatsPurchased, sub.SeatsUsed,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		scheduledPlanID, scheduledDate, scheduledLimits,
		liveLimits, sub.PendingProrationAmount, sub.PendingInvoiceID,
		sub.LastSeatChangeAt, sub.CancelledAt, sub.EndsAt, sub.CancellationReason, sub.CancellationDetails,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		// Unique indexes guard one subscription per customer and per
		// vendor subscription id; a racing insert lands here.
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("save subscription %s: %w", sub.ID, ErrSubscriptionExists)
		}
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// TrySetSeatChangeInProgress acquires the seat-change lock with a
// conditional update, so two racing writers can never both observe the
// flag as clear.
func (s *PostgresSubscriptionStore) TrySetSeatChangeInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET seat_change_in_progress = TRUE, updated_at = NOW()
		WHERE id = $1 AND seat_change_in_progress = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("acquire seat change lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the lock is held or the row does not exist.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("check subscription existence: %w", err)
		}
		if !exists {
			return false, ErrSubscriptionNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresSubscriptionStore) ClearSeatChangeInProgress(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET seat_change_in_progress = FALSE, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear seat change lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// PostgresHistoryStore implements HistoryStore on pgx.
type PostgresHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresHistoryStore creates a ledger store backed by the pool.
func NewPostgresHistoryStore(pool *pgxpool.Pool) *PostgresHistoryStore {
	if pool == nil {
		panic("pgx pool is required")
	}
	return &PostgresHistoryStore{pool: pool}
}

const historyColumns = `
	id, subscription_id, actor, old_seats, new_seats, delta,
	proration_amount, proration_currency, vendor_invoice_id,
	status, payment_status, failure_reason, ip, created_at, updated_at`

func (s *PostgresHistoryStore) Create(ctx context.Context, record *SeatChangeHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO seat_change_history (
			id, subscription_id, actor, old_seats, new_seats, delta,
			proration_amount, proration_currency, vendor_invoice_id,
			status, payment_status, failure_reason, ip, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.ID, record.SubscriptionID, record.Actor, record.OldSeats, record.NewSeats, record.Delta,
		record.Proration.Amount, record.Proration.Currency, record.VendorInvoiceID,
		record.Status, record.PaymentStatus, record.FailureReason, record.IP, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create history record: %w", err)
	}
	return nil
}

func (s *PostgresHistoryStore) Update(ctx context.Context, record *SeatChangeHistory) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seat_change_history
		SET status = $2, payment_status = $3, vendor_invoice_id = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1`,
		record.ID, record.Status, record.PaymentStatus, record.VendorInvoiceID, record.FailureReason, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update history record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHistoryNotFound
	}
	return nil
}

func (s *PostgresHistoryStore) Get(ctx context.Context, id uuid.UUID) (*SeatChangeHistory, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM seat_change_history WHERE id = $1`, historyColumns), id)
	return scanHistory(row)
}

func (s *PostgresHistoryStore) FindByInvoiceID(ctx context.Context, vendorInvoiceID string) (*SeatChangeHistory, error) {
	if vendorInvoiceID == "" {
		return nil, ErrHistoryNotFound
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM seat_change_history
		WHERE vendor_invoice_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, historyColumns), vendorInvoiceID)
	return scanHistory(row)
}

func (s *PostgresHistoryStore) FindRecentIncrease(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (*SeatChangeHistory, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM seat_change_history
		WHERE subscription_id = $1
		  AND delta > 0
		  AND status IN ('pending', 'completed')
		  AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1`, historyColumns), subscriptionID, since)
	return scanHistory(row)
}

func (s *PostgresHistoryStore) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*SeatChangeHistory, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM seat_change_history
		WHERE subscription_id = $1
		ORDER BY created_at DESC`, historyColumns), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list history records: %w", err)
	}
	defer rows.Close()

	var out []*SeatChangeHistory
	for rows.Next() {
		record, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanHistory(row pgx.Row) (*SeatChangeHistory, error) {
	var record SeatChangeHistory
	err := row.Scan(
		&record.ID, &record.SubscriptionID, &record.Actor, &record.OldSeats, &record.NewSeats, &record.Delta,
		&record.Proration.Amount, &record.Proration.Currency, &record.VendorInvoiceID,
		&record.Status, &record.PaymentStatus, &record.FailureReason, &record.IP, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrHistoryNotFound
		}
		return nil, fmt.Errorf("scan history record: %w", err)
	}
	return &record, nil
}

// PostgresPendingChangeStore implements PendingChangeStore on pgx.
type PostgresPendingChangeStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPendingChangeStore creates a store backed by the pool.
func NewPostgresPendingChangeStore(pool *pgxpool.Pool) *PostgresPendingChangeStore {
	if pool == nil {
		panic("pgx pool is required")
	}
	return &PostgresPendingChangeStore{pool: pool}
}

func (s *PostgresPendingChangeStore) Create(ctx context.Context, pending *PendingSeatChange) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_seat_changes (
			id, subscription_id, customer_id, requested_seats,
			proration_amount, proration_currency, history_id, checkout_session_id,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pending.ID, pending.SubscriptionID, pending.CustomerID, pending.RequestedSeats,
		pending.Proration.Amount, pending.Proration.Currency, pending.HistoryID, pending.CheckoutSessionID,
		pending.CreatedAt, pending.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create pending seat change: %w", err)
	}
	return nil
}

func (s *PostgresPendingChangeStore) Get(ctx context.Context, id uuid.UUID) (*PendingSeatChange, error) {
	var pending PendingSeatChange
	err := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, customer_id, requested_seats,
		       proration_amount, proration_currency, history_id, checkout_session_id,
		       created_at, expires_at
		FROM pending_seat_changes
		WHERE id = $1`, id).Scan(
		&pending.ID, &pending.SubscriptionID, &pending.CustomerID, &pending.RequestedSeats,
		&pending.Proration.Amount, &pending.Proration.Currency, &pending.HistoryID, &pending.CheckoutSessionID,
		&pending.CreatedAt, &pending.ExpiresAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPendingChangeNotFound
		}
		return nil, fmt.Errorf("get pending seat change: %w", err)
	}
	return &pending, nil
}

func (s *PostgresPendingChangeStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_seat_changes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending seat change: %w", err)
	}
	return nil
}

var (
	_ SubscriptionStore  = (*PostgresSubscriptionStore)(nil)
	_ HistoryStore       = (*PostgresHistoryStore)(nil)
	_ PendingChangeStore = (*PostgresPendingChangeStore)(nil)
)
