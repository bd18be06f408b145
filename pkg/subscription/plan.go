package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// Plan describes a priced tier. Read-only from this subsystem's
// perspective; for seated plans the per-cycle price is the price of a
// single seat.
type Plan struct {
	ID             string
	Name           string
	Description    string
	MonthlyPrice   Money
	YearlyPrice    Money
	MonthlyPriceID string // payment processor's price id for the monthly cycle
	YearlyPriceID  string // payment processor's price id for the yearly cycle
	IsSeatedPlan   bool
	Limits         map[Resource]int64 // -1 represents unlimited
	Active         bool               // available for new subscriptions
}

// PriceFor returns the plan's price at the given billing cycle.
func (p Plan) PriceFor(cycle BillingCycle) Money {
	if cycle == CycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// PriceIDFor returns the vendor price id for the given billing cycle.
func (p Plan) PriceIDFor(cycle BillingCycle) string {
	if cycle == CycleYearly {
		return p.YearlyPriceID
	}
	return p.MonthlyPriceID
}

// LimitFor returns the plan's limit for a resource; missing resources
// are treated as zero allowance.
func (p Plan) LimitFor(r Resource) int64 {
	limit, ok := p.Limits[r]
	if !ok {
		return 0
	}
	return limit
}

// Validate checks the plan is internally consistent.
func (p Plan) Validate() error {
	if p.ID == "" {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("plan ID is required"))
	}
	if p.MonthlyPrice.Amount < 0 || p.YearlyPrice.Amount < 0 {
		return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s has a negative price", p.ID))
	}
	if p.MonthlyPrice.Amount > 0 && p.MonthlyPriceID == "" {
		return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s has a monthly price but no monthly price ID", p.ID))
	}
	if p.YearlyPrice.Amount > 0 && p.YearlyPriceID == "" {
		return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s has a yearly price but no yearly price ID", p.ID))
	}
	return nil
}

// PlanSource supplies the plan catalog.
type PlanSource interface {
	Plans(ctx context.Context) ([]Plan, error)
}

// StaticPlanSource is an in-memory PlanSource, useful for tests and
// for applications that define plans in code.
type StaticPlanSource []Plan

// Plans returns the configured plans.
func (s StaticPlanSource) Plans(_ context.Context) ([]Plan, error) {
	return s, nil
}

// Catalog indexes plans by id and by vendor price id for webhook
// resolution.
type Catalog struct {
	byID      map[string]Plan
	byPriceID map[string]Plan
	ordered   []Plan
}

// NewCatalog loads and validates plans from the source.
func NewCatalog(ctx context.Context, source PlanSource) (*Catalog, error) {
	if source == nil {
		panic("plan source is required")
	}

	plans, err := source.Plans(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, errors.Join(ErrFailedToLoadPlans, errors.New("plan source returned no plans"))
	}

	c := &Catalog{
		byID:      make(map[string]Plan, len(plans)),
		byPriceID: make(map[string]Plan, len(plans)*2),
		ordered:   make([]Plan, 0, len(plans)),
	}
	for _, plan := range plans {
		if err := plan.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.byID[plan.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan ID %s", plan.ID))
		}
		plan.Limits = maps.Clone(plan.Limits)
		c.byID[plan.ID] = plan
		if plan.MonthlyPriceID != "" {
			c.byPriceID[plan.MonthlyPriceID] = plan
		}
		if plan.YearlyPriceID != "" {
			c.byPriceID[plan.YearlyPriceID] = plan
		}
		c.ordered = append(c.ordered, plan)
	}
	return c, nil
}

// ByID returns the plan with the given id. The returned plan's limits
// map is a copy; callers may mutate it freely.
func (c *Catalog) ByID(id string) (Plan, error) {
	plan, ok := c.byID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	plan.Limits = maps.Clone(plan.Limits)
	return plan, nil
}

// ByPriceID resolves a plan from a vendor price id, along with the
// billing cycle that price belongs to.
func (c *Catalog) ByPriceID(priceID string) (Plan, BillingCycle, error) {
	plan, ok := c.byPriceID[priceID]
	if !ok {
		return Plan{}, "", fmt.Errorf("%w: price %s", ErrPlanNotFound, priceID)
	}
	cycle := CycleMonthly
	if plan.YearlyPriceID == priceID {
		cycle = CycleYearly
	}
	plan.Limits = maps.Clone(plan.Limits)
	return plan, cycle, nil
}

// All returns the plans in source order.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.ordered))
	copy(out, c.ordered)
	return out
}
