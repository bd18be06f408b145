// Package proration computes partial-period charges and credits for
// mid-cycle seat changes. All arithmetic is integer math on minor
// currency units; the package performs no I/O and has no dependencies
// on the billing provider, so it is unit-testable in isolation.
package proration

import (
	"math"
	"time"
)

// Kind classifies the monetary effect of a quote.
type Kind string

const (
	// KindCharge means the amount is collected immediately.
	KindCharge Kind = "charge"
	// KindCredit means the amount is applied against the next invoice.
	KindCredit Kind = "credit"
	// KindZero means no money moves (no seat delta or no time remaining).
	KindZero Kind = "zero"
)

// Quote is the result of a proration calculation. Amount is always
// non-negative; Kind carries the direction. Callers charging a seat
// increase use Amount as-is; callers recording a decrease treat it as
// a deferred credit, never an immediate refund.
type Quote struct {
	Amount        int64 // minor currency units
	Currency      string
	Kind          Kind
	SeatDelta     int
	DaysRemaining int
	DaysInPeriod  int
}

// Calculate returns the prorated amount for changing from oldSeats to
// newSeats at pricePerSeat (minor units per seat per period), with
// daysRemaining of daysInPeriod left in the current billing period.
//
//	amount = pricePerSeat × |newSeats − oldSeats| × daysRemaining / daysInPeriod
//
// rounded half-up to the minor unit. A non-positive daysInPeriod or a
// zero delta yields a zero quote.
func Calculate(oldSeats, newSeats int, pricePerSeat int64, currency string, daysRemaining, daysInPeriod int) Quote {
	q := Quote{
		Currency:      currency,
		Kind:          KindZero,
		SeatDelta:     newSeats - oldSeats,
		DaysRemaining: daysRemaining,
		DaysInPeriod:  daysInPeriod,
	}

	if q.SeatDelta == 0 || daysInPeriod <= 0 || daysRemaining <= 0 || pricePerSeat <= 0 {
		return q
	}
	if daysRemaining > daysInPeriod {
		daysRemaining = daysInPeriod
		q.DaysRemaining = daysRemaining
	}

	magnitude := int64(abs(q.SeatDelta)) * pricePerSeat * int64(daysRemaining)
	// Half-up rounding of magnitude/daysInPeriod in integer math.
	q.Amount = (magnitude + int64(daysInPeriod)/2) / int64(daysInPeriod)

	if q.Amount == 0 {
		return q
	}
	if q.SeatDelta > 0 {
		q.Kind = KindCharge
	} else {
		q.Kind = KindCredit
	}
	return q
}

// PeriodDays returns the whole-day remaining/total pair for a billing
// period, rounding partial days up the way invoicing expects: a period
// ending in one hour still counts as one remaining day.
func PeriodDays(now, periodStart, periodEnd time.Time) (remaining, total int) {
	if !periodEnd.After(periodStart) {
		return 0, 0
	}
	total = ceilDays(periodEnd.Sub(periodStart))
	if !periodEnd.After(now) {
		return 0, total
	}
	remaining = ceilDays(periodEnd.Sub(now))
	if remaining > total {
		remaining = total
	}
	return remaining, total
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
