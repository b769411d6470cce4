// Package score provides the three similarity scorers used by every
// matching strategy: amount, date, and vendor name. All scorers are
// pure functions producing a value in [0,1].
package score

import (
	"math"
	"time"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// amountEpsilon guards the relative-difference denominator against
// zero amounts.
const amountEpsilon = 0.01

// Amount scores two amounts by relative difference against a
// percentage tolerance: 1.0 for exact equality, falling linearly to
// 0.0 once the relative difference reaches the tolerance.
//
// Amounts are compared by magnitude; sign conventions (bank debits
// negative, expenses positive) are the caller's concern. Undefined or
// negative inputs fail fast with InvalidInputError.
func Amount(a, b, tolerancePct float64) (float64, error) {
	if math.IsNaN(a) || math.IsInf(a, 0) || a < 0 {
		return 0, &recon.InvalidInputError{Field: "amount", Reason: "must be a non-negative number"}
	}
	if math.IsNaN(b) || math.IsInf(b, 0) || b < 0 {
		return 0, &recon.InvalidInputError{Field: "amount", Reason: "must be a non-negative number"}
	}
	if tolerancePct <= 0 {
		return 0, &recon.InvalidInputError{Field: "amount_tolerance", Reason: "must be positive"}
	}

	diff := math.Abs(a - b)
	if diff == 0 {
		return 1.0, nil
	}

	denom := math.Max(a, math.Max(b, amountEpsilon))
	relative := diff / denom

	return 1 - math.Min(1, relative/tolerancePct), nil
}

// Date scores two dates with linear decay over the tolerance window:
// 1.0 on the same calendar day, 0.0 at or beyond toleranceDays.
func Date(d1, d2 time.Time, toleranceDays int) float64 {
	if toleranceDays <= 0 {
		return 0
	}
	days := DaysBetween(d1, d2)
	return 1 - math.Min(1, days/float64(toleranceDays))
}

// DaysBetween returns the absolute calendar-day distance between two
// dates, ignoring time-of-day.
func DaysBetween(d1, d2 time.Time) float64 {
	a := truncateDay(d1)
	b := truncateDay(d2)
	return math.Abs(a.Sub(b).Hours() / 24)
}

// SameDay reports whether two timestamps fall on the same calendar
// date.
func SameDay(d1, d2 time.Time) bool {
	y1, m1, dd1 := d1.Date()
	y2, m2, dd2 := d2.Date()
	return y1 == y2 && m1 == m2 && dd1 == dd2
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
