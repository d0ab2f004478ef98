// Package core holds the domain model of the shared-expense ledger:
// money arithmetic, expense and settlement records, and the invariants
// every write must satisfy.
//
// All monetary amounts are integer minor-currency units (cents). The
// engine never does floating-point money math.
package core

// Money is an amount in minor currency units.
type Money struct {
	Cents int64
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{Cents: m.Cents - other.Cents}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Cents > 0
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SplitEqually divides total into n shares that sum exactly to total.
// The integer remainder of total/n is added to the first share, so
// SplitEqually(Money{100}, 3) yields 34, 33, 33.
func SplitEqually(total Money, n int) ([]Money, error) {
	if n <= 0 {
		return nil, ErrInvalidParticipants
	}
	if total.Cents <= 0 {
		return nil, ErrInvalidAmount
	}
	base := total.Cents / int64(n)
	rem := total.Cents % int64(n)
	shares := make([]Money, n)
	shares[0] = Money{Cents: base + rem}
	for i := 1; i < n; i++ {
		shares[i] = Money{Cents: base}
	}
	return shares, nil
}

// ValidateCustomSplit checks that caller-supplied shares sum exactly to
// total. No rounding tolerance: one cent of drift is a rejection.
func ValidateCustomSplit(total Money, shares []Money) error {
	if len(shares) == 0 {
		return ErrInvalidParticipants
	}
	var sum int64
	for _, s := range shares {
		if s.Cents < 0 {
			return ErrInvalidSplit
		}
		sum += s.Cents
	}
	if sum != total.Cents {
		return ErrInvalidSplit
	}
	return nil
}
