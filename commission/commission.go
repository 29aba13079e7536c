// Package commission splits a referral commission into what has been earned
// by the client's payments, what is available for payout, and what is still
// pending.
package commission

import "math"

// Tolerance is the float comparison slack used when checking
// Available + Pending + PaidOut == CommissionAmount.
const Tolerance = 1e-6

type Input struct {
	CommissionAmount  float64
	CommissionPaidOut float64
	OrderTotal        float64
	PaidAmount        float64
}

type Breakdown struct {
	// EarnedSoFar is the commission share unlocked by approved client payments.
	EarnedSoFar float64
	Available   float64
	Pending     float64
	PaidOut     float64
}

// Calculate is pure. A non-positive order total earns nothing; payments
// beyond the order total earn at most the full commission.
//
// Pending is measured against whichever is larger of the earned share and
// the amount already paid out, so the three buckets always add back to the
// commission even when an order total grows after a payout.
func Calculate(in Input) Breakdown {
	ratio := 0.0
	if in.OrderTotal > 0 {
		ratio = in.PaidAmount / in.OrderTotal
	}
	ratio = math.Max(0, math.Min(ratio, 1))

	earned := in.CommissionAmount * ratio
	available := math.Max(earned-in.CommissionPaidOut, 0)
	pending := math.Max(in.CommissionAmount-math.Max(earned, in.CommissionPaidOut), 0)

	return Breakdown{
		EarnedSoFar: earned,
		Available:   available,
		Pending:     pending,
		PaidOut:     in.CommissionPaidOut,
	}
}

// Balanced reports whether the breakdown accounts for the whole commission.
func (b Breakdown) Balanced(commissionAmount float64) bool {
	return math.Abs(b.Available+b.Pending+b.PaidOut-commissionAmount) <= Tolerance
}
