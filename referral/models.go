package referral

import (
	"time"

	"github.com/shopspring/decimal"

	"agencyflow/commission"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusEarned  Status = "EARNED"
	StatusPaidOut Status = "PAID_OUT"
)

// Tracking is the commission owed to a referrer for one order.
// CommissionPaidOut only grows and never exceeds CommissionAmount.
type Tracking struct {
	ID                string
	ReferrerID        string
	ReferredUserID    *string
	OrderID           string
	CommissionRate    decimal.Decimal
	CommissionAmount  decimal.Decimal
	CommissionPaidOut decimal.Decimal
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Referrer is the user a buyer was referred by.
type Referrer struct {
	UserID string
	Email  string
	Rate   decimal.Decimal
}

// Progress is the payment state of the order behind a tracking record.
type Progress struct {
	OrderTotal decimal.Decimal
	PaidAmount decimal.Decimal
}

// Statement is a tracking record with its live breakdown.
type Statement struct {
	Tracking  Tracking
	Progress  Progress
	Breakdown commission.Breakdown
}

// PayoutItem is one settled tracking record and the amount moved.
type PayoutItem struct {
	Tracking Tracking
	Amount   decimal.Decimal
}

type PayoutResult struct {
	Items []PayoutItem
	Total decimal.Decimal
}
