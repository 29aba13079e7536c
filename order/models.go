package order

import (
	"time"

	"github.com/shopspring/decimal"

	"agencyflow/project"
	"agencyflow/referral"
)

type Status string

const (
	StatusPlaced     Status = "PLACED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// Order is a purchase. TotalAmount only moves through accepted change
// requests or an explicit administrative correction.
type Order struct {
	ID          string
	UserID      string
	QuoteID     *string
	Title       string
	Currency    string
	TotalAmount decimal.Decimal
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Placement is everything created when an order is placed.
type Placement struct {
	Order      Order
	Project    project.Project
	Commission *referral.Tracking
}
