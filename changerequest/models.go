package changerequest

import (
	"time"

	"github.com/shopspring/decimal"

	"agencyflow/milestone"
	"agencyflow/order"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ChangeRequest is a priced scope addition on a project. Amount stays
// unset until it is priced.
type ChangeRequest struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Amount      decimal.NullDecimal
	Status      Status
	ProposedBy  *string
	DecidedBy   *string
	DecidedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Acceptance is the result of accepting a change request. Milestone and
// Order are nil when the request had already been accepted.
type Acceptance struct {
	ChangeRequest ChangeRequest
	Milestone     *milestone.Milestone
	Order         *order.Order
	Replayed      bool
}
