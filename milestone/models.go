package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
)

func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

// Milestone is one billable line item on a project. Only APPROVED rows count
// toward paid amounts, archived or not.
type Milestone struct {
	ID              string
	ProjectID       string
	Label           string
	Amount          decimal.Decimal
	Status          Status
	ProofRef        *string
	PhaseID         *string
	ChangeRequestID *string
	SubmittedBy     *string
	ReviewedBy      *string
	ReviewedAt      *time.Time
	ArchivedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (m Milestone) Archived() bool { return m.ArchivedAt != nil }

// Totals sums a project's milestones per status.
type Totals struct {
	Pending     decimal.Decimal
	UnderReview decimal.Decimal
	Approved    decimal.Decimal
	Rejected    decimal.Decimal
}
