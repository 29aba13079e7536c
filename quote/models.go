package quote

import (
	"time"

	"github.com/shopspring/decimal"

	"agencyflow/auth"
)

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSent     Status = "SENT"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Quote is a priced proposal for one inbound request. TokenHash holds the
// SHA-256 of the one-time token, prefixed once the token is consumed.
type Quote struct {
	ID         string
	RequestID  string
	Amount     decimal.Decimal
	Currency   string
	Scope      string
	Status     Status
	TokenHash  string
	ExpiresAt  time.Time
	SentAt     *time.Time
	AcceptedAt *time.Time
	RejectedAt *time.Time
	ArchivedAt *time.Time
	OrderID    *string
	ProjectID  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (q Quote) Archived() bool { return q.ArchivedAt != nil }

// ExpiredAt reports whether the quote can no longer be acted on at now.
func (q Quote) ExpiredAt(now time.Time) bool { return !now.Before(q.ExpiresAt) }

type RequestStatus string

const (
	RequestNew       RequestStatus = "NEW"
	RequestQuoted    RequestStatus = "QUOTED"
	RequestConverted RequestStatus = "CONVERTED"
)

// Request is the reviewed inbound project request a quote answers.
type Request struct {
	ID          string
	Email       string
	FullName    string
	Description string
	Status      RequestStatus
	UserID      *string
}

// Issued carries the plaintext token. It is returned once and never stored.
type Issued struct {
	Quote Quote
	Token string
}

// Redemption is the result of presenting a valid token.
type Redemption struct {
	Quote Quote
	User  auth.User
}

// Acceptance references the order and project created by accepting a quote.
// Replayed is true when the quote had already been accepted.
type Acceptance struct {
	Quote     Quote
	OrderID   string
	ProjectID string
	Replayed  bool
}
