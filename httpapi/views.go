package httpapi

import (
	"time"

	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/milestone"
	"agencyflow/money"
	"agencyflow/order"
	"agencyflow/portfolio"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/referral"
)

// Amounts leave the API as fixed two-decimal strings.

type userView struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
}

func newUserView(u auth.User) userView {
	return userView{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

type quoteView struct {
	ID         string       `json:"id"`
	RequestID  string       `json:"request_id"`
	Amount     string       `json:"amount"`
	Currency   string       `json:"currency"`
	Scope      string       `json:"scope"`
	Status     quote.Status `json:"status"`
	ExpiresAt  time.Time    `json:"expires_at"`
	SentAt     *time.Time   `json:"sent_at,omitempty"`
	AcceptedAt *time.Time   `json:"accepted_at,omitempty"`
	RejectedAt *time.Time   `json:"rejected_at,omitempty"`
	ArchivedAt *time.Time   `json:"archived_at,omitempty"`
	OrderID    *string      `json:"order_id,omitempty"`
	ProjectID  *string      `json:"project_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func newQuoteView(q quote.Quote) quoteView {
	return quoteView{
		ID:         q.ID,
		RequestID:  q.RequestID,
		Amount:     money.String(q.Amount),
		Currency:   q.Currency,
		Scope:      q.Scope,
		Status:     q.Status,
		ExpiresAt:  q.ExpiresAt,
		SentAt:     q.SentAt,
		AcceptedAt: q.AcceptedAt,
		RejectedAt: q.RejectedAt,
		ArchivedAt: q.ArchivedAt,
		OrderID:    q.OrderID,
		ProjectID:  q.ProjectID,
		CreatedAt:  q.CreatedAt,
	}
}

type orderView struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	QuoteID     *string      `json:"quote_id,omitempty"`
	Title       string       `json:"title"`
	Currency    string       `json:"currency"`
	TotalAmount string       `json:"total_amount"`
	Status      order.Status `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func newOrderView(o order.Order) orderView {
	return orderView{
		ID:          o.ID,
		UserID:      o.UserID,
		QuoteID:     o.QuoteID,
		Title:       o.Title,
		Currency:    o.Currency,
		TotalAmount: money.String(o.TotalAmount),
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type projectView struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Name      string        `json:"name"`
	Status    project.Stage `json:"status"`
	Phases    []phaseView   `json:"phases,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func newProjectView(p project.Project, phases []project.Phase) projectView {
	v := projectView{ID: p.ID, OrderID: p.OrderID, Name: p.Name, Status: p.Status, CreatedAt: p.CreatedAt}
	for _, ph := range phases {
		v.Phases = append(v.Phases, newPhaseView(ph))
	}
	return v
}

type phaseView struct {
	ID         string              `json:"id"`
	Group      project.Stage       `json:"group"`
	Title      string              `json:"title"`
	Status     project.PhaseStatus `json:"status"`
	OrderIndex int                 `json:"order_index"`
}

func newPhaseView(ph project.Phase) phaseView {
	return phaseView{ID: ph.ID, Group: ph.Group, Title: ph.Title, Status: ph.Status, OrderIndex: ph.OrderIndex}
}

type milestoneView struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	Label           string           `json:"label"`
	Amount          string           `json:"amount"`
	Status          milestone.Status `json:"status"`
	ProofRef        *string          `json:"proof_ref,omitempty"`
	PhaseID         *string          `json:"phase_id,omitempty"`
	ChangeRequestID *string          `json:"change_request_id,omitempty"`
	ReviewedBy      *string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func newMilestoneView(m milestone.Milestone) milestoneView {
	return milestoneView{
		ID:              m.ID,
		ProjectID:       m.ProjectID,
		Label:           m.Label,
		Amount:          money.String(m.Amount),
		Status:          m.Status,
		ProofRef:        m.ProofRef,
		PhaseID:         m.PhaseID,
		ChangeRequestID: m.ChangeRequestID,
		ReviewedBy:      m.ReviewedBy,
		ReviewedAt:      m.ReviewedAt,
		ArchivedAt:      m.ArchivedAt,
		CreatedAt:       m.CreatedAt,
	}
}

type totalsView struct {
	Pending     string `json:"pending"`
	UnderReview string `json:"under_review"`
	Approved    string `json:"approved"`
	Rejected    string `json:"rejected"`
}

func newTotalsView(t milestone.Totals) totalsView {
	return totalsView{
		Pending:     money.String(t.Pending),
		UnderReview: money.String(t.UnderReview),
		Approved:    money.String(t.Approved),
		Rejected:    money.String(t.Rejected),
	}
}

type changeRequestView struct {
	ID          string               `json:"id"`
	ProjectID   string               `json:"project_id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Amount      *string              `json:"amount"`
	Status      changerequest.Status `json:"status"`
	DecidedBy   *string              `json:"decided_by,omitempty"`
	DecidedAt   *time.Time           `json:"decided_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func newChangeRequestView(cr changerequest.ChangeRequest) changeRequestView {
	return changeRequestView{
		ID:          cr.ID,
		ProjectID:   cr.ProjectID,
		Title:       cr.Title,
		Description: cr.Description,
		Amount:      money.NullString(cr.Amount),
		Status:      cr.Status,
		DecidedBy:   cr.DecidedBy,
		DecidedAt:   cr.DecidedAt,
		CreatedAt:   cr.CreatedAt,
	}
}

type commissionView struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Status           referral.Status `json:"status"`
	CommissionRate   string          `json:"commission_rate"`
	CommissionAmount string          `json:"commission_amount"`
	PaidOut          string          `json:"paid_out"`
}

func newCommissionView(t referral.Tracking) commissionView {
	return commissionView{
		ID:               t.ID,
		OrderID:          t.OrderID,
		Status:           t.Status,
		CommissionRate:   t.CommissionRate.String(),
		CommissionAmount: money.String(t.CommissionAmount),
		PaidOut:          money.String(t.CommissionPaidOut),
	}
}

type statementView struct {
	Commission  commissionView `json:"commission"`
	OrderTotal  string         `json:"order_total"`
	PaidAmount  string         `json:"paid_amount"`
	EarnedSoFar string         `json:"earned_so_far"`
	Available   string         `json:"available"`
	Pending     string         `json:"pending"`
}

func newStatementView(s referral.Statement) statementView {
	return statementView{
		Commission:  newCommissionView(s.Tracking),
		OrderTotal:  money.String(s.Progress.OrderTotal),
		PaidAmount:  money.String(s.Progress.PaidAmount),
		EarnedSoFar: money.String(money.FromFloat(s.Breakdown.EarnedSoFar)),
		Available:   money.String(money.FromFloat(s.Breakdown.Available)),
		Pending:     money.String(money.FromFloat(s.Breakdown.Pending)),
	}
}

type payoutView struct {
	Total string           `json:"total"`
	Items []payoutItemView `json:"items"`
}

type payoutItemView struct {
	Commission commissionView `json:"commission"`
	Amount     string         `json:"amount"`
}

func newPayoutView(r referral.PayoutResult) payoutView {
	v := payoutView{Total: money.String(r.Total), Items: make([]payoutItemView, 0, len(r.Items))}
	for _, it := range r.Items {
		v.Items = append(v.Items, payoutItemView{Commission: newCommissionView(it.Tracking), Amount: money.String(it.Amount)})
	}
	return v
}

type draftView struct {
	ID        string           `json:"id"`
	ProjectID string           `json:"project_id"`
	Title     string           `json:"title"`
	Status    portfolio.Status `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

func newDraftView(d portfolio.Draft) draftView {
	return draftView{ID: d.ID, ProjectID: d.ProjectID, Title: d.Title, Status: d.Status, CreatedAt: d.CreatedAt}
}
