package httpapi

import (
	"context"

	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/changerequest"
	"agencyflow/milestone"
	"agencyflow/order"
	"agencyflow/portfolio"
	"agencyflow/project"
	"agencyflow/quote"
	"agencyflow/referral"
)

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (auth.Actor, error)
}

type QuoteService interface {
	Issue(ctx context.Context, params quote.IssueParams) (quote.Issued, error)
	MarkSent(ctx context.Context, quoteID string, actor auth.Actor) (quote.Issued, error)
	Redeem(ctx context.Context, token string) (quote.Redemption, error)
	Accept(ctx context.Context, params quote.DecisionParams) (quote.Acceptance, error)
	Reject(ctx context.Context, params quote.DecisionParams) (quote.Quote, error)
	Archive(ctx context.Context, quoteID string, actor auth.Actor) (quote.Quote, error)
	ListActive(ctx context.Context, actor auth.Actor, limit int) ([]quote.Quote, error)
	Get(ctx context.Context, quoteID string, actor auth.Actor) (quote.Quote, error)
}

type OrderService interface {
	PlaceDirect(ctx context.Context, params order.PlaceParams) (order.Placement, error)
	CorrectTotal(ctx context.Context, params order.CorrectTotalParams) (order.Order, error)
	Cancel(ctx context.Context, orderID string, actor auth.Actor) (order.Order, error)
	Get(ctx context.Context, orderID string, actor auth.Actor) (order.Order, error)
	ListMine(ctx context.Context, actor auth.Actor) ([]order.Order, error)
}

type ProjectService interface {
	AddPhase(ctx context.Context, params project.AddPhaseParams) (project.Phase, error)
	SetPhaseStatus(ctx context.Context, params project.SetPhaseStatusParams) (project.SetPhaseStatusResult, error)
	Get(ctx context.Context, projectID string, actor auth.Actor) (project.Detail, error)
}

type MilestoneService interface {
	SubmitProof(ctx context.Context, params milestone.SubmitProofParams) (milestone.Milestone, error)
	Plan(ctx context.Context, params milestone.PlanParams) (milestone.Milestone, error)
	AttachProof(ctx context.Context, params milestone.AttachProofParams) (milestone.Milestone, error)
	Review(ctx context.Context, params milestone.ReviewParams) (milestone.Milestone, error)
	Archive(ctx context.Context, params milestone.ArchiveParams) (milestone.Milestone, error)
	List(ctx context.Context, projectID string, includeArchived bool, actor auth.Actor) ([]milestone.Milestone, error)
	Totals(ctx context.Context, projectID string, actor auth.Actor) (milestone.Totals, error)
}

type ChangeRequestService interface {
	Propose(ctx context.Context, params changerequest.ProposeParams) (changerequest.ChangeRequest, error)
	Edit(ctx context.Context, params changerequest.EditParams) (changerequest.ChangeRequest, error)
	Accept(ctx context.Context, changeRequestID string, actor auth.Actor) (changerequest.Acceptance, error)
	Reject(ctx context.Context, changeRequestID string, actor auth.Actor) (changerequest.ChangeRequest, error)
	List(ctx context.Context, projectID string, actor auth.Actor) ([]changerequest.ChangeRequest, error)
}

type ReferralService interface {
	RequestPayout(ctx context.Context, params referral.RequestPayoutParams) (referral.PayoutResult, error)
	AdminPayout(ctx context.Context, params referral.AdminPayoutParams) (referral.PayoutResult, error)
	Statement(ctx context.Context, referrerID string, actor auth.Actor) ([]referral.Statement, error)
}

type PortfolioService interface {
	GetByProjectID(ctx context.Context, projectID string, actor auth.Actor) (portfolio.Draft, error)
	List(ctx context.Context, limit int, actor auth.Actor) ([]portfolio.Draft, error)
}

type AuditService interface {
	Trail(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Record, error)
}

// Services is everything the router dispatches to. Nil services leave their
// routes unregistered.
type Services struct {
	Auth           AuthService
	Quotes         QuoteService
	Orders         OrderService
	Projects       ProjectService
	Milestones     MilestoneService
	ChangeRequests ChangeRequestService
	Referrals      ReferralService
	Portfolio      PortfolioService
	Audit          AuditService
}
