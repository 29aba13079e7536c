package changerequest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/metrics"
	"agencyflow/milestone"
	"agencyflow/money"
	"agencyflow/order"
	"agencyflow/outbox"
	"agencyflow/project"
)

var (
	ErrNotFound        = apperror.NotFound("change_request_not_found", "changerequest: not found")
	ErrForbidden       = apperror.Unauthorized("change_request_forbidden", "changerequest: actor may not act on this change request")
	ErrTitleRequired   = apperror.Validation("change_request_title_required", "changerequest: title required")
	ErrInvalidAmount   = apperror.Validation("change_request_amount_invalid", "changerequest: amount must be greater than zero")
	ErrNotPending      = apperror.Conflict("change_request_not_pending", "changerequest: only pending change requests can change")
	ErrAmountNotSet    = apperror.Conflict("change_request_amount_not_set", "changerequest: amount must be set before acceptance")
	ErrAlreadyAccepted = apperror.Conflict("change_request_already_accepted", "changerequest: already accepted")
	ErrAlreadyRejected = apperror.Conflict("change_request_already_rejected", "changerequest: already rejected")
)

// ProjectOwners resolves the order and client behind a project.
type ProjectOwners interface {
	OwnerOf(ctx context.Context, q db.Querier, projectID string) (project.Ownership, error)
}

// MilestoneBiller creates the milestone that bills an accepted request.
type MilestoneBiller interface {
	BillChangeRequest(ctx context.Context, tx pgx.Tx, projectID, changeRequestID, label string, amount decimal.Decimal, actorID string) (milestone.Milestone, error)
}

// TotalIncrementer grows an order total under the order row lock.
type TotalIncrementer interface {
	IncrementTotal(ctx context.Context, tx pgx.Tx, orderID string, delta decimal.Decimal, actorID string) (order.Order, error)
}

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool       db.Pool
	repo       Repository
	projects   ProjectOwners
	milestones MilestoneBiller
	orders     TotalIncrementer
	audit      AuditWriter
	outbox     OutboxWriter
	now        func() time.Time
	log        *zap.Logger
}

func NewService(pool db.Pool, repo Repository, projects ProjectOwners, milestones MilestoneBiller, orders TotalIncrementer, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		projects:   projects,
		milestones: milestones,
		orders:     orders,
		audit:      auditWriter,
		outbox:     outboxWriter,
		now:        time.Now,
		log:        zap.NewNop(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("changerequest")
	return s
}

type ProposeParams struct {
	ProjectID   string
	Title       string
	Description string
	Amount      *decimal.Decimal
	Actor       auth.Actor
}

func (s *Service) Propose(ctx context.Context, params ProposeParams) (ChangeRequest, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return ChangeRequest{}, ErrTitleRequired.WithField("title")
	}
	amount, err := optionalAmount(params.Amount)
	if err != nil {
		return ChangeRequest{}, err
	}
	owner, err := s.projects.OwnerOf(ctx, s.pool, params.ProjectID)
	if err != nil {
		return ChangeRequest{}, err
	}
	if !params.Actor.Owns(owner.OwnerID) {
		return ChangeRequest{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proposer := params.Actor.UserID
	cr, err := s.repo.Insert(ctx, tx, ChangeRequest{
		ProjectID:   owner.ProjectID,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Amount:      amount,
		ProposedBy:  &proposer,
	})
	if err != nil {
		return ChangeRequest{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityChangeRequest,
		EntityID:   cr.ID,
		Action:     "change_request.proposed",
		ActorID:    proposer,
		ToStatus:   string(cr.Status),
		Amount:     nullable(cr.Amount),
	}); err != nil {
		return ChangeRequest{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicChangeRequestProposed, map[string]any{
		"change_request_id": cr.ID,
		"project_id":        cr.ProjectID,
		"title":             cr.Title,
	}); err != nil {
		return ChangeRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: commit propose: %w", err)
	}
	metrics.Transition("change_request", string(cr.Status))
	return cr, nil
}

// EditParams leaves fields that are nil untouched.
type EditParams struct {
	ChangeRequestID string
	Title           *string
	Description     *string
	Amount          *decimal.Decimal
	Actor           auth.Actor
}

func (s *Service) Edit(ctx context.Context, params EditParams) (ChangeRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cr, err := s.repo.GetForUpdate(ctx, tx, params.ChangeRequestID)
	if err != nil {
		return ChangeRequest{}, err
	}
	owner, err := s.projects.OwnerOf(ctx, tx, cr.ProjectID)
	if err != nil {
		return ChangeRequest{}, err
	}
	if !params.Actor.Owns(owner.OwnerID) {
		return ChangeRequest{}, ErrForbidden
	}
	if cr.Status != StatusPending {
		return ChangeRequest{}, ErrNotPending.WithState(string(cr.Status))
	}

	title, description, amount := cr.Title, cr.Description, cr.Amount
	if params.Title != nil {
		title = strings.TrimSpace(*params.Title)
		if title == "" {
			return ChangeRequest{}, ErrTitleRequired.WithField("title")
		}
	}
	if params.Description != nil {
		description = strings.TrimSpace(*params.Description)
	}
	if params.Amount != nil {
		if amount, err = optionalAmount(params.Amount); err != nil {
			return ChangeRequest{}, err
		}
	}

	updated, err := s.repo.Update(ctx, tx, cr.ID, title, description, amount)
	if err != nil {
		return ChangeRequest{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityChangeRequest,
		EntityID:   cr.ID,
		Action:     "change_request.edited",
		ActorID:    params.Actor.UserID,
		FromStatus: string(cr.Status),
		ToStatus:   string(updated.Status),
		Amount:     nullable(updated.Amount),
	}); err != nil {
		return ChangeRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: commit edit: %w", err)
	}
	return updated, nil
}

// Accept marks the request ACCEPTED, bills it as one PENDING milestone and
// grows the order total by the same amount, all in one transaction.
// Accepting an accepted request changes nothing.
func (s *Service) Accept(ctx context.Context, changeRequestID string, actor auth.Actor) (Acceptance, error) {
	if !actor.IsStaff() {
		return Acceptance{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Acceptance{}, fmt.Errorf("changerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cr, err := s.repo.GetForUpdate(ctx, tx, changeRequestID)
	if err != nil {
		return Acceptance{}, err
	}
	switch cr.Status {
	case StatusAccepted:
		return Acceptance{ChangeRequest: cr, Replayed: true}, nil
	case StatusRejected:
		return Acceptance{}, ErrAlreadyRejected.WithState(string(cr.Status))
	}
	if !cr.Amount.Valid || !cr.Amount.Decimal.IsPositive() {
		return Acceptance{}, ErrAmountNotSet.WithState(string(cr.Status))
	}
	amount := cr.Amount.Decimal

	owner, err := s.projects.OwnerOf(ctx, tx, cr.ProjectID)
	if err != nil {
		return Acceptance{}, err
	}

	accepted, err := s.repo.Decide(ctx, tx, cr.ID, StatusAccepted, actor.UserID, s.now().UTC())
	if err != nil {
		return Acceptance{}, err
	}
	m, err := s.milestones.BillChangeRequest(ctx, tx, cr.ProjectID, cr.ID, cr.Title, amount, actor.UserID)
	if err != nil {
		return Acceptance{}, err
	}
	o, err := s.orders.IncrementTotal(ctx, tx, owner.OrderID, amount, actor.UserID)
	if err != nil {
		return Acceptance{}, err
	}

	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityChangeRequest,
		EntityID:   cr.ID,
		Action:     "change_request.accepted",
		ActorID:    actor.UserID,
		FromStatus: string(cr.Status),
		ToStatus:   string(accepted.Status),
		Amount:     &amount,
	}); err != nil {
		return Acceptance{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicChangeRequestDecided, map[string]any{
		"change_request_id": cr.ID,
		"project_id":        cr.ProjectID,
		"title":             cr.Title,
		"status":            string(accepted.Status),
		"amount":            money.String(amount),
		"email":             owner.OwnerEmail,
	}); err != nil {
		return Acceptance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Acceptance{}, fmt.Errorf("changerequest: commit accept: %w", err)
	}
	metrics.Transition("change_request", string(accepted.Status))
	metrics.Transition("milestone", string(m.Status))
	s.log.Info("change request accepted",
		zap.String("change_request_id", cr.ID),
		zap.String("order_id", o.ID),
		zap.String("order_total", money.String(o.TotalAmount)),
	)

	return Acceptance{ChangeRequest: accepted, Milestone: &m, Order: &o}, nil
}

// Reject closes a pending request with no financial effect.
func (s *Service) Reject(ctx context.Context, changeRequestID string, actor auth.Actor) (ChangeRequest, error) {
	if !actor.IsStaff() {
		return ChangeRequest{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cr, err := s.repo.GetForUpdate(ctx, tx, changeRequestID)
	if err != nil {
		return ChangeRequest{}, err
	}
	switch cr.Status {
	case StatusAccepted:
		return ChangeRequest{}, ErrAlreadyAccepted.WithState(string(cr.Status))
	case StatusRejected:
		return ChangeRequest{}, ErrAlreadyRejected.WithState(string(cr.Status))
	}

	rejected, err := s.repo.Decide(ctx, tx, cr.ID, StatusRejected, actor.UserID, s.now().UTC())
	if err != nil {
		return ChangeRequest{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityChangeRequest,
		EntityID:   cr.ID,
		Action:     "change_request.rejected",
		ActorID:    actor.UserID,
		FromStatus: string(cr.Status),
		ToStatus:   string(rejected.Status),
	}); err != nil {
		return ChangeRequest{}, err
	}
	owner, err := s.projects.OwnerOf(ctx, tx, cr.ProjectID)
	if err != nil {
		return ChangeRequest{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicChangeRequestDecided, map[string]any{
		"change_request_id": cr.ID,
		"project_id":        cr.ProjectID,
		"title":             cr.Title,
		"status":            string(rejected.Status),
		"email":             owner.OwnerEmail,
	}); err != nil {
		return ChangeRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: commit reject: %w", err)
	}
	metrics.Transition("change_request", string(rejected.Status))
	return rejected, nil
}

func (s *Service) List(ctx context.Context, projectID string, actor auth.Actor) ([]ChangeRequest, error) {
	owner, err := s.projects.OwnerOf(ctx, s.pool, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(owner.OwnerID) {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, s.pool, projectID)
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("changerequest: append audit: %w", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("changerequest: enqueue %s: %w", topic, err)
	}
	return nil
}

// optionalAmount rejects rather than rounds: a non-positive amount or one
// with sub-cent precision is an error.
func optionalAmount(amount *decimal.Decimal) (decimal.NullDecimal, error) {
	if amount == nil {
		return decimal.NullDecimal{}, nil
	}
	if !amount.IsPositive() {
		return decimal.NullDecimal{}, ErrInvalidAmount.WithField("amount")
	}
	if !amount.Equal(amount.Round(money.Scale)) {
		return decimal.NullDecimal{}, money.ErrTooManyDecimals.WithField("amount")
	}
	return decimal.NewNullDecimal(*amount), nil
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
