package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/metrics"
	"agencyflow/money"
	"agencyflow/outbox"
	"agencyflow/project"
	"agencyflow/referral"
)

var (
	ErrNotFound            = apperror.NotFound("order_not_found", "order: not found")
	ErrForbidden           = apperror.Unauthorized("order_forbidden", "order: actor may not act on this order")
	ErrInvalidTotal        = apperror.Validation("order_total_invalid", "order: total must be positive")
	ErrTitleRequired       = apperror.Validation("order_title_required", "order: title required")
	ErrAlreadyDelivered    = apperror.Conflict("order_delivered", "order: already delivered")
	ErrCancelled           = apperror.Conflict("order_cancelled", "order: cancelled")
	ErrDuplicateQuoteOrder = apperror.Conflict("order_quote_duplicate", "order: quote already has an order")
)

// ProjectCreator opens the initial project of an order.
type ProjectCreator interface {
	Create(ctx context.Context, tx pgx.Tx, orderID, name string) (project.Project, error)
}

// CommissionGranter accrues referral commission for a new order.
type CommissionGranter interface {
	GrantOnOrder(ctx context.Context, tx pgx.Tx, params referral.GrantParams) (*referral.Tracking, error)
}

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        db.Pool
	repo        Repository
	projects    ProjectCreator
	commissions CommissionGranter
	audit       AuditWriter
	outbox      OutboxWriter
	log         *zap.Logger
}

func NewService(pool db.Pool, repo Repository, projects ProjectCreator, commissions CommissionGranter, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		projects:    projects,
		commissions: commissions,
		audit:       auditWriter,
		outbox:      outboxWriter,
		log:         zap.NewNop(),
	}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("order")
	return s
}

type PlaceParams struct {
	UserID    string
	UserEmail string
	QuoteID   *string
	Title     string
	Currency  string
	Total     decimal.Decimal
	Actor     auth.Actor
}

// PlaceInTx creates the order, its initial project and the referral
// commission inside tx. The caller owns commit and rollback.
func (s *Service) PlaceInTx(ctx context.Context, tx pgx.Tx, params PlaceParams) (Placement, error) {
	if params.UserID == "" {
		return Placement{}, fmt.Errorf("order: place missing user id")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Placement{}, ErrTitleRequired.WithField("title")
	}
	if !params.Total.IsPositive() {
		return Placement{}, ErrInvalidTotal.WithField("total")
	}
	currency, err := money.NormalizeCurrency(params.Currency)
	if err != nil {
		return Placement{}, err
	}

	o, err := s.repo.Insert(ctx, tx, Order{
		UserID:      params.UserID,
		QuoteID:     params.QuoteID,
		Title:       title,
		Currency:    currency,
		TotalAmount: params.Total.Round(money.Scale),
	})
	if err != nil {
		return Placement{}, err
	}

	proj, err := s.projects.Create(ctx, tx, o.ID, title)
	if err != nil {
		return Placement{}, err
	}

	var grant *referral.Tracking
	if s.commissions != nil {
		grant, err = s.commissions.GrantOnOrder(ctx, tx, referral.GrantParams{
			OrderID:    o.ID,
			BuyerID:    o.UserID,
			OrderTotal: o.TotalAmount,
		})
		if err != nil {
			return Placement{}, fmt.Errorf("order: grant commission: %w", err)
		}
	}

	total := o.TotalAmount
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   o.ID,
		Action:     "order.placed",
		ActorID:    params.Actor.UserID,
		ToStatus:   string(o.Status),
		Amount:     &total,
	}); err != nil {
		return Placement{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"order_id":   o.ID,
			"project_id": proj.ID,
			"total":      money.String(o.TotalAmount),
			"currency":   o.Currency,
		}
		if params.UserEmail != "" {
			payload["email"] = params.UserEmail
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOrderPlaced, payload); err != nil {
			return Placement{}, fmt.Errorf("order: enqueue placed: %w", err)
		}
	}

	return Placement{Order: o, Project: proj, Commission: grant}, nil
}

// PlaceDirect is a catalog purchase: a client buying for themselves, or
// staff placing on a client's behalf.
func (s *Service) PlaceDirect(ctx context.Context, params PlaceParams) (Placement, error) {
	if !params.Actor.Owns(params.UserID) {
		return Placement{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	placement, err := s.PlaceInTx(ctx, tx, params)
	if err != nil {
		return Placement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, fmt.Errorf("order: commit place: %w", err)
	}
	metrics.Transition("order", string(placement.Order.Status))
	return placement, nil
}

// IncrementTotal adds delta to the order total inside tx, reading the row
// under lock so concurrent increments never lose an update.
func (s *Service) IncrementTotal(ctx context.Context, tx pgx.Tx, orderID string, delta decimal.Decimal, actorID string) (Order, error) {
	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status == StatusCancelled {
		return Order{}, ErrCancelled.WithState(string(o.Status))
	}
	updated, err := s.repo.UpdateTotal(ctx, tx, orderID, o.TotalAmount.Add(delta))
	if err != nil {
		return Order{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   orderID,
		Action:     "order.total_increased",
		ActorID:    actorID,
		Amount:     &delta,
	}); err != nil {
		return Order{}, err
	}
	return updated, nil
}

type CorrectTotalParams struct {
	OrderID string
	Total   decimal.Decimal
	Actor   auth.Actor
}

// CorrectTotal is the explicit administrative override of an order total.
func (s *Service) CorrectTotal(ctx context.Context, params CorrectTotalParams) (Order, error) {
	if !params.Actor.IsStaff() {
		return Order{}, ErrForbidden
	}
	if params.Total.IsNegative() {
		return Order{}, ErrInvalidTotal.WithField("total")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Order{}, err
	}
	total := params.Total.Round(money.Scale)
	updated, err := s.repo.UpdateTotal(ctx, tx, o.ID, total)
	if err != nil {
		return Order{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   o.ID,
		Action:     "order.total_corrected",
		ActorID:    params.Actor.UserID,
		Amount:     &total,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit correction: %w", err)
	}
	return updated, nil
}

// Cancel is staff only. A delivered order cannot be cancelled; cancelling a
// cancelled order returns it unchanged.
func (s *Service) Cancel(ctx context.Context, orderID string, actor auth.Actor) (Order, error) {
	if !actor.IsStaff() {
		return Order{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	switch o.Status {
	case StatusCancelled:
		return o, nil
	case StatusDelivered:
		return Order{}, ErrAlreadyDelivered.WithState(string(o.Status))
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, o.ID, StatusCancelled)
	if err != nil {
		return Order{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   o.ID,
		Action:     "order.cancelled",
		ActorID:    actor.UserID,
		FromStatus: string(o.Status),
		ToStatus:   string(updated.Status),
	}); err != nil {
		return Order{}, err
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicOrderCancelled, map[string]any{"order_id": o.ID}); err != nil {
			return Order{}, fmt.Errorf("order: enqueue cancelled: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit cancel: %w", err)
	}
	metrics.Transition("order", string(updated.Status))
	return updated, nil
}

func (s *Service) Get(ctx context.Context, orderID string, actor auth.Actor) (Order, error) {
	o, err := s.repo.Get(ctx, s.pool, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.Owns(o.UserID) {
		return Order{}, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]Order, error) {
	if actor.UserID == "" {
		return nil, ErrForbidden
	}
	return s.repo.ListForUser(ctx, s.pool, actor.UserID)
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("order: append audit: %w", err)
	}
	return nil
}
