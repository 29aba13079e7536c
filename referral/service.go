package referral

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/commission"
	"agencyflow/db"
	"agencyflow/metrics"
	"agencyflow/money"
	"agencyflow/outbox"
)

var (
	ErrTrackingNotFound = apperror.NotFound("commission_not_found", "referral: commission record not found")
	ErrForbidden        = apperror.Unauthorized("commission_forbidden", "referral: actor may not settle this commission")
)

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool   db.Pool
	repo   Repository
	audit  AuditWriter
	outbox OutboxWriter
	log    *zap.Logger
}

func NewService(pool db.Pool, repo Repository, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		audit:  auditWriter,
		outbox: outboxWriter,
		log:    zap.NewNop(),
	}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("referral")
	return s
}

type GrantParams struct {
	OrderID    string
	BuyerID    string
	OrderTotal decimal.Decimal
}

// GrantOnOrder creates the tracking record for a newly placed order when the
// buyer was referred. It runs in the caller's transaction and returns nil
// when there is no referrer or the commission rounds to zero, since a zero
// grant could never be settled.
func (s *Service) GrantOnOrder(ctx context.Context, tx pgx.Tx, params GrantParams) (*Tracking, error) {
	ref, ok, err := s.repo.ReferrerOf(ctx, tx, params.BuyerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	commissionAmount := params.OrderTotal.Mul(ref.Rate).Round(money.Scale)
	if !commissionAmount.IsPositive() {
		s.log.Debug("zero commission not granted", zap.String("order_id", params.OrderID), zap.String("referrer_id", ref.UserID))
		return nil, nil
	}

	buyer := params.BuyerID
	t, created, err := s.repo.Insert(ctx, tx, Tracking{
		ReferrerID:       ref.UserID,
		ReferredUserID:   &buyer,
		OrderID:          params.OrderID,
		CommissionRate:   ref.Rate,
		CommissionAmount: commissionAmount,
	})
	if err != nil {
		return nil, err
	}
	if created {
		amount := t.CommissionAmount
		if err := s.appendAudit(ctx, tx, audit.Entry{
			EntityType: audit.EntityCommission,
			EntityID:   t.ID,
			Action:     "commission.granted",
			ToStatus:   string(t.Status),
			Amount:     &amount,
		}); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

type RequestPayoutParams struct {
	ReferrerID string
	Actor      auth.Actor
}

// RequestPayout settles every commission of the referrer in one transaction,
// moving whatever each one has earned but not yet paid.
func (s *Service) RequestPayout(ctx context.Context, params RequestPayoutParams) (PayoutResult, error) {
	if params.ReferrerID == "" || params.Actor.UserID != params.ReferrerID {
		return PayoutResult{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayoutResult{}, fmt.Errorf("referral: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	records, err := s.repo.ListForReferrer(ctx, tx, params.ReferrerID, true)
	if err != nil {
		return PayoutResult{}, err
	}

	result := PayoutResult{Total: decimal.Zero}
	for _, t := range records {
		item, changed, err := s.settleOne(ctx, tx, t, params.Actor)
		if err != nil {
			return PayoutResult{}, err
		}
		if changed {
			result.Items = append(result.Items, item)
			result.Total = result.Total.Add(item.Amount)
		}
	}

	if result.Total.IsPositive() {
		if err := s.enqueuePaidOut(ctx, tx, params.ReferrerID, result.Total); err != nil {
			return PayoutResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PayoutResult{}, fmt.Errorf("referral: commit payout: %w", err)
	}
	s.observe(result)
	return result, nil
}

type AdminPayoutParams struct {
	TrackingID string
	Actor      auth.Actor
}

// AdminPayout settles a single commission record. Staff only.
func (s *Service) AdminPayout(ctx context.Context, params AdminPayoutParams) (PayoutResult, error) {
	if !params.Actor.IsStaff() {
		return PayoutResult{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PayoutResult{}, fmt.Errorf("referral: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.GetForUpdate(ctx, tx, params.TrackingID)
	if err != nil {
		return PayoutResult{}, err
	}
	result := PayoutResult{Total: decimal.Zero}
	item, changed, err := s.settleOne(ctx, tx, t, params.Actor)
	if err != nil {
		return PayoutResult{}, err
	}
	if changed {
		result.Items = []PayoutItem{item}
		result.Total = item.Amount
		if err := s.enqueuePaidOut(ctx, tx, t.ReferrerID, item.Amount); err != nil {
			return PayoutResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PayoutResult{}, fmt.Errorf("referral: commit admin payout: %w", err)
	}
	s.observe(result)
	return result, nil
}

// Statement lists the referrer's commissions with live breakdowns.
func (s *Service) Statement(ctx context.Context, referrerID string, actor auth.Actor) ([]Statement, error) {
	if !actor.Owns(referrerID) {
		return nil, ErrForbidden
	}
	records, err := s.repo.ListForReferrer(ctx, s.pool, referrerID, false)
	if err != nil {
		return nil, err
	}
	out := make([]Statement, 0, len(records))
	for _, t := range records {
		progress, err := s.repo.OrderProgress(ctx, s.pool, t.OrderID)
		if err != nil {
			return nil, err
		}
		out = append(out, Statement{Tracking: t, Progress: progress, Breakdown: BreakdownFor(t, progress)})
	}
	return out, nil
}

func (s *Service) settleOne(ctx context.Context, tx pgx.Tx, t Tracking, actor auth.Actor) (PayoutItem, bool, error) {
	progress, err := s.repo.OrderProgress(ctx, tx, t.OrderID)
	if err != nil {
		return PayoutItem{}, false, err
	}
	next, amount, changed := Settle(t, BreakdownFor(t, progress))
	if !changed {
		return PayoutItem{}, false, nil
	}
	updated, err := s.repo.UpdatePayout(ctx, tx, t.ID, next.CommissionPaidOut, next.Status)
	if err != nil {
		return PayoutItem{}, false, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityCommission,
		EntityID:   t.ID,
		Action:     "commission.paid_out",
		ActorID:    actor.UserID,
		FromStatus: string(t.Status),
		ToStatus:   string(updated.Status),
		Amount:     &amount,
	}); err != nil {
		return PayoutItem{}, false, err
	}
	return PayoutItem{Tracking: updated, Amount: amount}, true, nil
}

// BreakdownFor runs the calculator on a tracking record.
func BreakdownFor(t Tracking, p Progress) commission.Breakdown {
	return commission.Calculate(commission.Input{
		CommissionAmount:  money.Float(t.CommissionAmount),
		CommissionPaidOut: money.Float(t.CommissionPaidOut),
		OrderTotal:        money.Float(p.OrderTotal),
		PaidAmount:        money.Float(p.PaidAmount),
	})
}

// Settle moves the available share, rounded to cents, into paid-out. The
// result is clamped to the commission amount, which flips the record to
// PAID_OUT. It reports false when nothing is available.
func Settle(t Tracking, b commission.Breakdown) (Tracking, decimal.Decimal, bool) {
	if t.Status == StatusPaidOut {
		return t, decimal.Zero, false
	}
	amount := money.FromFloat(b.Available)
	remaining := t.CommissionAmount.Sub(t.CommissionPaidOut)
	if amount.GreaterThan(remaining) {
		amount = remaining
	}
	if !amount.IsPositive() {
		return t, decimal.Zero, false
	}

	t.CommissionPaidOut = t.CommissionPaidOut.Add(amount)
	if t.CommissionPaidOut.GreaterThanOrEqual(t.CommissionAmount) {
		t.CommissionPaidOut = t.CommissionAmount
		t.Status = StatusPaidOut
	} else {
		t.Status = StatusEarned
	}
	return t, amount, true
}

func (s *Service) enqueuePaidOut(ctx context.Context, tx pgx.Tx, referrerID string, total decimal.Decimal) error {
	if s.outbox == nil {
		return nil
	}
	email, err := s.repo.EmailOf(ctx, tx, referrerID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"referrer_id": referrerID,
		"amount":      money.String(total),
	}
	if email != "" {
		payload["email"] = email
	}
	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicCommissionPaidOut, payload); err != nil {
		return fmt.Errorf("referral: enqueue payout: %w", err)
	}
	return nil
}

func (s *Service) observe(result PayoutResult) {
	if !result.Total.IsPositive() {
		return
	}
	metrics.CommissionPaidOut.Add(money.Float(result.Total))
	for _, item := range result.Items {
		metrics.Transition("commission", string(item.Tracking.Status))
	}
	s.log.Info("commission paid out", zap.String("amount", money.String(result.Total)), zap.Int("records", len(result.Items)))
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("referral: append audit: %w", err)
	}
	return nil
}
