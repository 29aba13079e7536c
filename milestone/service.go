package milestone

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
	"agencyflow/money"
	"agencyflow/outbox"
	"agencyflow/project"
)

var (
	ErrNotFound            = apperror.NotFound("milestone_not_found", "milestone: not found")
	ErrPhaseNotFound       = apperror.NotFound("milestone_phase_not_found", "milestone: phase not found on project")
	ErrForbidden           = apperror.Unauthorized("milestone_forbidden", "milestone: actor may not act on this milestone")
	ErrAmountRequired      = apperror.Validation("milestone_amount_required", "milestone: amount required")
	ErrInvalidAmount       = apperror.Validation("milestone_amount_invalid", "milestone: amount must not be negative")
	ErrLabelRequired       = apperror.Validation("milestone_label_required", "milestone: label required")
	ErrProofRequired       = apperror.Validation("milestone_proof_required", "milestone: proof reference required")
	ErrInvalidDecision     = apperror.Validation("milestone_decision_invalid", "milestone: decision must be APPROVED or REJECTED")
	ErrArchived            = apperror.Conflict("milestone_archived", "milestone: archived")
	ErrAlreadyReviewed     = apperror.Conflict("milestone_already_reviewed", "milestone: already reviewed")
	ErrChangeRequestBilled = apperror.Conflict("milestone_change_request_billed", "milestone: change request already billed")
)

// ProjectOwners resolves who owns a project.
type ProjectOwners interface {
	OwnerOf(ctx context.Context, q db.Querier, projectID string) (project.Ownership, error)
}

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool     db.Pool
	repo     Repository
	projects ProjectOwners
	audit    AuditWriter
	outbox   OutboxWriter
	now      func() time.Time
	log      *zap.Logger
}

func NewService(pool db.Pool, repo Repository, projects ProjectOwners, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		projects: projects,
		audit:    auditWriter,
		outbox:   outboxWriter,
		now:      time.Now,
		log:      zap.NewNop(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("milestone")
	return s
}

type SubmitProofParams struct {
	ProjectID string
	Label     string
	Amount    *decimal.Decimal
	ProofRef  string
	Actor     auth.Actor
}

// SubmitProof records a client payment with its proof. The milestone is
// created directly in UNDER_REVIEW.
func (s *Service) SubmitProof(ctx context.Context, params SubmitProofParams) (Milestone, error) {
	label := strings.TrimSpace(params.Label)
	if label == "" {
		return Milestone{}, ErrLabelRequired.WithField("label")
	}
	if params.Amount == nil {
		return Milestone{}, ErrAmountRequired.WithField("amount")
	}
	amount, err := checkAmount(*params.Amount)
	if err != nil {
		return Milestone{}, err
	}
	proof := strings.TrimSpace(params.ProofRef)
	if proof == "" {
		return Milestone{}, ErrProofRequired.WithField("proof_ref")
	}

	owner, err := s.projects.OwnerOf(ctx, s.pool, params.ProjectID)
	if err != nil {
		return Milestone{}, err
	}
	if !params.Actor.Owns(owner.OwnerID) {
		return Milestone{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	submitter := params.Actor.UserID
	m, err := s.repo.Insert(ctx, tx, Milestone{
		ProjectID:   owner.ProjectID,
		Label:       label,
		Amount:      amount,
		Status:      StatusUnderReview,
		ProofRef:    &proof,
		SubmittedBy: &submitter,
	})
	if err != nil {
		return Milestone{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     "milestone.submitted",
		ActorID:    submitter,
		ToStatus:   string(m.Status),
		Amount:     &amount,
	}); err != nil {
		return Milestone{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicMilestoneSubmitted, map[string]any{
		"milestone_id": m.ID,
		"project_id":   m.ProjectID,
		"label":        m.Label,
		"amount":       money.String(m.Amount),
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit submit: %w", err)
	}
	metrics.Transition("milestone", string(m.Status))
	return m, nil
}

type PlanParams struct {
	ProjectID string
	Label     string
	Amount    decimal.Decimal
	PhaseID   *string
	Actor     auth.Actor
}

// Plan adds a PENDING line item, optionally gated on a phase.
func (s *Service) Plan(ctx context.Context, params PlanParams) (Milestone, error) {
	if !params.Actor.IsStaff() {
		return Milestone{}, ErrForbidden
	}
	label := strings.TrimSpace(params.Label)
	if label == "" {
		return Milestone{}, ErrLabelRequired.WithField("label")
	}
	amount, err := checkAmount(params.Amount)
	if err != nil {
		return Milestone{}, err
	}
	owner, err := s.projects.OwnerOf(ctx, s.pool, params.ProjectID)
	if err != nil {
		return Milestone{}, err
	}
	if params.PhaseID != nil {
		ok, err := s.repo.PhaseBelongs(ctx, s.pool, owner.ProjectID, *params.PhaseID)
		if err != nil {
			return Milestone{}, err
		}
		if !ok {
			return Milestone{}, ErrPhaseNotFound.WithField("phase_id")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.Insert(ctx, tx, Milestone{
		ProjectID: owner.ProjectID,
		Label:     label,
		Amount:    amount,
		Status:    StatusPending,
		PhaseID:   params.PhaseID,
	})
	if err != nil {
		return Milestone{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     "milestone.planned",
		ActorID:    params.Actor.UserID,
		ToStatus:   string(m.Status),
		Amount:     &amount,
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit plan: %w", err)
	}
	metrics.Transition("milestone", string(m.Status))
	return m, nil
}

// BillChangeRequest creates the PENDING milestone for an accepted change
// request inside the caller's transaction.
func (s *Service) BillChangeRequest(ctx context.Context, tx pgx.Tx, projectID, changeRequestID, label string, amount decimal.Decimal, actorID string) (Milestone, error) {
	if !amount.IsPositive() {
		return Milestone{}, ErrInvalidAmount.WithField("amount")
	}
	crID := changeRequestID
	m, err := s.repo.Insert(ctx, tx, Milestone{
		ProjectID:       projectID,
		Label:           label,
		Amount:          amount,
		Status:          StatusPending,
		ChangeRequestID: &crID,
	})
	if err != nil {
		return Milestone{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     "milestone.billed_change_request",
		ActorID:    actorID,
		ToStatus:   string(m.Status),
		Amount:     &amount,
	}); err != nil {
		return Milestone{}, err
	}
	return m, nil
}

type AttachProofParams struct {
	MilestoneID string
	ProofRef    string
	Actor       auth.Actor
}

// AttachProof moves a PENDING or REJECTED milestone to UNDER_REVIEW. A
// milestone already under review has its proof replaced.
func (s *Service) AttachProof(ctx context.Context, params AttachProofParams) (Milestone, error) {
	proof := strings.TrimSpace(params.ProofRef)
	if proof == "" {
		return Milestone{}, ErrProofRequired.WithField("proof_ref")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.GetForUpdate(ctx, tx, params.MilestoneID)
	if err != nil {
		return Milestone{}, err
	}
	owner, err := s.projects.OwnerOf(ctx, tx, m.ProjectID)
	if err != nil {
		return Milestone{}, err
	}
	if !params.Actor.Owns(owner.OwnerID) {
		return Milestone{}, ErrForbidden
	}
	if m.Archived() {
		return Milestone{}, ErrArchived.WithState(string(m.Status))
	}
	if m.Status == StatusApproved {
		return Milestone{}, ErrAlreadyReviewed.WithState(string(m.Status))
	}

	updated, err := s.repo.AttachProof(ctx, tx, m.ID, proof, params.Actor.UserID)
	if err != nil {
		return Milestone{}, err
	}
	amount := updated.Amount
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     "milestone.proof_attached",
		ActorID:    params.Actor.UserID,
		FromStatus: string(m.Status),
		ToStatus:   string(updated.Status),
		Amount:     &amount,
	}); err != nil {
		return Milestone{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicMilestoneSubmitted, map[string]any{
		"milestone_id": m.ID,
		"project_id":   m.ProjectID,
		"label":        m.Label,
		"amount":       money.String(m.Amount),
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit proof: %w", err)
	}
	metrics.Transition("milestone", string(updated.Status))
	return updated, nil
}

type ReviewParams struct {
	MilestoneID string
	Decision    Status
	Actor       auth.Actor
}

// Review approves or rejects a milestone. Repeating the recorded decision is
// a no-op; reversing it is a conflict.
func (s *Service) Review(ctx context.Context, params ReviewParams) (Milestone, error) {
	if !params.Actor.IsStaff() {
		return Milestone{}, ErrForbidden
	}
	if !params.Decision.Decided() {
		return Milestone{}, ErrInvalidDecision.WithField("status")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.GetForUpdate(ctx, tx, params.MilestoneID)
	if err != nil {
		return Milestone{}, err
	}
	switch {
	case m.Status == params.Decision:
		return m, nil
	case m.Status.Decided():
		return Milestone{}, ErrAlreadyReviewed.WithState(string(m.Status))
	case m.Archived():
		return Milestone{}, ErrArchived.WithState(string(m.Status))
	}

	reviewed, err := s.repo.Decide(ctx, tx, m.ID, params.Decision, params.Actor.UserID, s.now().UTC())
	if err != nil {
		return Milestone{}, err
	}
	amount := reviewed.Amount
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     "milestone.reviewed",
		ActorID:    params.Actor.UserID,
		FromStatus: string(m.Status),
		ToStatus:   string(reviewed.Status),
		Amount:     &amount,
	}); err != nil {
		return Milestone{}, err
	}

	owner, err := s.projects.OwnerOf(ctx, tx, m.ProjectID)
	if err != nil {
		return Milestone{}, err
	}
	if err := s.enqueue(ctx, tx, outbox.TopicMilestoneReviewed, map[string]any{
		"milestone_id": m.ID,
		"project_id":   m.ProjectID,
		"label":        m.Label,
		"status":       string(reviewed.Status),
		"email":        owner.OwnerEmail,
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit review: %w", err)
	}
	metrics.Transition("milestone", string(reviewed.Status))
	return reviewed, nil
}

type ArchiveParams struct {
	MilestoneID string
	Archived    bool
	Actor       auth.Actor
}

// Archive toggles the archive timestamp. Rows are never deleted.
func (s *Service) Archive(ctx context.Context, params ArchiveParams) (Milestone, error) {
	if !params.Actor.IsStaff() {
		return Milestone{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.repo.GetForUpdate(ctx, tx, params.MilestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if m.Archived() == params.Archived {
		return m, nil
	}

	var at *time.Time
	action := "milestone.unarchived"
	if params.Archived {
		now := s.now().UTC()
		at = &now
		action = "milestone.archived"
	}
	updated, err := s.repo.SetArchived(ctx, tx, m.ID, at)
	if err != nil {
		return Milestone{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityMilestone,
		EntityID:   m.ID,
		Action:     action,
		ActorID:    params.Actor.UserID,
		FromStatus: string(m.Status),
		ToStatus:   string(updated.Status),
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit archive: %w", err)
	}
	return updated, nil
}

// List returns a project's milestones. Archived rows are only included on
// request.
func (s *Service) List(ctx context.Context, projectID string, includeArchived bool, actor auth.Actor) ([]Milestone, error) {
	if err := s.authorizeRead(ctx, projectID, actor); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, s.pool, projectID, includeArchived)
}

func (s *Service) Totals(ctx context.Context, projectID string, actor auth.Actor) (Totals, error) {
	if err := s.authorizeRead(ctx, projectID, actor); err != nil {
		return Totals{}, err
	}
	return s.repo.Totals(ctx, s.pool, projectID)
}

func (s *Service) authorizeRead(ctx context.Context, projectID string, actor auth.Actor) error {
	owner, err := s.projects.OwnerOf(ctx, s.pool, projectID)
	if err != nil {
		return err
	}
	if !actor.Owns(owner.OwnerID) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("milestone: append audit: %w", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("milestone: enqueue %s: %w", topic, err)
	}
	return nil
}

func checkAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount.WithField("amount")
	}
	if !amount.Equal(amount.Round(money.Scale)) {
		return decimal.Zero, money.ErrTooManyDecimals.WithField("amount")
	}
	return amount, nil
}
