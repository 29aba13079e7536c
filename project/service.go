package project

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"agencyflow/apperror"
	"agencyflow/audit"
	"agencyflow/auth"
	"agencyflow/db"
	"agencyflow/metrics"
	"agencyflow/outbox"
)

var (
	ErrProjectNotFound    = apperror.NotFound("project_not_found", "project: not found")
	ErrPhaseNotFound      = apperror.NotFound("phase_not_found", "project: phase not found")
	ErrForbidden          = apperror.Unauthorized("project_forbidden", "project: actor may not access this project")
	ErrInvalidGroup       = apperror.Validation("phase_group_invalid", "project: unknown phase group")
	ErrInvalidPhaseStatus = apperror.Validation("phase_status_invalid", "project: unknown phase status")
	ErrTitleRequired      = apperror.Validation("phase_title_required", "project: phase title required")
)

// OrderTracker follows the project's progress on its order. MarkStarted moves
// a PLACED order to IN_PROGRESS; MarkDelivered moves it to DELIVERED unless it
// is already DELIVERED or CANCELLED. Both report whether the order changed.
type OrderTracker interface {
	MarkStarted(ctx context.Context, tx pgx.Tx, orderID string) (bool, error)
	MarkDelivered(ctx context.Context, tx pgx.Tx, orderID string) (bool, error)
}

// DraftCreator inserts the portfolio draft for a project if it is missing and
// reports whether it did. The draft is the once-per-project delivery key.
type DraftCreator interface {
	EnsureDraft(ctx context.Context, tx pgx.Tx, projectID, title string) (bool, error)
}

type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool   db.Pool
	repo   Repository
	orders OrderTracker
	drafts DraftCreator
	audit  AuditWriter
	outbox OutboxWriter
	log    *zap.Logger
}

func NewService(pool db.Pool, repo Repository, orders OrderTracker, drafts DraftCreator, auditWriter AuditWriter, outboxWriter OutboxWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		drafts: drafts,
		audit:  auditWriter,
		outbox: outboxWriter,
		log:    zap.NewNop(),
	}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	s.log = log.Named("project")
	return s
}

type AddPhaseParams struct {
	ProjectID string
	Group     Stage
	Title     string
	Actor     auth.Actor
}

// AddPhase appends a PENDING phase to the project. Staff only.
func (s *Service) AddPhase(ctx context.Context, params AddPhaseParams) (Phase, error) {
	if !params.Actor.IsStaff() {
		return Phase{}, ErrForbidden
	}
	if !params.Group.Valid() {
		return Phase{}, ErrInvalidGroup.WithField("group")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Phase{}, ErrTitleRequired.WithField("title")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Phase{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetForUpdate(ctx, tx, params.ProjectID); err != nil {
		return Phase{}, err
	}
	ph, err := s.repo.InsertPhase(ctx, tx, params.ProjectID, params.Group, title)
	if err != nil {
		return Phase{}, err
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityPhase,
		EntityID:   ph.ID,
		Action:     "phase.added",
		ActorID:    params.Actor.UserID,
		ToStatus:   string(ph.Status),
	}); err != nil {
		return Phase{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Phase{}, fmt.Errorf("project: commit add phase: %w", err)
	}
	return ph, nil
}

type SetPhaseStatusParams struct {
	ProjectID string
	PhaseID   string
	Status    PhaseStatus
	Actor     auth.Actor
}

type SetPhaseStatusResult struct {
	Phase   Phase
	Project Project
	// Delivered is true only on the call that first delivered the project.
	// Reaching DELIVERED again after a phase was reopened does not count.
	Delivered bool
}

// SetPhaseStatus updates one phase and recomputes the project status in the
// same transaction. The project row lock serialises concurrent phase updates
// on one project, so exactly one call observes the move to DELIVERED and
// runs the delivery side effects.
func (s *Service) SetPhaseStatus(ctx context.Context, params SetPhaseStatusParams) (SetPhaseStatusResult, error) {
	if !params.Actor.IsStaff() {
		return SetPhaseStatusResult{}, ErrForbidden
	}
	if !params.Status.Valid() {
		return SetPhaseStatusResult{}, ErrInvalidPhaseStatus.WithField("status")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SetPhaseStatusResult{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proj, err := s.repo.GetForUpdate(ctx, tx, params.ProjectID)
	if err != nil {
		return SetPhaseStatusResult{}, err
	}
	ph, err := s.repo.GetPhaseForUpdate(ctx, tx, params.ProjectID, params.PhaseID)
	if err != nil {
		return SetPhaseStatusResult{}, err
	}

	previousPhase := ph.Status
	if previousPhase != params.Status {
		ph, err = s.repo.UpdatePhaseStatus(ctx, tx, ph.ID, params.Status)
		if err != nil {
			return SetPhaseStatusResult{}, err
		}
		if err := s.appendAudit(ctx, tx, audit.Entry{
			EntityType: audit.EntityPhase,
			EntityID:   ph.ID,
			Action:     "phase.status_changed",
			ActorID:    params.Actor.UserID,
			FromStatus: string(previousPhase),
			ToStatus:   string(ph.Status),
		}); err != nil {
			return SetPhaseStatusResult{}, err
		}
	}

	phases, err := s.repo.ListPhases(ctx, tx, proj.ID)
	if err != nil {
		return SetPhaseStatusResult{}, err
	}

	result := SetPhaseStatusResult{Phase: ph, Project: proj}
	orderStarted := false
	derived, ok := DeriveStatus(phases)
	if ok && derived != proj.Status {
		previous := proj.Status
		updated, err := s.repo.UpdateStatus(ctx, tx, proj.ID, derived)
		if err != nil {
			return SetPhaseStatusResult{}, err
		}
		result.Project = updated
		if err := s.appendAudit(ctx, tx, audit.Entry{
			EntityType: audit.EntityProject,
			EntityID:   proj.ID,
			Action:     "project.status_derived",
			ActorID:    params.Actor.UserID,
			FromStatus: string(previous),
			ToStatus:   string(derived),
		}); err != nil {
			return SetPhaseStatusResult{}, err
		}

		switch derived {
		case StageDelivered:
			first, err := s.deliver(ctx, tx, updated, params.Actor)
			if err != nil {
				return SetPhaseStatusResult{}, err
			}
			result.Delivered = first
		case StageRequirements:
		default:
			if orderStarted, err = s.start(ctx, tx, updated, params.Actor); err != nil {
				return SetPhaseStatusResult{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SetPhaseStatusResult{}, fmt.Errorf("project: commit phase status: %w", err)
	}

	if previousPhase != ph.Status {
		metrics.Transition("phase", string(ph.Status))
	}
	if result.Project.Status != proj.Status {
		metrics.Transition("project", string(result.Project.Status))
	}
	if orderStarted {
		metrics.Transition("order", "IN_PROGRESS")
	}
	if result.Delivered {
		s.log.Info("project delivered", zap.String("project_id", proj.ID), zap.String("order_id", proj.OrderID))
	}
	return result, nil
}

// start moves the order to IN_PROGRESS the first time the project leaves
// REQUIREMENTS.
func (s *Service) start(ctx context.Context, tx pgx.Tx, proj Project, actor auth.Actor) (bool, error) {
	if s.orders == nil {
		return false, nil
	}
	changed, err := s.orders.MarkStarted(ctx, tx, proj.OrderID)
	if err != nil {
		return false, fmt.Errorf("project: mark order started: %w", err)
	}
	if !changed {
		return false, nil
	}
	if err := s.appendAudit(ctx, tx, audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   proj.OrderID,
		Action:     "order.started",
		ActorID:    actor.UserID,
		FromStatus: "PLACED",
		ToStatus:   "IN_PROGRESS",
	}); err != nil {
		return false, err
	}
	return true, nil
}

// deliver applies the delivery side effects and reports whether this was the
// project's first delivery. The order update and the draft insert are
// idempotent; the notification is only enqueued when the draft is new.
func (s *Service) deliver(ctx context.Context, tx pgx.Tx, proj Project, actor auth.Actor) (bool, error) {
	first := false
	if s.orders != nil {
		changed, err := s.orders.MarkDelivered(ctx, tx, proj.OrderID)
		if err != nil {
			return false, fmt.Errorf("project: mark order delivered: %w", err)
		}
		if changed {
			if err := s.appendAudit(ctx, tx, audit.Entry{
				EntityType: audit.EntityOrder,
				EntityID:   proj.OrderID,
				Action:     "order.delivered",
				ActorID:    actor.UserID,
				ToStatus:   "DELIVERED",
			}); err != nil {
				return false, err
			}
		}
		first = changed
	}
	if s.drafts != nil {
		created, err := s.drafts.EnsureDraft(ctx, tx, proj.ID, proj.Name)
		if err != nil {
			return false, fmt.Errorf("project: ensure portfolio draft: %w", err)
		}
		first = created
	}
	if !first {
		return false, nil
	}
	if s.outbox != nil {
		payload := map[string]any{
			"project_id": proj.ID,
			"order_id":   proj.OrderID,
		}
		if own, err := s.repo.OwnerOf(ctx, tx, proj.ID); err == nil {
			payload["email"] = own.OwnerEmail
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicProjectDelivered, payload); err != nil {
			return false, fmt.Errorf("project: enqueue delivered: %w", err)
		}
	}
	return true, nil
}

// Get returns the project with its phases to its owner or staff.
func (s *Service) Get(ctx context.Context, projectID string, actor auth.Actor) (Detail, error) {
	own, err := s.repo.OwnerOf(ctx, s.pool, projectID)
	if err != nil {
		return Detail{}, err
	}
	if !actor.Owns(own.OwnerID) {
		return Detail{}, ErrForbidden
	}
	proj, err := s.repo.Get(ctx, s.pool, projectID)
	if err != nil {
		return Detail{}, err
	}
	phases, err := s.repo.ListPhases(ctx, s.pool, projectID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Project: proj, Phases: phases}, nil
}

func (s *Service) appendAudit(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Append(ctx, tx, e); err != nil {
		return fmt.Errorf("project: append audit: %w", err)
	}
	return nil
}
