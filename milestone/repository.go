package milestone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agencyflow/db"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error)
	Get(ctx context.Context, q db.Querier, id string) (Milestone, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Milestone, error)
	GetByChangeRequest(ctx context.Context, q db.Querier, changeRequestID string) (Milestone, error)
	AttachProof(ctx context.Context, tx pgx.Tx, id, proofRef, submittedBy string) (Milestone, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, status Status, reviewerID string, at time.Time) (Milestone, error)
	SetArchived(ctx context.Context, tx pgx.Tx, id string, at *time.Time) (Milestone, error)
	PhaseBelongs(ctx context.Context, q db.Querier, projectID, phaseID string) (bool, error)
	List(ctx context.Context, q db.Querier, projectID string, includeArchived bool) ([]Milestone, error)
	Totals(ctx context.Context, q db.Querier, projectID string) (Totals, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const milestoneColumns = `id, project_id, label, amount, status, proof_ref, phase_id, change_request_id,
	submitted_by, reviewed_by, reviewed_at, archived_at, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error) {
	created, err := scanMilestone(tx.QueryRow(ctx, `
		INSERT INTO milestone_payments (project_id, label, amount, status, proof_ref, phase_id, change_request_id, submitted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+milestoneColumns,
		m.ProjectID, m.Label, m.Amount, m.Status, m.ProofRef, m.PhaseID, m.ChangeRequestID, m.SubmittedBy))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Milestone{}, ErrChangeRequestBilled
		}
		return Milestone{}, fmt.Errorf("milestone: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Milestone, error) {
	return r.get(ctx, q, `SELECT `+milestoneColumns+` FROM milestone_payments WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Milestone, error) {
	return r.get(ctx, tx, `SELECT `+milestoneColumns+` FROM milestone_payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) GetByChangeRequest(ctx context.Context, q db.Querier, changeRequestID string) (Milestone, error) {
	return r.get(ctx, q, `SELECT `+milestoneColumns+` FROM milestone_payments WHERE change_request_id = $1`, changeRequestID)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query string, arg string) (Milestone, error) {
	m, err := scanMilestone(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: load: %w", err)
	}
	return m, nil
}

func (r *PGRepository) AttachProof(ctx context.Context, tx pgx.Tx, id, proofRef, submittedBy string) (Milestone, error) {
	m, err := scanMilestone(tx.QueryRow(ctx, `
		UPDATE milestone_payments
		SET proof_ref = $2, submitted_by = $3, status = 'UNDER_REVIEW',
		    reviewed_by = NULL, reviewed_at = NULL, updated_at = now()
		WHERE id = $1
		RETURNING `+milestoneColumns, id, proofRef, submittedBy))
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: attach proof: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Decide(ctx context.Context, tx pgx.Tx, id string, status Status, reviewerID string, at time.Time) (Milestone, error) {
	m, err := scanMilestone(tx.QueryRow(ctx, `
		UPDATE milestone_payments
		SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+milestoneColumns, id, status, reviewerID, at))
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: decide: %w", err)
	}
	return m, nil
}

func (r *PGRepository) SetArchived(ctx context.Context, tx pgx.Tx, id string, at *time.Time) (Milestone, error) {
	m, err := scanMilestone(tx.QueryRow(ctx, `
		UPDATE milestone_payments
		SET archived_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+milestoneColumns, id, at))
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: set archived: %w", err)
	}
	return m, nil
}

func (r *PGRepository) PhaseBelongs(ctx context.Context, q db.Querier, projectID, phaseID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM project_phases WHERE id = $1 AND project_id = $2)
	`, phaseID, projectID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("milestone: check phase: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, projectID string, includeArchived bool) ([]Milestone, error) {
	rows, err := q.Query(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestone_payments
		WHERE project_id = $1 AND ($2 OR archived_at IS NULL)
		ORDER BY created_at, id
	`, projectID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("milestone: list: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate: %w", err)
	}
	return out, nil
}

// Totals counts archived rows too; archiving only hides a line from views.
func (r *PGRepository) Totals(ctx context.Context, q db.Querier, projectID string) (Totals, error) {
	var t Totals
	err := q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'UNDER_REVIEW'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'APPROVED'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'REJECTED'), 0)
		FROM milestone_payments
		WHERE project_id = $1
	`, projectID).Scan(&t.Pending, &t.UnderReview, &t.Approved, &t.Rejected)
	if err != nil {
		return Totals{}, fmt.Errorf("milestone: totals: %w", err)
	}
	return t, nil
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Label, &m.Amount, &m.Status, &m.ProofRef, &m.PhaseID, &m.ChangeRequestID,
		&m.SubmittedBy, &m.ReviewedBy, &m.ReviewedAt, &m.ArchivedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}
