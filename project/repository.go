package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agencyflow/db"
)

// Repository is the storage contract of the phase state machine. Writes run
// in the caller's transaction; reads accept either a pool or a tx.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, orderID, name string) (Project, error)
	Get(ctx context.Context, q db.Querier, id string) (Project, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error)
	OwnerOf(ctx context.Context, q db.Querier, projectID string) (Ownership, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, projectID string, status Stage) (Project, error)
	InsertPhase(ctx context.Context, tx pgx.Tx, projectID string, group Stage, title string) (Phase, error)
	GetPhaseForUpdate(ctx context.Context, tx pgx.Tx, projectID, phaseID string) (Phase, error)
	UpdatePhaseStatus(ctx context.Context, tx pgx.Tx, phaseID string, status PhaseStatus) (Phase, error)
	ListPhases(ctx context.Context, q db.Querier, projectID string) ([]Phase, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const projectColumns = `id, order_id, name, status, created_at, updated_at`
const phaseColumns = `id, project_id, grp, title, status, order_index, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, orderID, name string) (Project, error) {
	p, err := scanProject(tx.QueryRow(ctx, `
		INSERT INTO projects (order_id, name, status)
		VALUES ($1, $2, $3)
		RETURNING `+projectColumns, orderID, name, StageRequirements))
	if err != nil {
		return Project{}, fmt.Errorf("project: create: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Project, error) {
	return r.get(ctx, q, id, `SELECT `+projectColumns+` FROM projects WHERE id = $1`)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error) {
	return r.get(ctx, tx, id, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, id, query string) (Project, error) {
	p, err := scanProject(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrProjectNotFound
		}
		return Project{}, fmt.Errorf("project: load %s: %w", id, err)
	}
	return p, nil
}

func (r *PGRepository) OwnerOf(ctx context.Context, q db.Querier, projectID string) (Ownership, error) {
	const query = `
		SELECT p.id, o.id, o.user_id, u.email
		FROM projects p
		JOIN orders o ON o.id = p.order_id
		JOIN users u ON u.id = o.user_id
		WHERE p.id = $1
	`
	var own Ownership
	if err := q.QueryRow(ctx, query, projectID).Scan(&own.ProjectID, &own.OrderID, &own.OwnerID, &own.OwnerEmail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ownership{}, ErrProjectNotFound
		}
		return Ownership{}, fmt.Errorf("project: load owner: %w", err)
	}
	return own, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, projectID string, status Stage) (Project, error) {
	p, err := scanProject(tx.QueryRow(ctx, `
		UPDATE projects
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns, projectID, status))
	if err != nil {
		return Project{}, fmt.Errorf("project: update status: %w", err)
	}
	return p, nil
}

// InsertPhase appends a phase after the last one. Callers hold the project
// row lock so the computed index cannot race.
func (r *PGRepository) InsertPhase(ctx context.Context, tx pgx.Tx, projectID string, group Stage, title string) (Phase, error) {
	ph, err := scanPhase(tx.QueryRow(ctx, `
		INSERT INTO project_phases (project_id, grp, title, status, order_index)
		SELECT $1, $2, $3, 'PENDING', COALESCE(MAX(order_index), 0) + 1
		FROM project_phases
		WHERE project_id = $1
		RETURNING `+phaseColumns, projectID, group, title))
	if err != nil {
		return Phase{}, fmt.Errorf("project: insert phase: %w", err)
	}
	return ph, nil
}

func (r *PGRepository) GetPhaseForUpdate(ctx context.Context, tx pgx.Tx, projectID, phaseID string) (Phase, error) {
	ph, err := scanPhase(tx.QueryRow(ctx, `
		SELECT `+phaseColumns+`
		FROM project_phases
		WHERE id = $1 AND project_id = $2
		FOR UPDATE`, phaseID, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Phase{}, ErrPhaseNotFound
		}
		return Phase{}, fmt.Errorf("project: load phase: %w", err)
	}
	return ph, nil
}

func (r *PGRepository) UpdatePhaseStatus(ctx context.Context, tx pgx.Tx, phaseID string, status PhaseStatus) (Phase, error) {
	ph, err := scanPhase(tx.QueryRow(ctx, `
		UPDATE project_phases
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+phaseColumns, phaseID, status))
	if err != nil {
		return Phase{}, fmt.Errorf("project: update phase status: %w", err)
	}
	return ph, nil
}

func (r *PGRepository) ListPhases(ctx context.Context, q db.Querier, projectID string) ([]Phase, error) {
	rows, err := q.Query(ctx, `
		SELECT `+phaseColumns+`
		FROM project_phases
		WHERE project_id = $1
		ORDER BY order_index`, projectID)
	if err != nil {
		return nil, fmt.Errorf("project: list phases: %w", err)
	}
	defer rows.Close()

	phases := make([]Phase, 0, 8)
	for rows.Next() {
		ph, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("project: scan phase: %w", err)
		}
		phases = append(phases, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("project: iterate phases: %w", err)
	}
	return phases, nil
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.OrderID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPhase(row pgx.Row) (Phase, error) {
	var ph Phase
	err := row.Scan(&ph.ID, &ph.ProjectID, &ph.Group, &ph.Title, &ph.Status, &ph.OrderIndex, &ph.CreatedAt, &ph.UpdatedAt)
	return ph, err
}
