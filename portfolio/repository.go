package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agencyflow/apperror"
)

// ErrNotFound signals the requested draft does not exist.
var ErrNotFound = apperror.NotFound("portfolio_not_found", "portfolio: draft not found")

// Repository stores delivery drafts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureDraft inserts the draft for projectID unless one exists. It reports
// whether a row was created. The unique project_id column makes concurrent
// deliveries of the same project collapse to one draft.
func (r *Repository) EnsureDraft(ctx context.Context, tx pgx.Tx, projectID, title string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO portfolio_drafts (project_id, title)
		VALUES ($1, $2)
		ON CONFLICT (project_id) DO NOTHING
	`, projectID, title)
	if err != nil {
		return false, fmt.Errorf("portfolio: ensure draft: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByProjectID fetches the draft of a project.
func (r *Repository) GetByProjectID(ctx context.Context, projectID string) (Draft, error) {
	const query = `
		SELECT id, project_id, title, status, created_at
		FROM portfolio_drafts
		WHERE project_id = $1
	`

	var d Draft
	err := r.pool.QueryRow(ctx, query, projectID).Scan(&d.ID, &d.ProjectID, &d.Title, &d.Status, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Draft{}, ErrNotFound
		}
		return Draft{}, fmt.Errorf("portfolio: query by project: %w", err)
	}
	return d, nil
}

// List fetches up to limit drafts, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Draft, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, project_id, title, status, created_at
		FROM portfolio_drafts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("portfolio: list: %w", err)
	}
	defer rows.Close()

	drafts := make([]Draft, 0, limit)
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("portfolio: scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("portfolio: iterate drafts: %w", err)
	}
	return drafts, nil
}
