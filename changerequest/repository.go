package changerequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"agencyflow/db"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, cr ChangeRequest) (ChangeRequest, error)
	Get(ctx context.Context, q db.Querier, id string) (ChangeRequest, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (ChangeRequest, error)
	Update(ctx context.Context, tx pgx.Tx, id, title, description string, amount decimal.NullDecimal) (ChangeRequest, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, status Status, decidedBy string, at time.Time) (ChangeRequest, error)
	List(ctx context.Context, q db.Querier, projectID string) ([]ChangeRequest, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const changeRequestColumns = `id, project_id, title, description, amount, status, proposed_by, decided_by, decided_at, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, cr ChangeRequest) (ChangeRequest, error) {
	created, err := scanChangeRequest(tx.QueryRow(ctx, `
		INSERT INTO change_requests (project_id, title, description, amount, proposed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+changeRequestColumns,
		cr.ProjectID, cr.Title, cr.Description, cr.Amount, cr.ProposedBy))
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("changerequest: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (ChangeRequest, error) {
	return r.get(ctx, q, `SELECT `+changeRequestColumns+` FROM change_requests WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (ChangeRequest, error) {
	return r.get(ctx, tx, `SELECT `+changeRequestColumns+` FROM change_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (ChangeRequest, error) {
	cr, err := scanChangeRequest(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, ErrNotFound
		}
		return ChangeRequest{}, fmt.Errorf("changerequest: load %s: %w", id, err)
	}
	return cr, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, id, title, description string, amount decimal.NullDecimal) (ChangeRequest, error) {
	cr, err := scanChangeRequest(tx.QueryRow(ctx, `
		UPDATE change_requests
		SET title = $2, description = $3, amount = $4, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+changeRequestColumns, id, title, description, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, ErrNotPending
		}
		return ChangeRequest{}, fmt.Errorf("changerequest: update: %w", err)
	}
	return cr, nil
}

func (r *PGRepository) Decide(ctx context.Context, tx pgx.Tx, id string, status Status, decidedBy string, at time.Time) (ChangeRequest, error) {
	cr, err := scanChangeRequest(tx.QueryRow(ctx, `
		UPDATE change_requests
		SET status = $2, decided_by = $3, decided_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+changeRequestColumns, id, status, decidedBy, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, ErrNotPending
		}
		return ChangeRequest{}, fmt.Errorf("changerequest: decide: %w", err)
	}
	return cr, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, projectID string) ([]ChangeRequest, error) {
	rows, err := q.Query(ctx, `
		SELECT `+changeRequestColumns+`
		FROM change_requests
		WHERE project_id = $1
		ORDER BY created_at DESC, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("changerequest: list: %w", err)
	}
	defer rows.Close()

	var out []ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("changerequest: scan: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("changerequest: iterate: %w", err)
	}
	return out, nil
}

func scanChangeRequest(row pgx.Row) (ChangeRequest, error) {
	var cr ChangeRequest
	err := row.Scan(&cr.ID, &cr.ProjectID, &cr.Title, &cr.Description, &cr.Amount, &cr.Status,
		&cr.ProposedBy, &cr.DecidedBy, &cr.DecidedAt, &cr.CreatedAt, &cr.UpdatedAt)
	return cr, err
}
