package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agencyflow/db"
)

type Repository interface {
	GetRequest(ctx context.Context, q db.Querier, id string) (Request, error)
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	LinkRequestUser(ctx context.Context, tx pgx.Tx, requestID, userID string) error
	SetRequestStatus(ctx context.Context, tx pgx.Tx, requestID string, status RequestStatus) error

	Insert(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error)
	Get(ctx context.Context, q db.Querier, id string) (Quote, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error)
	FindRedeemableForUpdate(ctx context.Context, tx pgx.Tx, hash string, now time.Time) (Quote, error)
	MarkSent(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id, orderID, projectID, hash string, at time.Time) (Quote, error)
	MarkRejected(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error)
	SetArchived(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Quote, error)
	ListActive(ctx context.Context, q db.Querier, limit int) ([]Quote, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const quoteColumns = `id, request_id, amount, currency, scope, status, token_hash, expires_at,
	sent_at, accepted_at, rejected_at, archived_at, order_id, project_id, created_at, updated_at`

const requestColumns = `id, email, full_name, description, status, user_id`

func (r *PGRepository) GetRequest(ctx context.Context, q db.Querier, id string) (Request, error) {
	return r.getRequest(ctx, q, `SELECT `+requestColumns+` FROM project_requests WHERE id = $1`, id)
}

func (r *PGRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	return r.getRequest(ctx, tx, `SELECT `+requestColumns+` FROM project_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) getRequest(ctx context.Context, q db.Querier, query, id string) (Request, error) {
	var req Request
	err := q.QueryRow(ctx, query, id).Scan(&req.ID, &req.Email, &req.FullName, &req.Description, &req.Status, &req.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("quote: load request %s: %w", id, err)
	}
	return req, nil
}

// LinkRequestUser sets the request owner only when it has none yet.
func (r *PGRepository) LinkRequestUser(ctx context.Context, tx pgx.Tx, requestID, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE project_requests
		SET user_id = $2, updated_at = now()
		WHERE id = $1 AND user_id IS NULL
	`, requestID, userID)
	if err != nil {
		return fmt.Errorf("quote: link request user: %w", err)
	}
	return nil
}

func (r *PGRepository) SetRequestStatus(ctx context.Context, tx pgx.Tx, requestID string, status RequestStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE project_requests
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, requestID, status)
	if err != nil {
		return fmt.Errorf("quote: set request status: %w", err)
	}
	return nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	created, err := scanQuote(tx.QueryRow(ctx, `
		INSERT INTO quotes (request_id, amount, currency, scope, status, token_hash, expires_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+quoteColumns,
		q.RequestID, q.Amount, q.Currency, q.Scope, q.Status, q.TokenHash, q.ExpiresAt, q.SentAt))
	if err != nil {
		return Quote{}, fmt.Errorf("quote: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Quote, error) {
	return r.get(ctx, q, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error) {
	return r.get(ctx, tx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1 FOR UPDATE`, id)
}

// FindRedeemableForUpdate matches only live tokens. Every miss is reported
// the same way whatever the reason.
func (r *PGRepository) FindRedeemableForUpdate(ctx context.Context, tx pgx.Tx, hash string, now time.Time) (Quote, error) {
	q, err := scanQuote(tx.QueryRow(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE token_hash = $1
		  AND archived_at IS NULL
		  AND expires_at > $2
		  AND status IN ('DRAFT', 'SENT')
		FOR UPDATE
	`, hash, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrInvalidToken
		}
		return Quote{}, fmt.Errorf("quote: find by token: %w", err)
	}
	return q, nil
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (Quote, error) {
	quote, err := scanQuote(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, fmt.Errorf("quote: load %s: %w", id, err)
	}
	return quote, nil
}

func (r *PGRepository) MarkSent(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error) {
	return r.update(ctx, tx, "mark sent", `
		UPDATE quotes
		SET status = 'SENT', token_hash = $2, sent_at = COALESCE(sent_at, $3), updated_at = now()
		WHERE id = $1
		RETURNING `+quoteColumns, id, hash, at)
}

func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, id, orderID, projectID, hash string, at time.Time) (Quote, error) {
	return r.update(ctx, tx, "mark accepted", `
		UPDATE quotes
		SET status = 'ACCEPTED', order_id = $2, project_id = $3, token_hash = $4, accepted_at = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+quoteColumns, id, orderID, projectID, hash, at)
}

func (r *PGRepository) MarkRejected(ctx context.Context, tx pgx.Tx, id, hash string, at time.Time) (Quote, error) {
	return r.update(ctx, tx, "mark rejected", `
		UPDATE quotes
		SET status = 'REJECTED', token_hash = $2, rejected_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+quoteColumns, id, hash, at)
}

func (r *PGRepository) SetArchived(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Quote, error) {
	return r.update(ctx, tx, "archive", `
		UPDATE quotes
		SET archived_at = COALESCE(archived_at, $2), updated_at = now()
		WHERE id = $1
		RETURNING `+quoteColumns, id, at)
}

func (r *PGRepository) update(ctx context.Context, tx pgx.Tx, op, query string, args ...any) (Quote, error) {
	q, err := scanQuote(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, fmt.Errorf("quote: %s: %w", op, err)
	}
	return q, nil
}

func (r *PGRepository) ListActive(ctx context.Context, q db.Querier, limit int) ([]Quote, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE archived_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("quote: list active: %w", err)
	}
	defer rows.Close()

	var out []Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("quote: scan: %w", err)
		}
		out = append(out, quote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quote: iterate: %w", err)
	}
	return out, nil
}

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(
		&q.ID, &q.RequestID, &q.Amount, &q.Currency, &q.Scope, &q.Status, &q.TokenHash, &q.ExpiresAt,
		&q.SentAt, &q.AcceptedAt, &q.RejectedAt, &q.ArchivedAt, &q.OrderID, &q.ProjectID, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}
