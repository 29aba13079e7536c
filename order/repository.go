package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"agencyflow/db"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	Get(ctx context.Context, q db.Querier, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	UpdateTotal(ctx context.Context, tx pgx.Tx, id string, total decimal.Decimal) (Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Order, error)
	MarkDelivered(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	ListForUser(ctx context.Context, q db.Querier, userID string) ([]Order, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const orderColumns = `id, user_id, quote_id, title, currency, total_amount, status, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	created, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, quote_id, title, currency, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+orderColumns,
		o.UserID, o.QuoteID, o.Title, o.Currency, o.TotalAmount, StatusPlaced))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Order{}, ErrDuplicateQuoteOrder
		}
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Order, error) {
	return r.get(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	return r.get(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, q db.Querier, query, id string) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: load %s: %w", id, err)
	}
	return o, nil
}

func (r *PGRepository) UpdateTotal(ctx context.Context, tx pgx.Tx, id string, total decimal.Decimal) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET total_amount = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, total))
	if err != nil {
		return Order{}, fmt.Errorf("order: update total: %w", err)
	}
	return o, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, status))
	if err != nil {
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}
	return o, nil
}

// MarkStarted moves a PLACED order to IN_PROGRESS. Any other status is left
// untouched and reported as unchanged.
func (r *PGRepository) MarkStarted(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'IN_PROGRESS', updated_at = now()
		WHERE id = $1 AND status = 'PLACED'
	`, id)
	if err != nil {
		return false, fmt.Errorf("order: mark started: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDelivered moves the order to DELIVERED. DELIVERED and CANCELLED orders
// are left untouched and reported as unchanged.
func (r *PGRepository) MarkDelivered(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'DELIVERED', updated_at = now()
		WHERE id = $1 AND status NOT IN ('DELIVERED', 'CANCELLED')
	`, id)
	if err != nil {
		return false, fmt.Errorf("order: mark delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) ListForUser(ctx context.Context, q db.Querier, userID string) ([]Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.QuoteID, &o.Title, &o.Currency, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
