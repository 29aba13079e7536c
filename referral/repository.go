package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"agencyflow/db"
)

type Repository interface {
	ReferrerOf(ctx context.Context, q db.Querier, buyerID string) (Referrer, bool, error)
	EmailOf(ctx context.Context, q db.Querier, userID string) (string, error)
	Insert(ctx context.Context, tx pgx.Tx, t Tracking) (Tracking, bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Tracking, error)
	ListForReferrer(ctx context.Context, q db.Querier, referrerID string, forUpdate bool) ([]Tracking, error)
	UpdatePayout(ctx context.Context, tx pgx.Tx, id string, paidOut decimal.Decimal, status Status) (Tracking, error)
	OrderProgress(ctx context.Context, q db.Querier, orderID string) (Progress, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const trackingColumns = `id, referrer_id, referred_user_id, order_id, commission_rate, commission_amount, commission_paid_out, status, created_at, updated_at`

func (r *PGRepository) ReferrerOf(ctx context.Context, q db.Querier, buyerID string) (Referrer, bool, error) {
	const query = `
		SELECT ref.id, ref.email, ref.commission_rate
		FROM users buyer
		JOIN users ref ON ref.id = buyer.referred_by
		WHERE buyer.id = $1
	`
	var ref Referrer
	err := q.QueryRow(ctx, query, buyerID).Scan(&ref.UserID, &ref.Email, &ref.Rate)
	switch {
	case err == nil:
		return ref, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Referrer{}, false, nil
	default:
		return Referrer{}, false, fmt.Errorf("referral: load referrer: %w", err)
	}
}

func (r *PGRepository) EmailOf(ctx context.Context, q db.Querier, userID string) (string, error) {
	var email string
	if err := q.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("referral: load email: %w", err)
	}
	return email, nil
}

// Insert records a grant. The unique order_id makes a repeated grant for the
// same order a no-op; the existing record is returned with created=false.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, t Tracking) (Tracking, bool, error) {
	created, err := scanTracking(tx.QueryRow(ctx, `
		INSERT INTO referral_commissions (referrer_id, referred_user_id, order_id, commission_rate, commission_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING `+trackingColumns,
		t.ReferrerID, t.ReferredUserID, t.OrderID, t.CommissionRate, t.CommissionAmount, StatusPending))
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return Tracking{}, false, fmt.Errorf("referral: insert tracking: %w", err)
	}

	existing, err := scanTracking(tx.QueryRow(ctx, `SELECT `+trackingColumns+` FROM referral_commissions WHERE order_id = $1`, t.OrderID))
	if err != nil {
		return Tracking{}, false, fmt.Errorf("referral: load existing tracking: %w", err)
	}
	return existing, false, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Tracking, error) {
	t, err := scanTracking(tx.QueryRow(ctx, `SELECT `+trackingColumns+` FROM referral_commissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tracking{}, ErrTrackingNotFound
		}
		return Tracking{}, fmt.Errorf("referral: load tracking: %w", err)
	}
	return t, nil
}

func (r *PGRepository) ListForReferrer(ctx context.Context, q db.Querier, referrerID string, forUpdate bool) ([]Tracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM referral_commissions WHERE referrer_id = $1 ORDER BY created_at, id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("referral: list tracking: %w", err)
	}
	defer rows.Close()

	var out []Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("referral: scan tracking: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("referral: iterate tracking: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdatePayout(ctx context.Context, tx pgx.Tx, id string, paidOut decimal.Decimal, status Status) (Tracking, error) {
	t, err := scanTracking(tx.QueryRow(ctx, `
		UPDATE referral_commissions
		SET commission_paid_out = $2, status = $3, updated_at = now()
		WHERE id = $1 AND commission_paid_out <= $2
		RETURNING `+trackingColumns, id, paidOut, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tracking{}, fmt.Errorf("referral: paid-out for %s would decrease", id)
		}
		return Tracking{}, fmt.Errorf("referral: update payout: %w", err)
	}
	return t, nil
}

// OrderProgress reads the order total and the sum of its approved payments.
// Archived payments still count.
func (r *PGRepository) OrderProgress(ctx context.Context, q db.Querier, orderID string) (Progress, error) {
	const query = `
		SELECT o.total_amount,
		       COALESCE((
		           SELECT SUM(m.amount)
		           FROM milestone_payments m
		           JOIN projects p ON p.id = m.project_id
		           WHERE p.order_id = o.id AND m.status = 'APPROVED'
		       ), 0)
		FROM orders o
		WHERE o.id = $1
	`
	var p Progress
	if err := q.QueryRow(ctx, query, orderID).Scan(&p.OrderTotal, &p.PaidAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Progress{}, fmt.Errorf("referral: order %s not found", orderID)
		}
		return Progress{}, fmt.Errorf("referral: order progress: %w", err)
	}
	return p, nil
}

func scanTracking(row pgx.Row) (Tracking, error) {
	var t Tracking
	err := row.Scan(
		&t.ID,
		&t.ReferrerID,
		&t.ReferredUserID,
		&t.OrderID,
		&t.CommissionRate,
		&t.CommissionAmount,
		&t.CommissionPaidOut,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}
