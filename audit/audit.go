// Package audit records one typed row per ledger transition, written inside
// the transaction that performs the transition.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"agencyflow/db"
)

type EntityType string

const (
	EntityQuote         EntityType = "quote"
	EntityOrder         EntityType = "order"
	EntityProject       EntityType = "project"
	EntityPhase         EntityType = "phase"
	EntityMilestone     EntityType = "milestone"
	EntityChangeRequest EntityType = "change_request"
	EntityCommission    EntityType = "commission"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityQuote, EntityOrder, EntityProject, EntityPhase, EntityMilestone, EntityChangeRequest, EntityCommission:
		return true
	default:
		return false
	}
}

// Entry is a single transition. Amount is set when the transition moves money.
type Entry struct {
	EntityType EntityType
	EntityID   string
	Action     string
	ActorID    string
	FromStatus string
	ToStatus   string
	Amount     *decimal.Decimal
}

// Record is a persisted Entry.
type Record struct {
	ID         int64
	EntityType EntityType
	EntityID   string
	Action     string
	ActorID    *string
	FromStatus *string
	ToStatus   *string
	Amount     decimal.NullDecimal
	CreatedAt  time.Time
}

type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, e Entry) error {
	if e.EntityType == "" || e.EntityID == "" || e.Action == "" {
		return fmt.Errorf("audit: entity type, id and action are required")
	}
	var amount decimal.NullDecimal
	if e.Amount != nil {
		amount = decimal.NewNullDecimal(*e.Amount)
	}
	const q = `
INSERT INTO audit_entries (entity_type, entity_id, action, actor_id, from_status, to_status, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	if _, err := tx.Exec(ctx, q, e.EntityType, e.EntityID, e.Action, nullable(e.ActorID), nullable(e.FromStatus), nullable(e.ToStatus), amount); err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// List returns the trail for one entity, oldest first.
func List(ctx context.Context, q db.Querier, entityType EntityType, entityID string) ([]Record, error) {
	const query = `
SELECT id, entity_type, entity_id, action, actor_id, from_status, to_status, amount, created_at
FROM audit_entries
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id
`
	rows, err := q.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Action, &r.ActorID, &r.FromStatus, &r.ToStatus, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return out, nil
}

// Reader serves audit trails outside of any transaction.
type Reader struct {
	q db.Querier
}

func NewReader(q db.Querier) *Reader { return &Reader{q: q} }

func (r *Reader) Trail(ctx context.Context, entityType EntityType, entityID string) ([]Record, error) {
	return List(ctx, r.q, entityType, entityID)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
