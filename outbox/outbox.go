// Package outbox persists notification intents inside ledger transactions and
// relays them to a Notifier afterwards. A failed delivery is retried and
// eventually parked; it never affects the ledger state that produced it.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	TopicQuoteIssued           = "quote.issued"
	TopicQuoteAccepted         = "quote.accepted"
	TopicQuoteRejected         = "quote.rejected"
	TopicOrderPlaced           = "order.placed"
	TopicOrderCancelled        = "order.cancelled"
	TopicProjectDelivered      = "project.delivered"
	TopicMilestoneSubmitted    = "milestone.submitted"
	TopicMilestoneReviewed     = "milestone.reviewed"
	TopicChangeRequestProposed = "change_request.proposed"
	TopicChangeRequestDecided  = "change_request.decided"
	TopicCommissionPaidOut     = "commission.paid_out"
)

// Message is a pending outbox row handed to a Notifier.
type Message struct {
	ID       string
	Topic    string
	Payload  map[string]any
	Attempts int
}

type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// Enqueue inserts a message inside tx.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
