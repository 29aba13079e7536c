package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/outbox"
)

type recordingSender struct {
	sent []Email
	err  error
}

func (r *recordingSender) Send(ctx context.Context, email Email) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, email)
	return "msg-1", nil
}

func TestDispatcherRoutesAdminAlerts(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "ops@example.com", "https://agency.example", nil)

	err := d.Notify(context.Background(), outbox.Message{
		Topic:   outbox.TopicMilestoneSubmitted,
		Payload: map[string]any{"label": "Deposit", "amount": "500.00", "project_id": "p-1"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Text, "Deposit")
}

func TestDispatcherDropsMessagesWithoutRecipient(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "", "https://agency.example", nil)

	require.NoError(t, d.Notify(context.Background(), outbox.Message{Topic: outbox.TopicChangeRequestProposed, Payload: map[string]any{}}))
	require.NoError(t, d.Notify(context.Background(), outbox.Message{Topic: outbox.TopicOrderPlaced, Payload: map[string]any{"order_id": "o-1"}}))
	assert.Empty(t, sender.sent)
}

func TestDispatcherClientMessage(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "", "https://agency.example", nil)

	err := d.Notify(context.Background(), outbox.Message{
		Topic:   outbox.TopicOrderPlaced,
		Payload: map[string]any{"email": "client@example.com", "order_id": "o-1", "total": "2000.00", "currency": "USD"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Order confirmed", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Text, "2000.00 USD")
}

func TestDispatcherSurfacesSendErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("provider down")}
	d := NewDispatcher(sender, "ops@example.com", "", nil)

	err := d.Notify(context.Background(), outbox.Message{Topic: outbox.TopicMilestoneSubmitted, Payload: map[string]any{}})
	assert.Error(t, err)
}

func TestSendQuoteLink(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, "", "https://agency.example/", nil)

	require.NoError(t, d.SendQuoteLink(context.Background(), "client@example.com", "abc123", "q-1"))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "https://agency.example/quotes/redeem?token=abc123")
}
