package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"agencyflow/outbox"
)

// Dispatcher renders outbox messages and quote links into emails.
type Dispatcher struct {
	sender     Sender
	adminEmail string
	baseURL    string
	log        *zap.Logger
}

func NewDispatcher(sender Sender, adminEmail, baseURL string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		sender:     sender,
		adminEmail: adminEmail,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log.Named("notify"),
	}
}

// Notify implements outbox.Notifier. Topics with no recipient are dropped.
func (d *Dispatcher) Notify(ctx context.Context, msg outbox.Message) error {
	email, ok := d.render(msg)
	if !ok {
		d.log.Debug("no recipient for topic", zap.String("topic", msg.Topic))
		return nil
	}
	_, err := d.sender.Send(ctx, email)
	return err
}

// SendQuoteLink mails the one-time acceptance link. The plaintext token is
// only ever passed through here, never persisted.
func (d *Dispatcher) SendQuoteLink(ctx context.Context, to, token, quoteID string) error {
	link := fmt.Sprintf("%s/quotes/redeem?token=%s", d.baseURL, token)
	_, err := d.sender.Send(ctx, Email{
		To:      to,
		Subject: "Your project quote is ready",
		Text:    fmt.Sprintf("Review and accept your quote here: %s\n\nReference: %s", link, quoteID),
	})
	return err
}

func (d *Dispatcher) render(msg outbox.Message) (Email, bool) {
	str := func(key string) string {
		v, _ := msg.Payload[key].(string)
		return v
	}

	switch msg.Topic {
	case outbox.TopicMilestoneSubmitted:
		if d.adminEmail == "" {
			return Email{}, false
		}
		return Email{
			To:      d.adminEmail,
			Subject: "Payment proof submitted",
			Text:    fmt.Sprintf("Milestone %q (%s) on project %s is waiting for review.", str("label"), str("amount"), str("project_id")),
		}, true
	case outbox.TopicChangeRequestProposed:
		if d.adminEmail == "" {
			return Email{}, false
		}
		return Email{
			To:      d.adminEmail,
			Subject: "New change request",
			Text:    fmt.Sprintf("Change request %q was proposed on project %s.", str("title"), str("project_id")),
		}, true
	}

	to := str("email")
	if to == "" {
		return Email{}, false
	}
	var subject, text string
	switch msg.Topic {
	case outbox.TopicOrderPlaced:
		subject = "Order confirmed"
		text = fmt.Sprintf("Your order %s for %s %s is confirmed.", str("order_id"), str("total"), str("currency"))
	case outbox.TopicProjectDelivered:
		subject = "Project delivered"
		text = fmt.Sprintf("Project %s has been delivered.", str("project_id"))
	case outbox.TopicMilestoneReviewed:
		subject = "Payment reviewed"
		text = fmt.Sprintf("Your payment %q was %s.", str("label"), strings.ToLower(str("status")))
	case outbox.TopicChangeRequestDecided:
		subject = "Change request decided"
		text = fmt.Sprintf("Change request %q was %s.", str("title"), strings.ToLower(str("status")))
	case outbox.TopicCommissionPaidOut:
		subject = "Commission paid out"
		text = fmt.Sprintf("%s of referral commission has been paid out.", str("amount"))
	default:
		subject = "Update: " + msg.Topic
		text = fmt.Sprintf("There is an update on your account (%s).", msg.Topic)
	}
	return Email{To: to, Subject: subject, Text: text}, true
}
