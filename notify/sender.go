// Package notify turns ledger events into emails. Delivery is best effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"
)

// Email is a plain-text message.
type Email struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers one email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// MailgunSender sends through the Mailgun API.
type MailgunSender struct {
	client *mailgun.MailgunImpl
	from   string
	log    *zap.Logger
}

// NewMailgunSender returns nil when domain or key is missing so callers can
// fall back to LogSender.
func NewMailgunSender(domain, apiKey, from string, log *zap.Logger) *MailgunSender {
	if domain == "" || apiKey == "" {
		return nil
	}
	return &MailgunSender{
		client: mailgun.NewMailgun(domain, apiKey),
		from:   from,
		log:    log.Named("mailgun"),
	}
}

func (s *MailgunSender) Send(ctx context.Context, email Email) (string, error) {
	if email.To == "" {
		return "", errors.New("notify: missing recipient")
	}
	message := s.client.NewMessage(s.from, email.Subject, email.Text, email.To)
	_, id, err := s.client.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("notify: mailgun send: %w", err)
	}
	s.log.Debug("email sent", zap.String("to", email.To), zap.String("message_id", id))
	return id, nil
}

// LogSender only logs. Used when no provider is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("mail")}
}

func (s *LogSender) Send(ctx context.Context, email Email) (string, error) {
	s.log.Info("email (not sent, no provider configured)",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return "", nil
}
