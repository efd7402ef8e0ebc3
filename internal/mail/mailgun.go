package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v5"
)

// MailgunSender delivers email through the Mailgun API.
type MailgunSender struct {
	client *mailgun.Client
	domain string
	from   string
	logger *slog.Logger
}

// NewMailgunSender creates a sender for the given Mailgun domain.
func NewMailgunSender(apiKey, domain, from string, logger *slog.Logger) *MailgunSender {
	return &MailgunSender{
		client: mailgun.NewMailgun(apiKey),
		domain: domain,
		from:   from,
		logger: logger,
	}
}

func (s *MailgunSender) Send(ctx context.Context, to, subject, body string) error {
	msg := mailgun.NewMessage(s.domain, s.from, subject, body, to)
	resp, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mailgun send to %s: %w", to, err)
	}
	s.logger.InfoContext(ctx, "email sent",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("message_id", resp.ID),
	)
	return nil
}
