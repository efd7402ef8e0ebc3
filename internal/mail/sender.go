package mail

import (
	"context"
	"log/slog"
)

// Sender delivers outbound email. Fire-and-forget from the workflow's
// perspective: a delivery failure is reported to the caller but never
// retried here.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes outbound mail to the log instead of delivering it.
// Used in development and tests.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.Logger.InfoContext(ctx, "outbound email (log only)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_len", len(body)),
	)
	return nil
}
