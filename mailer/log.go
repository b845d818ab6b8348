package mailer

import (
	"context"
	"log/slog"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// LogMailer logs recipients and subjects. Bodies carry one-time codes and
// are never logged.
type LogMailer struct {
	logger *slog.Logger
}

var _ goIdentity.Mailer = (*LogMailer)(nil)

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg goIdentity.Message) error {
	m.logger.InfoContext(ctx, "mail suppressed",
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.HTMLBody)),
	)
	return nil
}
