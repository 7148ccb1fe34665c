package mailer

import (
	"context"
	"log/slog"
)

// DevSender implements Mailer for local development. It logs emails through
// slog instead of sending them through a provider.
type DevSender struct {
	logger *slog.Logger
}

// NewDevSender creates a development mailer that logs instead of sending.
func NewDevSender(logger *slog.Logger) *DevSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevSender{logger: logger}
}

// SendEmail implements Mailer.
func (d *DevSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "email (dev sender, not delivered)",
		slog.String("send_to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.Int("body_bytes", len(params.BodyHTML)))

	return nil
}
