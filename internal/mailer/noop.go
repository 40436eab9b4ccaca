package mailer

import (
	"context"
	"log/slog"
)

// Noop logs messages instead of delivering them. Used when no mail
// provider is configured.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a no-op sender.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger.With("component", "mailer-noop")}
}

func (n *Noop) Send(ctx context.Context, msg *Message) error {
	to := ""
	if len(msg.Recipients) > 0 {
		to = msg.Recipients[0].Email
	}
	n.logger.Info("email discarded (noop sender)", "to", to, "subject", msg.Subject)
	return nil
}
