// Package mail delivers rendered emails through SMTP, SES or the log.
package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Message is one outbound email. Text is optional.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Gateway delivers a message synchronously. Authentication problems are
// reported wrapped in ErrAuth so operators can tell them apart from transport
// failures; callers treat both the same way.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// ErrAuth marks a credential rejection by the mail transport.
var ErrAuth = errors.New("authentication failed")

// Sender identifies the From address.
type Sender struct {
	Name  string
	Email string
}

// LogGateway logs messages instead of sending them (development/testing)
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, msg Message) error {
	g.logger.Info("logging email (development mode)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}
