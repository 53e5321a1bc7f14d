// Package relay implements a Provider that submits messages to an SMTP
// relay, one session per message.
package relay

import (
	"context"
	"log/slog"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/smtp"
)

// Provider sends through the configured relay.
type Provider struct {
	config smtp.Config
}

// New returns a relay Provider. The configuration is copied and used
// unchanged for every message.
func New(cfg smtp.Config) *Provider {
	return &Provider{config: cfg}
}

// Send opens a session, delivers msg and closes the session.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := smtp.Send(ctx, p.config, msg); err != nil {
		return err
	}

	slog.Info("message sent",
		"provider", p.Name(),
		"relay", p.config.Addr(),
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Config returns the relay configuration.
func (p *Provider) Config() smtp.Config {
	return p.config
}
