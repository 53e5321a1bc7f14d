// Package provider defines the interface for message delivery backends.
package provider

import (
	"context"

	"github.com/shineum/smtp-send-lite/internal/email"
)

// Provider delivers a validated message to its destination (an SMTP
// relay, AWS SES, or standard output for dry runs).
type Provider interface {
	// Send delivers msg. It returns an error if the delivery fails; the
	// message is then not sent.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
