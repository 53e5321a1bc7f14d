// Package stdout implements a dry-run Provider that renders messages and
// prints a summary instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/parser"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer  io.Writer
	compose compose.Options
	raw     bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithWriter sets the output destination.
func WithWriter(w io.Writer) Option {
	return func(p *Provider) { p.writer = w }
}

// WithCompose sets the rendering options.
func WithCompose(opts compose.Options) Option {
	return func(p *Provider) { p.compose = opts }
}

// WithRaw prints the rendered message after the summary.
func WithRaw(raw bool) Option {
	return func(p *Provider) { p.raw = raw }
}

// New creates a Provider that writes to os.Stdout unless overridden.
func New(opts ...Option) *Provider {
	p := &Provider{writer: os.Stdout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send renders msg, reads the rendered form back and prints what a relay
// would receive. Rendering errors are returned; nothing is printed then.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	rendered, err := compose.Render(msg, p.compose)
	if err != nil {
		return err
	}

	parsed, err := parser.Parse(rendered.Bytes())
	if err != nil {
		return fmt.Errorf("rendered message does not parse: %w", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: <%s>\n", parsed.MessageID)
	fmt.Fprintf(&b, "From: %s\n", compose.FormatAddress(parsed.From))
	if parsed.ReplyTo != nil && parsed.ReplyTo.Email != parsed.From.Email {
		fmt.Fprintf(&b, "Reply-To: %s\n", compose.FormatAddress(*parsed.ReplyTo))
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(email.Emails(parsed.To), ", "))
	if len(parsed.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(email.Emails(parsed.Cc), ", "))
	}
	// Bcc never reaches the headers; report the envelope.
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(email.Emails(msg.Bcc), ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	b.WriteString("Body:\n")

	body := parsed.Text
	if parsed.Mode == email.ModeHTML || body == "" {
		body = parsed.HTML
	}
	b.WriteString(body + "\n")

	if len(parsed.Attachments) > 0 {
		attachments := make([]string, 0, len(parsed.Attachments))
		for _, att := range parsed.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	if p.raw {
		b.WriteString(separator)
		b.WriteString(strings.ReplaceAll(string(rendered.Bytes()), "\r\n", "\n"))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message summary: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
