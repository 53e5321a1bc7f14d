// Package mailer provides the envelope accumulator: a reusable client that
// collects a message field by field and hands it to a delivery provider.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/provider"
	"github.com/shineum/smtp-send-lite/internal/provider/relay"
	"github.com/shineum/smtp-send-lite/internal/smtp"
)

// ErrSendInProgress is returned when Send is called, or the draft is
// edited, while another send on the same Mailer has not returned yet.
var ErrSendInProgress = errors.New("mailer: send already in progress")

// SendError reports that a message was not sent. Err is the cause.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("message not sent: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Mailer accumulates the fields of one message at a time. Connection and
// authentication settings persist across sends; the message draft is
// replaced after every successful Send.
type Mailer struct {
	mu       sync.Mutex
	config   smtp.Config
	debug    bool
	observer smtp.Observer
	provider provider.Provider
	files    email.FileSource
	logger   *slog.Logger
	draft    *email.Builder

	sending atomic.Bool
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithConfig sets the base relay configuration. SetHost and SetAuth
// override the corresponding fields.
func WithConfig(cfg smtp.Config) Option {
	return func(m *Mailer) { m.config = cfg }
}

// WithProvider delivers through p instead of the SMTP relay described by
// the Mailer's configuration.
func WithProvider(p provider.Provider) Option {
	return func(m *Mailer) { m.provider = p }
}

// WithFiles sets the file source used to check and read attachments.
func WithFiles(fs email.FileSource) Option {
	return func(m *Mailer) { m.files = fs }
}

// WithCompose sets the rendering options used by the relay.
func WithCompose(opts compose.Options) Option {
	return func(m *Mailer) { m.config.Compose = opts }
}

// WithLogger sets the logger. Protocol traffic is logged to it at debug
// level when debugging is enabled and no observer is set.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) { m.logger = logger }
}

// WithObserver sets the observer that receives protocol traffic when
// debugging is enabled.
func WithObserver(obs smtp.Observer) Option {
	return func(m *Mailer) { m.observer = obs }
}

// New returns a Mailer with an empty draft.
func New(opts ...Option) *Mailer {
	m := &Mailer{
		files:  email.OSFiles,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.files == nil {
		m.files = email.OSFiles
	}
	if m.config.Compose.Files == nil {
		m.config.Compose.Files = m.files
	}
	m.draft = email.NewBuilderWithFiles(m.files)
	return m
}

// SetHost sets the relay address and the connection security. A zero
// port selects smtp.DefaultPort.
func (m *Mailer) SetHost(host string, port int, security smtp.Security) error {
	if port == 0 {
		port = smtp.DefaultPort
	}
	cfg := smtp.Config{Host: host, Port: port, Security: security}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Host = host
	m.config.Port = port
	m.config.Security = security
	return nil
}

// SetAuth sets the AUTH LOGIN credentials. An empty username disables
// authentication.
func (m *Mailer) SetAuth(username, password string) error {
	if username == "" && password != "" {
		return &email.ValidationError{Field: "username", Reason: "password set without a username"}
	}
	if strings.ContainsAny(username, "\r\n") {
		return &email.ValidationError{Field: "username", Reason: "contains a line break"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Username = username
	m.config.Password = password
	return nil
}

// SetDebug toggles protocol tracing.
func (m *Mailer) SetDebug(debug bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug = debug
}

// SetFrom sets the sender.
func (m *Mailer) SetFrom(addr, name string) error {
	return m.apply("from", addr, name, (*email.Builder).From)
}

// SetReply sets the Reply-To identity.
func (m *Mailer) SetReply(addr, name string) error {
	return m.apply("reply-to", addr, name, (*email.Builder).ReplyTo)
}

// AddTo appends a primary recipient.
func (m *Mailer) AddTo(addr, name string) error {
	return m.apply("to", addr, name, (*email.Builder).To)
}

// AddCc appends a carbon-copy recipient.
func (m *Mailer) AddCc(addr, name string) error {
	return m.apply("cc", addr, name, (*email.Builder).Cc)
}

// AddBcc appends a blind recipient.
func (m *Mailer) AddBcc(addr, name string) error {
	return m.apply("bcc", addr, name, (*email.Builder).Bcc)
}

// apply validates the address before handing it to the draft so the
// error is reported by the setter that caused it.
func (m *Mailer) apply(field, addr, name string, set func(*email.Builder, string, string) *email.Builder) error {
	if err := (email.Address{Email: addr, Name: name}).Validate(field); err != nil {
		return err
	}

	return m.edit(func(b *email.Builder) { set(b, addr, name) })
}

// edit applies fn to the draft. The draft is frozen while a send is in
// progress, since a successful send replaces it.
func (m *Mailer) edit(fn func(*email.Builder)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sending.Load() {
		return ErrSendInProgress
	}
	fn(m.draft)
	return nil
}

// SetSubject sets the subject line.
func (m *Mailer) SetSubject(subject string) error {
	if strings.ContainsAny(subject, "\r\n") {
		return &email.ValidationError{Field: "subject", Reason: "contains a line break"}
	}

	return m.edit(func(b *email.Builder) { b.Subject(subject) })
}

// SetHTMLBody sets the HTML body and selects html mode.
func (m *Mailer) SetHTMLBody(html string) error {
	return m.edit(func(b *email.Builder) { b.HTML(html) })
}

// SetTextBody sets the plain-text body and selects text mode.
func (m *Mailer) SetTextBody(text string) error {
	return m.edit(func(b *email.Builder) { b.Text(text) })
}

// AddAttachment registers a file. The file must exist when registered.
func (m *Mailer) AddAttachment(path string) error {
	if path == "" {
		return &email.ValidationError{Field: "attachment", Reason: "path is empty"}
	}
	if err := email.ValidateFilename(filepath.Base(path)); err != nil {
		return err
	}
	if !m.files.Exists(path) {
		return &email.ValidationError{Field: "attachment", Reason: "file " + path + " does not exist"}
	}

	return m.edit(func(b *email.Builder) { b.Attach(path) })
}

// Send delivers the accumulated message. On success the draft is
// replaced by an empty one; on failure it is kept so the caller can retry.
// Draft setters return ErrSendInProgress until Send returns.
func (m *Mailer) Send(ctx context.Context) error {
	if !m.sending.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	defer m.sending.Store(false)

	m.mu.Lock()
	msg, err := m.draft.Build()
	m.mu.Unlock()
	if err != nil {
		return &SendError{Err: err}
	}

	if err := m.deliver(ctx, msg); err != nil {
		return err
	}

	m.mu.Lock()
	m.draft = email.NewBuilderWithFiles(m.files)
	m.mu.Unlock()
	return nil
}

// SendMessage delivers a message built elsewhere. The draft is untouched.
func (m *Mailer) SendMessage(ctx context.Context, msg *email.Message) error {
	if msg == nil {
		return &SendError{Err: &email.ValidationError{Field: "message", Reason: "message is nil"}}
	}
	if !m.sending.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	defer m.sending.Store(false)

	return m.deliver(ctx, msg)
}

func (m *Mailer) deliver(ctx context.Context, msg *email.Message) error {
	p := m.currentProvider()

	if err := p.Send(ctx, msg); err != nil {
		m.logger.Error("failed to send message",
			"provider", p.Name(),
			"recipients", len(msg.Recipients()),
			"error", err,
		)
		return &SendError{Err: err}
	}
	return nil
}

// currentProvider returns the configured provider, or a relay built from
// a snapshot of the current connection settings.
func (m *Mailer) currentProvider() provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.provider != nil {
		return m.provider
	}

	cfg := m.config
	if m.debug {
		cfg.Observer = m.observer
		if cfg.Observer == nil {
			cfg.Observer = smtp.LogObserver(m.logger)
		}
	}
	return relay.New(cfg)
}

// Config returns a copy of the current connection settings.
func (m *Mailer) Config() smtp.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}
