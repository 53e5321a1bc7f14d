// Package main is the entry point for the smtp-send command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/config"
	"github.com/shineum/smtp-send-lite/internal/mailer"
	"github.com/shineum/smtp-send-lite/internal/provider/ses"
	"github.com/shineum/smtp-send-lite/internal/provider/stdout"
	"github.com/shineum/smtp-send-lite/internal/smtp"
)

// addressList collects a repeatable address flag.
type addressList []string

func (l *addressList) String() string {
	return strings.Join(*l, ", ")
}

func (l *addressList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// options holds the parsed command line.
type options struct {
	configPath   string
	provider     string
	from         string
	fromName     string
	reply        string
	replyName    string
	to           addressList
	cc           addressList
	bcc          addressList
	subject      string
	text         string
	textFile     string
	html         string
	htmlFile     string
	markdownFile string
	attach       addressList
	debug        bool
	raw          bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "path to YAML or TOML configuration file (optional)")
	fs.StringVar(&o.provider, "provider", "", "delivery provider: smtp, ses or stdout")
	fs.StringVar(&o.from, "from", "", "sender address (defaults to MAIL_FROM)")
	fs.StringVar(&o.fromName, "from-name", "", "sender display name")
	fs.StringVar(&o.reply, "reply", "", "Reply-To address")
	fs.StringVar(&o.replyName, "reply-name", "", "Reply-To display name")
	fs.Var(&o.to, "to", "recipient, `Name <email>` or bare address (repeatable)")
	fs.Var(&o.cc, "cc", "carbon-copy recipient (repeatable)")
	fs.Var(&o.bcc, "bcc", "blind recipient (repeatable)")
	fs.StringVar(&o.subject, "subject", "", "subject line")
	fs.StringVar(&o.text, "text", "", "plain-text body")
	fs.StringVar(&o.textFile, "text-file", "", "read the plain-text body from a file")
	fs.StringVar(&o.html, "html", "", "HTML body")
	fs.StringVar(&o.htmlFile, "html-file", "", "read the HTML body from a file")
	fs.StringVar(&o.markdownFile, "markdown-file", "", "render a markdown file as the HTML body")
	fs.Var(&o.attach, "attach", "file to attach (repeatable)")
	fs.BoolVar(&o.debug, "debug", false, "print the SMTP conversation to stderr")
	fs.BoolVar(&o.raw, "raw", false, "stdout provider: also print the rendered message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if opts.provider != "" {
		cfg.Provider = strings.ToLower(opts.provider)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Cancel the send on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, aborting send", "signal", sig)
		cancel()
	}()

	m, err := newMailer(ctx, cfg, opts)
	if err != nil {
		slog.Error("failed to create mailer", "error", err)
		os.Exit(1)
	}

	if err := fillDraft(m, cfg, opts); err != nil {
		slog.Error("invalid message", "error", err)
		os.Exit(1)
	}

	if err := m.Send(ctx); err != nil {
		slog.Error("failed to send message", "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (file + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so dry-run output stays clean.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// newMailer selects the delivery backend and builds a Mailer around it.
func newMailer(ctx context.Context, cfg *config.Config, opts *options) (*mailer.Mailer, error) {
	switch name := cfg.ProviderName(); name {
	case config.ProviderSMTP:
		settings, err := cfg.SMTPSettings()
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP relay provider",
			"relay", settings.Addr(),
			"security", settings.Security.String(),
			"auth_enabled", cfg.AuthEnabled(),
		)
		m := mailer.New(
			mailer.WithConfig(settings),
			mailer.WithObserver(smtp.WriterObserver(os.Stderr)),
		)
		m.SetDebug(cfg.SMTP.Debug || opts.debug)
		return m, nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(ctx, cfg.SESSettings())
		if err != nil {
			return nil, err
		}
		return mailer.New(mailer.WithProvider(p)), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		p := stdout.New(stdout.WithCompose(cfg.ComposeOptions()), stdout.WithRaw(opts.raw))
		return mailer.New(mailer.WithProvider(p)), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// fillDraft copies the message fields from the command line, falling back
// to the configured sender.
func fillDraft(m *mailer.Mailer, cfg *config.Config, opts *options) error {
	from, fromName := opts.from, opts.fromName
	if from == "" {
		from = cfg.Mail.From
		if fromName == "" {
			fromName = cfg.Mail.FromName
		}
	}
	if err := m.SetFrom(from, fromName); err != nil {
		return err
	}
	if opts.reply != "" {
		if err := m.SetReply(opts.reply, opts.replyName); err != nil {
			return err
		}
	}

	lists := []struct {
		values addressList
		add    func(addr, name string) error
	}{
		{opts.to, m.AddTo},
		{opts.cc, m.AddCc},
		{opts.bcc, m.AddBcc},
	}
	for _, list := range lists {
		for _, v := range list.values {
			addr, err := mail.ParseAddress(v)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", v, err)
			}
			if err := list.add(addr.Address, addr.Name); err != nil {
				return err
			}
		}
	}

	if err := m.SetSubject(opts.subject); err != nil {
		return err
	}

	text, err := valueOrFile(opts.text, opts.textFile)
	if err != nil {
		return err
	}
	if err := m.SetTextBody(text); err != nil {
		return err
	}

	html, err := htmlBody(opts)
	if err != nil {
		return err
	}
	if html != "" {
		if err := m.SetHTMLBody(html); err != nil {
			return err
		}
	}

	for _, path := range opts.attach {
		if err := m.AddAttachment(path); err != nil {
			return err
		}
	}
	return nil
}

func htmlBody(opts *options) (string, error) {
	if opts.markdownFile == "" {
		return valueOrFile(opts.html, opts.htmlFile)
	}
	if opts.html != "" || opts.htmlFile != "" {
		return "", errors.New("-markdown-file cannot be combined with -html or -html-file")
	}
	src, err := os.ReadFile(opts.markdownFile)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown file: %w", err)
	}
	return compose.Markdown(src)
}

// valueOrFile returns value, or the content of path when path is set.
func valueOrFile(value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	if value != "" {
		return "", fmt.Errorf("both a value and file %s given", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}
