// Package smtp implements the client side of SMTP mail submission: the
// reply parser, the command transport and the session state machine that
// drives a single message from greeting to QUIT.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/email"
)

const (
	// DefaultPort is the SMTP relay port used when Config.Port is zero.
	DefaultPort = 25

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultTimeout bounds each read and write of an established session.
	DefaultTimeout = 5 * time.Minute

	crlf = "\r\n"
)

// Config describes how to reach and authenticate against a relay.
type Config struct {
	Host     string
	Port     int
	Security Security

	// Username and Password enable AUTH LOGIN (and EHLO) when Username is set.
	Username string
	Password string

	// LocalName is the EHLO/HELO argument. Defaults to Host.
	LocalName string

	// TLSConfig is used for STARTTLS and implicit TLS.
	TLSConfig *tls.Config

	ConnectTimeout time.Duration
	Timeout        time.Duration

	// Lenient reads but does not check the replies to MAIL FROM, RCPT TO
	// and DATA. Only the final reply to the message body is checked.
	Lenient bool

	// Observer, when set, receives raw protocol traffic.
	Observer Observer

	// Dialer opens the transport. Defaults to a NetDialer built from the
	// timeouts and TLSConfig above.
	Dialer Dialer

	// Compose controls message rendering.
	Compose compose.Options
}

// AuthEnabled reports whether AUTH LOGIN is performed.
func (c Config) AuthEnabled() bool {
	return c.Username != ""
}

// Addr returns host:port, with the default port when none is set.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Validate checks the connection parameters.
func (c Config) Validate() error {
	if c.Host == "" {
		return &email.ValidationError{Field: "host", Reason: "relay host is not set"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &email.ValidationError{Field: "port", Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	if c.Security < SecurityNone || c.Security > SecurityImplicit {
		return &email.ValidationError{Field: "security", Reason: fmt.Sprintf("unknown mode %d", c.Security)}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LocalName == "" {
		c.LocalName = c.Host
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &NetDialer{
			ConnectTimeout: c.ConnectTimeout,
			Timeout:        c.Timeout,
			TLSConfig:      c.TLSConfig,
		}
	}
	return c
}

// Send delivers msg in one session: connect, greet, optional STARTTLS and
// AUTH LOGIN, MAIL FROM, RCPT TO for every recipient, DATA, QUIT. The
// transport is closed on every return path. No state survives the call.
func Send(ctx context.Context, cfg Config, msg *email.Message) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	rendered, err := compose.Render(msg, cfg.Compose)
	if err != nil {
		return err
	}

	s, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	err = s.run(msg.From.Email, msg.Recipients(), rendered.DataPayload())

	var perr *ProtocolError
	if err == nil || errors.As(err, &perr) {
		s.quit()
	}
	s.close()

	if err != nil {
		return err
	}
	slog.Debug("message accepted by relay",
		"addr", cfg.Addr(),
		"message_id", rendered.MessageID,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// session is the live state of one Send call.
type session struct {
	ctx      context.Context
	cfg      Config
	t        Transport
	observer Observer
	stop     func() bool
}

// connect opens the transport and checks the 220 greeting.
func connect(ctx context.Context, cfg Config) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	t, err := cfg.Dialer.Dial(dialCtx, cfg.Host, cfg.Port, cfg.Security)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: cfg.Addr(), Err: err}
	}

	s := &session{ctx: ctx, cfg: cfg, t: t, observer: cfg.Observer}
	// Cancelling ctx unblocks pending I/O by closing the transport.
	s.stop = context.AfterFunc(ctx, func() { t.Close() })

	reply, err := s.readReply()
	if err != nil {
		s.close()
		return nil, err
	}
	if reply.Code != CodeServiceReady {
		s.quit()
		s.close()
		return nil, &ProtocolError{
			Command:  "greeting",
			Expected: CodeServiceReady,
			Actual:   reply.Code,
			Reply:    reply.Message(),
		}
	}

	slog.Debug("connected to relay",
		"addr", cfg.Addr(),
		"security", cfg.Security.String(),
	)
	return s, nil
}

// run performs the handshake and the mail transaction.
func (s *session) run(from string, rcpts []string, payload []byte) error {
	if err := s.greet(0); err != nil {
		return err
	}

	if s.cfg.Security == SecurityStartTLS {
		if err := s.startTLS(); err != nil {
			return err
		}
	}

	if s.cfg.AuthEnabled() {
		if err := s.authLogin(s.cfg.Username, s.cfg.Password); err != nil {
			return err
		}
	}

	if err := s.step("MAIL FROM:<"+from+">"+crlf, CodeOK); err != nil {
		return err
	}
	for _, rcpt := range rcpts {
		if err := s.step("RCPT TO:<"+rcpt+">"+crlf, CodeOK); err != nil {
			return err
		}
	}
	if err := s.step("DATA"+crlf, CodeStartMailInput); err != nil {
		return err
	}

	return s.sendAs("message body", string(payload), CodeOK)
}

// greet sends EHLO when authenticating, HELO otherwise. A zero expected
// code reads the reply without checking it.
func (s *session) greet(expected int) error {
	verb := "HELO"
	if s.cfg.AuthEnabled() {
		verb = "EHLO"
	}
	cmd := verb + " " + s.cfg.LocalName + crlf

	if expected != 0 {
		return s.send(cmd, expected)
	}
	if err := s.send(cmd, 0); err != nil {
		return err
	}
	_, err := s.readReply()
	return err
}

func (s *session) startTLS() error {
	if err := s.send("STARTTLS"+crlf, CodeServiceReady); err != nil {
		return err
	}
	if err := s.t.StartTLS(s.ctx, s.cfg.TLSConfig); err != nil {
		return s.connErr("starttls", err)
	}
	slog.Debug("connection upgraded to TLS", "addr", s.cfg.Addr())

	return s.greet(CodeOK)
}

// step sends a transaction command. In lenient mode the reply is read but
// its code is not checked.
func (s *session) step(command string, expected int) error {
	if !s.cfg.Lenient {
		return s.send(command, expected)
	}
	if err := s.send(command, 0); err != nil {
		return err
	}
	_, err := s.readReply()
	return err
}

// send writes a terminated command and, when expected is non-zero, reads
// the reply and checks its code.
func (s *session) send(command string, expected int) error {
	return s.sendAs(commandName(command), command, expected)
}

// sendAs is send with the name used in errors given explicitly, so that
// credentials and message bodies never end up in error text.
func (s *session) sendAs(name, command string, expected int) error {
	return s.exchange(name, command, command, expected)
}

// sendSecret is sendAs for credentials. Observers see Redacted instead of
// the command.
func (s *session) sendSecret(name, command string, expected int) error {
	return s.exchange(name, command, Redacted+crlf, expected)
}

func (s *session) exchange(name, command, shown string, expected int) error {
	if s.observer != nil {
		s.observer.Sent(shown)
	}
	if err := s.t.WriteLine([]byte(command)); err != nil {
		return s.connErr("write", err)
	}
	if expected == 0 {
		return nil
	}

	reply, err := s.readReply()
	if err != nil {
		return err
	}
	if reply.Code != expected {
		return &ProtocolError{
			Command:  name,
			Expected: expected,
			Actual:   reply.Code,
			Reply:    reply.Message(),
		}
	}
	return nil
}

func (s *session) readReply() (Reply, error) {
	reply, err := ReadReply(s.t)
	if reply.Text != "" && s.observer != nil {
		s.observer.Received(reply.Text)
	}
	if err != nil {
		return reply, s.connErr("read", err)
	}
	return reply, nil
}

// quit sends QUIT and reads the reply, ignoring failures.
func (s *session) quit() {
	if err := s.send("QUIT"+crlf, 0); err != nil {
		return
	}
	s.readReply()
}

func (s *session) close() {
	if s.stop != nil {
		s.stop()
	}
	if err := s.t.Close(); err != nil {
		slog.Debug("failed to close relay connection", "error", err)
	}
}

func (s *session) connErr(op string, err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &ConnectionError{Op: op, Addr: s.cfg.Addr(), Err: err}
}

// commandName returns the command without its terminator.
func commandName(command string) string {
	for i := 0; i < len(command); i++ {
		if command[i] == '\r' || command[i] == '\n' {
			return command[:i]
		}
	}
	return command
}
