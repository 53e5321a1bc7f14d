// Package smtptest provides an in-process SMTP relay for exercising the
// client against a real socket. Replies can be overridden per command to
// simulate failing servers.
package smtptest

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// when the server is closed.
const shutdownTimeout = 5 * time.Second

// Config holds the behaviour of a test relay.
type Config struct {
	// Hostname is used in the greeting and EHLO replies.
	Hostname string

	// TLSConfig enables STARTTLS. With ImplicitTLS the listener itself is
	// wrapped in TLS instead.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// Username and Password enable AUTH. MAIL FROM is refused until the
	// client authenticates.
	Username string
	Password string

	// Greeting replaces the default 220 banner, e.g. "554 go away".
	Greeting string

	// Replies overrides the reply to a command verb ("MAIL", "RCPT",
	// "DATA", "AUTH", "STARTTLS", "EHLO", ...). The special key "BODY"
	// overrides the reply sent after the message terminator.
	Replies map[string]string
}

// Message is one message accepted by the relay.
type Message struct {
	From string
	To   []string
	// Data is the message content with dot-stuffing removed and without
	// the terminating "." line.
	Data []byte
}

// Server is a test relay listening on a loopback port.
type Server struct {
	config   Config
	auth     *Authenticator
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	// wg tracks in-flight session goroutines for shutdown.
	wg sync.WaitGroup

	mu         sync.Mutex
	messages   []Message
	transcript []string
}

// NewServer starts a relay on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if cfg.ImplicitTLS && cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, cfg.TLSConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		auth:     NewAuthenticator(cfg.Username, cfg.Password),
		listener: ln,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.serve(ctx)
	return s, nil
}

func (s *Server) serve(ctx context.Context) {
	defer close(s.done)

	slog.Debug("test relay listening",
		"addr", s.listener.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return
			default:
				slog.Debug("test relay accept error", "error", err)
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Warn("test relay shutdown timeout reached")
	}
}

// Close stops accepting connections and waits for sessions to finish.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	<-s.done
	return err
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Messages returns a copy of the messages accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Transcript returns every line received from clients, without line
// terminators, in arrival order. Message content is not included.
func (s *Server) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Commands returns the upper-cased verbs of the transcript.
func (s *Server) Commands() []string {
	lines := s.Transcript()
	verbs := make([]string, 0, len(lines))
	for _, line := range lines {
		verb, _ := parseCommand(line)
		verbs = append(verbs, verb)
	}
	return verbs
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, line)
	s.mu.Unlock()
}

func (s *Server) deliver(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// reply returns the override for key, if any.
func (s *Server) reply(key string) (string, bool) {
	r, ok := s.config.Replies[strings.ToUpper(key)]
	return r, ok
}
