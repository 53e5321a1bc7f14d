package mailer

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-send-lite/internal/parser"
	"github.com/shineum/smtp-send-lite/internal/smtp"
	tlsutil "github.com/shineum/smtp-send-lite/internal/tls"
)

// inbox is a go-smtp backend that keeps every accepted message.
type inbox struct {
	mu       sync.Mutex
	received []delivery
}

type delivery struct {
	from string
	to   []string
	data []byte
}

func (b *inbox) NewSession(*gosmtp.Conn) (gosmtp.Session, error) {
	return &inboxSession{inbox: b}, nil
}

func (b *inbox) deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.received...)
}

type inboxSession struct {
	inbox *inbox
	from  string
	to    []string
}

func (s *inboxSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *inboxSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *inboxSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.inbox.mu.Lock()
	defer s.inbox.mu.Unlock()
	s.inbox.received = append(s.inbox.received, delivery{from: s.from, to: s.to, data: data})
	return nil
}

func (s *inboxSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *inboxSession) Logout() error {
	return nil
}

// startInbox serves a go-smtp server on a loopback port.
func startInbox(t *testing.T, configure func(*gosmtp.Server)) (*inbox, string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	be := &inbox{}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	srv.AllowInsecureAuth = true
	if configure != nil {
		configure(srv)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return be, addr.IP.String(), addr.Port
}

func TestEndToEnd_GoSMTP(t *testing.T) {
	t.Parallel()

	be, host, port := startInbox(t, nil)

	m := New(WithConfig(smtp.Config{Timeout: 5 * time.Second}))
	must(t, m.SetHost(host, port, smtp.SecurityNone))
	must(t, m.SetFrom("a@x.com", "Alice"))
	must(t, m.AddTo("b@x.com", "Bob"))
	must(t, m.AddCc("c@x.com", ""))
	must(t, m.AddBcc("d@x.com", ""))
	must(t, m.SetSubject("Hi"))
	must(t, m.SetTextBody("Hello\n.leading dot\n"))

	if err := m.Send(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := be.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(got))
	}
	if got[0].from != "a@x.com" {
		t.Errorf("envelope sender: got %q, want %q", got[0].from, "a@x.com")
	}
	if len(got[0].to) != 3 || got[0].to[2] != "d@x.com" {
		t.Errorf("envelope recipients: got %v, want [b@x.com c@x.com d@x.com]", got[0].to)
	}

	parsed, err := parser.Parse(got[0].data)
	if err != nil {
		t.Fatalf("failed to parse delivered message: %v", err)
	}
	if parsed.Subject != "Hi" {
		t.Errorf("Subject: got %q, want %q", parsed.Subject, "Hi")
	}
	if parsed.Text != "Hello\n.leading dot\n" {
		t.Errorf("Text: got %q, want %q", parsed.Text, "Hello\n.leading dot\n")
	}
	if len(parsed.Cc) != 1 || parsed.Cc[0].Email != "c@x.com" {
		t.Errorf("Cc: got %+v", parsed.Cc)
	}
	if _, ok := parsed.Header["Bcc"]; ok {
		t.Error("Bcc header must not be rendered")
	}
}

func TestEndToEnd_GoSMTPStartTLS(t *testing.T) {
	t.Parallel()

	cert, err := tlsutil.GenerateSelfSigned()
	if err != nil {
		t.Fatalf("failed to generate certificate: %v", err)
	}

	be, host, port := startInbox(t, func(srv *gosmtp.Server) {
		srv.TLSConfig = cert.ServerConfig()
	})

	m := New(WithConfig(smtp.Config{Timeout: 5 * time.Second, TLSConfig: cert.ClientConfig()}))
	must(t, m.SetHost(host, port, smtp.SecurityStartTLS))
	must(t, m.SetFrom("a@x.com", ""))
	must(t, m.AddTo("b@x.com", ""))
	must(t, m.SetSubject("Encrypted"))
	must(t, m.SetHTMLBody("<p>secret</p>"))

	if err := m.Send(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := be.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(got))
	}
	parsed, err := parser.Parse(got[0].data)
	if err != nil {
		t.Fatalf("failed to parse delivered message: %v", err)
	}
	if parsed.HTML != "<p>secret</p>" {
		t.Errorf("HTML: got %q, want %q", parsed.HTML, "<p>secret</p>")
	}
}
