package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Security selects how the connection to the relay is encrypted.
type Security int

const (
	// SecurityNone keeps the session in plaintext.
	SecurityNone Security = iota
	// SecurityStartTLS upgrades a plaintext session with STARTTLS.
	SecurityStartTLS
	// SecurityImplicit opens the connection already encrypted.
	SecurityImplicit
)

// ParseSecurity accepts "none", "starttls" (alias "tls") and "implicit"
// (alias "ssl"). The empty string means none.
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "plain":
		return SecurityNone, nil
	case "starttls", "tls":
		return SecurityStartTLS, nil
	case "implicit", "ssl", "smtps":
		return SecurityImplicit, nil
	default:
		return SecurityNone, fmt.Errorf("unknown security mode %q", s)
	}
}

func (s Security) String() string {
	switch s {
	case SecurityStartTLS:
		return "starttls"
	case SecurityImplicit:
		return "implicit"
	default:
		return "none"
	}
}

// Transport is a line-oriented byte stream to the relay.
type Transport interface {
	LineReader
	// WriteLine writes p as is; the caller supplies the line terminator.
	WriteLine(p []byte) error
	// StartTLS upgrades the stream to TLS in place.
	StartTLS(ctx context.Context, config *tls.Config) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, host string, port int, security Security) (Transport, error)
}

// maxReplyLineLen bounds a single reply line.
const maxReplyLineLen = 4096

// NetDialer opens TCP transports, optionally wrapped in TLS.
type NetDialer struct {
	// ConnectTimeout bounds connection establishment, including the TLS
	// handshake for implicit TLS.
	ConnectTimeout time.Duration

	// Timeout bounds every read and write once connected.
	Timeout time.Duration

	// TLSConfig is used for implicit TLS and STARTTLS. ServerName defaults
	// to the dialed host.
	TLSConfig *tls.Config
}

// Dial connects to host:port.
func (d *NetDialer) Dial(ctx context.Context, host string, port int, security Security) (Transport, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := &net.Dialer{Timeout: d.ConnectTimeout}

	var (
		conn net.Conn
		err  error
	)
	if security == SecurityImplicit {
		td := &tls.Dialer{NetDialer: nd, Config: clientTLSConfig(d.TLSConfig, host)}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	return &netTransport{
		host:    host,
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, maxReplyLineLen),
		timeout: d.Timeout,
		tlsConf: d.TLSConfig,
	}, nil
}

// clientTLSConfig returns a copy of base with ServerName set to host when empty.
func clientTLSConfig(base *tls.Config, host string) *tls.Config {
	var cfg *tls.Config
	if base == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = base.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// netTransport implements Transport over a net.Conn.
type netTransport struct {
	host    string
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	tlsConf *tls.Config

	// mu guards conn against a concurrent Close while STARTTLS swaps it.
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *netTransport) deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.timeout)
}

func (t *netTransport) ReadLine() ([]byte, error) {
	if err := t.conn.SetReadDeadline(t.deadline()); err != nil {
		return nil, err
	}

	line, err := t.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("reply line exceeds %d bytes", maxReplyLineLen)
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}

	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

func (t *netTransport) WriteLine(p []byte) error {
	if err := t.conn.SetWriteDeadline(t.deadline()); err != nil {
		return err
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *netTransport) StartTLS(ctx context.Context, config *tls.Config) error {
	if config == nil {
		config = t.tlsConf
	}
	tlsConn := tls.Client(t.conn, clientTLSConfig(config, t.host))

	if err := tlsConn.SetDeadline(t.deadline()); err != nil {
		return err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake: %w", err)
	}

	t.mu.Lock()
	t.conn = tlsConn
	t.mu.Unlock()
	t.reader = bufio.NewReaderSize(tlsConn, maxReplyLineLen)
	return nil
}

func (t *netTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
