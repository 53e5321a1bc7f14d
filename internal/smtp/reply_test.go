package smtp

import (
	"errors"
	"io"
	"testing"
)

// lines is a LineReader over a fixed script.
type lines []string

func (l *lines) ReadLine() ([]byte, error) {
	if len(*l) == 0 {
		return nil, io.EOF
	}
	line := (*l)[0]
	*l = (*l)[1:]
	return []byte(line), nil
}

func TestReadReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		script    []string
		wantCode  int
		wantText  string
		wantLines []string
		remaining int
	}{
		{
			name:      "single line",
			script:    []string{"250 OK\r\n"},
			wantCode:  250,
			wantText:  "250 OK\r\n",
			wantLines: []string{"OK"},
		},
		{
			name: "multi line",
			script: []string{
				"250-relay.test Hello\r\n",
				"250-SIZE 1000\r\n",
				"250 AUTH LOGIN\r\n",
				"221 next reply\r\n",
			},
			wantCode:  250,
			wantText:  "250-relay.test Hello\r\n250-SIZE 1000\r\n250 AUTH LOGIN\r\n",
			wantLines: []string{"relay.test Hello", "SIZE 1000", "AUTH LOGIN"},
			remaining: 1,
		},
		{
			name:      "bare code",
			script:    []string{"354\r\n"},
			wantCode:  354,
			wantText:  "354\r\n",
			wantLines: []string{""},
		},
		{
			name:      "unparseable code",
			script:    []string{"ERR ready\r\n"},
			wantCode:  0,
			wantText:  "ERR ready\r\n",
			wantLines: []string{"ready"},
		},
		{
			name:     "closed before data",
			script:   nil,
			wantCode: 0,
			wantText: "",
		},
		{
			name:      "closed mid reply",
			script:    []string{"250-first\r\n"},
			wantCode:  250,
			wantText:  "250-first\r\n",
			wantLines: []string{"first"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			script := lines(tt.script)
			reply, err := ReadReply(&script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reply.Code != tt.wantCode {
				t.Errorf("Code: got %d, want %d", reply.Code, tt.wantCode)
			}
			if reply.Text != tt.wantText {
				t.Errorf("Text: got %q, want %q", reply.Text, tt.wantText)
			}
			if len(reply.Lines) != len(tt.wantLines) {
				t.Fatalf("Lines: got %q, want %q", reply.Lines, tt.wantLines)
			}
			for i := range tt.wantLines {
				if reply.Lines[i] != tt.wantLines[i] {
					t.Errorf("Lines[%d]: got %q, want %q", i, reply.Lines[i], tt.wantLines[i])
				}
			}
			if len(script) != tt.remaining {
				t.Errorf("unread lines: got %d, want %d", len(script), tt.remaining)
			}
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) ReadLine() ([]byte, error) {
	return nil, r.err
}

func TestReadReply_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	_, err := ReadReply(failingReader{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}

func TestReply_Message(t *testing.T) {
	t.Parallel()

	r := Reply{Lines: []string{"first", "second"}}
	if got := r.Message(); got != "first\nsecond" {
		t.Errorf("got %q, want %q", got, "first\nsecond")
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Command: "RCPT TO:<b@x.com>", Expected: 250, Actual: 450, Reply: "mailbox busy"}
	want := "smtp: RCPT TO:<b@x.com>: expected 250, got 450: mailbox busy"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !err.Temporary() {
		t.Error("450 should be temporary")
	}

	perm := &ProtocolError{Command: "greeting", Expected: 220, Actual: 554}
	if perm.Temporary() {
		t.Error("554 should not be temporary")
	}
	if perm.Error() != "smtp: greeting: expected 220, got 554" {
		t.Errorf("got %q", perm.Error())
	}
}

func TestParseSecurity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Security
		wantErr bool
	}{
		{"", SecurityNone, false},
		{"none", SecurityNone, false},
		{"STARTTLS", SecurityStartTLS, false},
		{"tls", SecurityStartTLS, false},
		{"implicit", SecurityImplicit, false},
		{"ssl", SecurityImplicit, false},
		{"bogus", SecurityNone, true},
	}

	for _, tt := range tests {
		got, err := ParseSecurity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSecurity(%q): error %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSecurity(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
