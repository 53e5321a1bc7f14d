package smtp

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// Reply codes checked by the client (RFC 5321 §4.2.2, RFC 4954).
const (
	CodeServiceReady   = 220
	CodeServiceClosing = 221
	CodeAuthOK         = 235
	CodeOK             = 250
	CodeAuthContinue   = 334
	CodeStartMailInput = 354
)

// LineReader yields raw protocol lines, including their terminators.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// Reply is one server reply, possibly spanning several lines.
type Reply struct {
	// Code is the leading three digit status, or 0 when it cannot be parsed.
	Code int
	// Text is the raw reply, every line included with its terminator.
	Text string
	// Lines holds the text of each line after the code and separator.
	Lines []string
}

// Message joins the reply lines without codes.
func (r Reply) Message() string {
	return strings.Join(r.Lines, "\n")
}

// ReadReply reads lines until the final line of a reply: the one whose
// fourth character is not the "-" continuation marker. A transport that
// is closed before any data yields an empty reply with code 0.
func ReadReply(r LineReader) (Reply, error) {
	var (
		reply Reply
		text  strings.Builder
	)

	for {
		raw, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			reply.Text = text.String()
			reply.Code = parseCode(reply.Text)
			return reply, err
		}

		text.Write(raw)
		line := strings.TrimRight(string(raw), "\r\n")
		if len(line) > 4 {
			reply.Lines = append(reply.Lines, line[4:])
		} else {
			reply.Lines = append(reply.Lines, "")
		}

		if len(line) < 4 || line[3] != '-' {
			break
		}
	}

	reply.Text = text.String()
	reply.Code = parseCode(reply.Text)
	if reply.Text == "" {
		reply.Lines = nil
	}
	return reply, nil
}

func parseCode(text string) int {
	if len(text) < 3 {
		return 0
	}
	code, err := strconv.Atoi(text[:3])
	if err != nil {
		return 0
	}
	return code
}
