// Package compose renders email messages into the RFC 5322/MIME text
// streamed during the SMTP DATA phase.
package compose

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/smtp-send-lite/internal/email"
)

const (
	charset  = "UTF-8"
	encoding = "7bit"
	newline  = "\r\n"

	// lineWidth is the base64 wrap column (RFC 2045).
	lineWidth = 76

	preamble = "This is a multi-part message in MIME format."
)

// Options controls rendering. The zero value is ready to use.
type Options struct {
	// Files reads attachment bytes. Defaults to email.OSFiles.
	Files email.FileSource

	// Boundary returns the MIME boundary token. Defaults to NewToken.
	Boundary func() string

	// Now returns the Date header time. Defaults to time.Now.
	Now func() time.Time

	// SkipUnreadableAttachments drops attachments whose bytes cannot be
	// read instead of failing the render.
	SkipUnreadableAttachments bool
}

// AttachmentError reports an attachment whose bytes could not be read.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("failed to read attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// Rendered is a message rendered into lines without line terminators.
type Rendered struct {
	Boundary  string
	MessageID string
	Lines     []string
}

// Bytes returns the message with CRLF line endings.
func (r *Rendered) Bytes() []byte {
	var b strings.Builder
	for _, line := range r.Lines {
		b.WriteString(line)
		b.WriteString(newline)
	}
	return []byte(b.String())
}

// DataPayload returns the message dot-stuffed for the DATA phase and
// terminated by a line containing only ".".
func (r *Rendered) DataPayload() []byte {
	var b strings.Builder
	for _, line := range r.Lines {
		if strings.HasPrefix(line, ".") {
			b.WriteByte('.')
		}
		b.WriteString(line)
		b.WriteString(newline)
	}
	b.WriteString(".")
	b.WriteString(newline)
	return []byte(b.String())
}

// NewToken returns a fresh 32 character hex token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Render produces the header and body lines of msg.
func Render(msg *email.Message, opts Options) (*Rendered, error) {
	if opts.Files == nil {
		opts.Files = email.OSFiles
	}
	if opts.Boundary == nil {
		opts.Boundary = NewToken
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Rendered{
		Boundary:  opts.Boundary(),
		MessageID: messageID(msg.From.Email),
	}

	r.Lines = append(r.Lines,
		"From: "+FormatAddress(msg.From),
		"Reply-To: "+FormatAddress(msg.Reply()),
		"Subject: "+encodeHeader(msg.Subject),
		"Date: "+opts.Now().Format(time.RFC1123Z),
		"Message-ID: "+r.MessageID,
	)
	if len(msg.To) > 0 {
		r.Lines = append(r.Lines, "To: "+FormatList(msg.To))
	}
	if len(msg.Cc) > 0 {
		r.Lines = append(r.Lines, "CC: "+FormatList(msg.Cc))
	}

	if len(msg.Attachments) == 0 {
		if msg.Mode == email.ModeHTML {
			r.alternative(msg)
		} else {
			r.Lines = append(r.Lines, textPartHeaders("text/plain")...)
			r.Lines = append(r.Lines, bodyLines(msg.Text)...)
		}
		return r, nil
	}

	if err := r.mixed(msg, opts); err != nil {
		return nil, err
	}
	return r, nil
}

// alternative renders text then html inside a multipart/alternative body.
func (r *Rendered) alternative(msg *email.Message) {
	r.multipartHeader("multipart/alternative")
	r.Lines = append(r.Lines, textPartHeaders("text/plain")...)
	r.Lines = append(r.Lines, bodyLines(msg.Text)...)
	r.Lines = append(r.Lines, r.delimiter())
	r.Lines = append(r.Lines, textPartHeaders("text/html")...)
	r.Lines = append(r.Lines, bodyLines(msg.HTML)...)
	r.Lines = append(r.Lines, r.closeDelimiter())
}

// mixed renders the mode body followed by base64 attachments.
func (r *Rendered) mixed(msg *email.Message, opts Options) error {
	r.multipartHeader("multipart/mixed")

	if msg.Mode == email.ModeHTML {
		r.Lines = append(r.Lines, textPartHeaders("text/html")...)
		r.Lines = append(r.Lines, bodyLines(msg.HTML)...)
	} else {
		r.Lines = append(r.Lines, textPartHeaders("text/plain")...)
		r.Lines = append(r.Lines, bodyLines(msg.Text)...)
	}

	for _, att := range msg.Attachments {
		content, err := attachmentContent(att, opts.Files)
		if err != nil {
			if opts.SkipUnreadableAttachments {
				slog.Warn("skipping unreadable attachment",
					"path", att.Path,
					"error", err,
				)
				continue
			}
			return err
		}

		r.Lines = append(r.Lines,
			r.delimiter(),
			"Content-Type: "+mediaParam("application/octet-stream", "name", att.Filename),
			"Content-Transfer-Encoding: base64",
			"Content-Disposition: "+mediaParam("attachment", "filename", att.Filename),
			"",
		)
		r.Lines = append(r.Lines, wrapBase64(content)...)
	}

	r.Lines = append(r.Lines, r.closeDelimiter())
	return nil
}

func (r *Rendered) multipartHeader(mediaType string) {
	r.Lines = append(r.Lines,
		"MIME-Version: 1.0",
		"Content-Type: "+mediaType+`; boundary="`+r.Boundary+`"`,
		"",
		preamble,
		r.delimiter(),
	)
}

func (r *Rendered) delimiter() string {
	return "--" + r.Boundary
}

func (r *Rendered) closeDelimiter() string {
	return "--" + r.Boundary + "--"
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// mediaParam renders `value; key="name"`. Names outside printable ASCII
// are RFC 2231 encoded, so control characters never reach the header.
func mediaParam(value, key, name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] < ' ' || name[i] > '~' {
			return mime.FormatMediaType(value, map[string]string{key: name})
		}
	}
	return value + "; " + key + `="` + quoteEscaper.Replace(name) + `"`
}

func textPartHeaders(mediaType string) []string {
	return []string{
		"Content-Type: " + mediaType + `; charset="` + charset + `"`,
		"Content-Transfer-Encoding: " + encoding,
		"",
	}
}

func attachmentContent(att email.Attachment, files email.FileSource) ([]byte, error) {
	if att.Content != nil {
		return att.Content, nil
	}
	content, err := files.ReadAll(att.Path)
	if err != nil {
		return nil, &AttachmentError{Path: att.Path, Err: err}
	}
	return content, nil
}

// bodyLines splits a body into lines, accepting LF, CRLF or CR endings.
func bodyLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// wrapBase64 encodes data and splits it into lineWidth columns.
func wrapBase64(data []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(data)
	lines := make([]string, 0, len(encoded)/lineWidth+1)
	for i := 0; i < len(encoded); i += lineWidth {
		end := min(i+lineWidth, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return lines
}

// FormatAddress renders "Name <email>" or "<email>" when no name is set.
func FormatAddress(a email.Address) string {
	if a.Name == "" {
		return "<" + a.Email + ">"
	}
	return formatName(a.Name) + " <" + a.Email + ">"
}

// FormatList renders a comma separated address list.
func FormatList(list []email.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, FormatAddress(a))
	}
	return strings.Join(parts, ", ")
}

func formatName(name string) string {
	encoded := encodeHeader(name)
	if encoded != name {
		return encoded
	}
	if strings.ContainsAny(name, `()<>[]:;@\,."`) {
		return `"` + quoteEscaper.Replace(name) + `"`
	}
	return name
}

func encodeHeader(s string) string {
	return mime.QEncoding.Encode(charset, s)
}

func messageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return "<" + NewToken() + "@" + domain + ">"
}
