// Package parser reads RFC 5322 messages back into email.Message values.
// It is used to summarize rendered messages and to verify what a relay
// received.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-send-lite/internal/email"
)

// Parsed is a message read back from its wire form.
type Parsed struct {
	*email.Message

	// MessageID is the Message-ID without angle brackets.
	MessageID string
	Date      time.Time

	// Header holds every top-level header field by canonical key.
	Header map[string][]string
}

// Parse decodes raw into a Parsed message. Transfer encodings and
// charsets are decoded. The first text/plain and text/html inline parts
// become the bodies; every other leaf part is an attachment.
func Parse(raw []byte) (*Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		if !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		slog.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	msg := &email.Message{Mode: email.ModeText}
	result := &Parsed{
		Message: msg,
		Header:  make(map[string][]string),
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		result.Header[key] = append(result.Header[key], fields.Value())
	}

	if from := addressList(mr.Header, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	if reply := addressList(mr.Header, "Reply-To"); len(reply) > 0 {
		msg.ReplyTo = &reply[0]
	}
	msg.To = addressList(mr.Header, "To")
	msg.Cc = addressList(mr.Header, "Cc")
	msg.Bcc = addressList(mr.Header, "Bcc")

	if msg.Subject, err = mr.Header.Subject(); err != nil {
		slog.Warn("failed to decode subject", "error", err)
	}
	if result.MessageID, err = mr.Header.MessageID(); err != nil {
		slog.Warn("failed to parse message id", "error", err)
	}
	if result.Date, err = mr.Header.Date(); err != nil {
		slog.Warn("failed to parse date", "error", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read part content: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			if mediaType == "" {
				mediaType = "text/plain"
			}
			switch {
			case mediaType == "text/plain" && msg.Text == "":
				msg.Text = bodyText(content)
			case mediaType == "text/html" && msg.HTML == "":
				msg.HTML = bodyText(content)
				msg.Mode = email.ModeHTML
			default:
				slog.Warn("unrecognized inline part, skipping", "content_type", mediaType)
			}
		case *mail.AttachmentHeader:
			msg.Attachments = append(msg.Attachments, email.Attachment{
				Filename: attachmentName(h),
				Content:  content,
			})
		}
	}

	return result, nil
}

// bodyText normalizes CRLF to LF and drops the single line break that
// terminates the final body line.
func bodyText(content []byte) string {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	return strings.TrimSuffix(s, "\n")
}

// attachmentName returns the filename from Content-Disposition, the
// Content-Type name parameter, or a name derived from the media type.
func attachmentName(h *mail.AttachmentHeader) string {
	if name, err := h.Filename(); err == nil && name != "" {
		return name
	}
	if mediaType, _, err := h.ContentType(); err == nil {
		if _, sub, ok := strings.Cut(mediaType, "/"); ok {
			return "attachment." + sub
		}
	}
	return "attachment"
}

// addressList parses an address header, falling back to a plain comma
// split when the field is not valid RFC 5322.
func addressList(h mail.Header, key string) []email.Address {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	list, err := h.AddressList(key)
	if err != nil {
		slog.Warn("failed to parse address list", "field", key, "error", err)
		var out []email.Address
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, email.Address{Email: strings.Trim(p, "<>")})
			}
		}
		return out
	}

	out := make([]email.Address, 0, len(list))
	for _, a := range list {
		out = append(out, email.Address{Email: a.Address, Name: a.Name})
	}
	return out
}
