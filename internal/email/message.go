// Package email defines the core message model submitted by the SMTP client.
package email

import (
	"fmt"
	"strings"
)

// Mode selects which body is the primary rendered content.
type Mode string

const (
	ModeText Mode = "text"
	ModeHTML Mode = "html"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// Validate reports whether the address can be used in a protocol command.
func (a Address) Validate(field string) error {
	if a.Email == "" {
		return &ValidationError{Field: field, Reason: "email address is empty"}
	}
	if strings.ContainsAny(a.Email, "\r\n<> ") {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("invalid email address %q", a.Email)}
	}
	if strings.ContainsAny(a.Name, "\r\n") {
		return &ValidationError{Field: field, Reason: "display name contains a line break"}
	}
	return nil
}

// ValidateFilename reports whether name can be used as an attachment
// filename in MIME headers.
func ValidateFilename(name string) error {
	if name == "" {
		return &ValidationError{Field: "attachment", Reason: "filename is empty"}
	}
	if strings.ContainsAny(name, "\r\n") {
		return &ValidationError{Field: "attachment", Reason: fmt.Sprintf("filename %q contains a line break", name)}
	}
	return nil
}

// Attachment is a file reference registered on a message. Content, when
// non-nil, is used instead of reading Path.
type Attachment struct {
	Path     string
	Filename string
	Content  []byte
}

// Message is an immutable, validated message ready for delivery.
// Use Builder to construct one.
type Message struct {
	From        Address
	ReplyTo     *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	Text        string
	HTML        string
	Mode        Mode
	Attachments []Attachment
}

// Reply returns the Reply-To identity, falling back to From.
func (m *Message) Reply() Address {
	if m.ReplyTo != nil {
		return *m.ReplyTo
	}
	return m.From
}

// Recipients returns the envelope recipients: To, then Cc, then Bcc.
func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			rcpts = append(rcpts, a.Email)
		}
	}
	return rcpts
}

// Emails returns the bare addresses of a list.
func Emails(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// ValidationError reports a missing or malformed field, raised before any
// network activity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
