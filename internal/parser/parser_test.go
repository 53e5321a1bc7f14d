package parser

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Date: Fri, 01 Mar 2024 12:30:00 +0000",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From.Email != "sender@example.com" || msg.From.Name != "Sender" {
		t.Errorf("From: got %+v, want Sender <sender@example.com>", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "test123@example.com" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "test123@example.com")
	}
	wantDate := time.Date(2024, time.March, 1, 12, 30, 0, 0, time.UTC)
	if !msg.Date.Equal(wantDate) {
		t.Errorf("Date: got %v, want %v", msg.Date, wantDate)
	}
	if msg.Text != "Hello, this is a plain text email." {
		t.Errorf("Text: got %q, want %q", msg.Text, "Hello, this is a plain text email.")
	}
	if msg.HTML != "" {
		t.Errorf("HTML: got %q, want empty", msg.HTML)
	}
	if msg.Mode != email.ModeText {
		t.Errorf("Mode: got %q, want %q", msg.Mode, email.ModeText)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := email.Emails(msg.To); strings.Join(got, ",") != "alice@example.com,bob@example.com" {
		t.Errorf("To: got %v, want [alice@example.com bob@example.com]", got)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Email != "carol@example.com" {
		t.Errorf("Cc: got %v, want [carol@example.com]", msg.Cc)
	}
	if msg.Text != "Plain text body" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Plain text body")
	}
	if msg.HTML != "<html><body><p>HTML body</p></body></html>" {
		t.Errorf("HTML: got %q, want %q", msg.HTML, "<html><body><p>HTML body</p></body></html>")
	}
	if msg.Mode != email.ModeHTML {
		t.Errorf("Mode: got %q, want %q", msg.Mode, email.ModeHTML)
	}
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"Email body text",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVs",
		"bG8g",
		"V29y",
		"bGQ=",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Text != "Email body text" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Email body text")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "report.pdf")
	}
	if string(att.Content) != "Hello World" {
		t.Errorf("Content: got %q, want %q", string(att.Content), "Hello World")
	}
}

func TestParseAttachmentWithoutFilename(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Content-Type: multipart/mixed; boundary=bound",
		"",
		"--bound",
		"Content-Type: text/plain",
		"",
		"body",
		"--bound",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--bound--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if got := msg.Attachments[0].Filename; got != "attachment.pdf" {
		t.Errorf("Filename: got %q, want %q", got, "attachment.pdf")
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Text != "Plain text part" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Plain text part")
	}
	if msg.HTML != "<p>HTML part</p>" {
		t.Errorf("HTML: got %q, want %q", msg.HTML, "<p>HTML part</p>")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "data.bin" {
		t.Fatalf("Attachments: got %+v, want one data.bin", msg.Attachments)
	}
}

func TestParseMissingContentType(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No Content Type",
		"",
		"Body without content type header",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != "Body without content type header" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Body without content type header")
	}
	if msg.To != nil || msg.Cc != nil || msg.Bcc != nil {
		t.Errorf("recipients: got to=%v cc=%v bcc=%v, want none", msg.To, msg.Cc, msg.Bcc)
	}
}

func TestParseInvalidHeader(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("not a valid email at all\x00\x01\x02")); err == nil {
		t.Error("expected error for completely invalid message, got nil")
	}
}

func TestParseRawHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"x-custom-header: custom-value",
		"Subject: Headers Test",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vals := msg.Header["X-Custom-Header"]; len(vals) != 1 || vals[0] != "custom-value" {
		t.Errorf("X-Custom-Header: got %v, want [custom-value]", vals)
	}
}

func TestParseEncodedWords(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: =?UTF-8?q?J=C3=BCrgen?= <j@example.com>",
		"To: <r@example.com>",
		"Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.From.Name != "Jürgen" {
		t.Errorf("From name: got %q, want %q", msg.From.Name, "Jürgen")
	}
	if msg.Subject != "Grüße" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Grüße")
	}
}

func TestParseRendered(t *testing.T) {
	t.Parallel()

	content := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	built, err := email.NewBuilder().
		From("a@x.com", "Ann Sender").
		ReplyTo("replies@x.com", "").
		To("b@x.com", "").
		Cc("c@x.com", "Carl").
		Bcc("hidden@x.com", "").
		Subject("Hi").
		Text("Hello\nsecond line").
		AttachContent("report.pdf", content).
		Build()
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	rendered, err := compose.Render(built, compose.Options{})
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}

	msg, err := Parse(rendered.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != built.From {
		t.Errorf("From: got %+v, want %+v", msg.From, built.From)
	}
	if msg.ReplyTo == nil || msg.ReplyTo.Email != "replies@x.com" {
		t.Errorf("ReplyTo: got %+v, want replies@x.com", msg.ReplyTo)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != built.Cc[0] {
		t.Errorf("Cc: got %+v, want %+v", msg.Cc, built.Cc)
	}
	if msg.Bcc != nil {
		t.Errorf("Bcc: got %v, want none in headers", msg.Bcc)
	}
	if msg.Subject != "Hi" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hi")
	}
	if msg.Text != "Hello\nsecond line" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Hello\nsecond line")
	}
	if "<"+msg.MessageID+">" != rendered.MessageID {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, rendered.MessageID)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "report.pdf" {
		t.Errorf("Filename: got %q, want %q", msg.Attachments[0].Filename, "report.pdf")
	}
	if !bytes.Equal(msg.Attachments[0].Content, content) {
		t.Errorf("Content: got %v, want %v", msg.Attachments[0].Content, content)
	}
}
