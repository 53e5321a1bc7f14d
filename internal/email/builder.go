package email

import (
	"errors"
	"path/filepath"
	"slices"
)

// Builder accumulates message fields fluently. Field errors are collected
// and returned by Build.
type Builder struct {
	files FileSource
	msg   Message
	errs  []error
}

// NewBuilder returns a Builder that checks attachments against the local
// file system.
func NewBuilder() *Builder {
	return NewBuilderWithFiles(OSFiles)
}

// NewBuilderWithFiles returns a Builder that checks attachments against fs.
func NewBuilderWithFiles(fs FileSource) *Builder {
	if fs == nil {
		fs = OSFiles
	}
	return &Builder{files: fs, msg: Message{Mode: ModeText}}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// From sets the sender.
func (b *Builder) From(email, name string) *Builder {
	a := Address{Email: email, Name: name}
	if err := a.Validate("from"); err != nil {
		return b.fail(err)
	}
	b.msg.From = a
	return b
}

// ReplyTo sets the Reply-To identity.
func (b *Builder) ReplyTo(email, name string) *Builder {
	a := Address{Email: email, Name: name}
	if err := a.Validate("reply-to"); err != nil {
		return b.fail(err)
	}
	b.msg.ReplyTo = &a
	return b
}

// To appends a primary recipient.
func (b *Builder) To(email, name string) *Builder {
	return b.add(&b.msg.To, "to", email, name)
}

// Cc appends a carbon-copy recipient.
func (b *Builder) Cc(email, name string) *Builder {
	return b.add(&b.msg.Cc, "cc", email, name)
}

// Bcc appends a blind recipient. Blind recipients only appear in the envelope.
func (b *Builder) Bcc(email, name string) *Builder {
	return b.add(&b.msg.Bcc, "bcc", email, name)
}

func (b *Builder) add(list *[]Address, field, email, name string) *Builder {
	a := Address{Email: email, Name: name}
	if err := a.Validate(field); err != nil {
		return b.fail(err)
	}
	*list = append(*list, a)
	return b
}

// Subject sets the subject line.
func (b *Builder) Subject(s string) *Builder {
	b.msg.Subject = s
	return b
}

// Text sets the plain-text body and selects text mode.
func (b *Builder) Text(s string) *Builder {
	b.msg.Text = s
	b.msg.Mode = ModeText
	return b
}

// HTML sets the HTML body and selects html mode.
func (b *Builder) HTML(s string) *Builder {
	b.msg.HTML = s
	b.msg.Mode = ModeHTML
	return b
}

// Attach registers a file. The file must exist now; it is read at render time.
func (b *Builder) Attach(path string) *Builder {
	if path == "" {
		return b.fail(&ValidationError{Field: "attachment", Reason: "path is empty"})
	}
	name := filepath.Base(path)
	if err := ValidateFilename(name); err != nil {
		return b.fail(err)
	}
	if !b.files.Exists(path) {
		return b.fail(&ValidationError{Field: "attachment", Reason: "file " + path + " does not exist"})
	}
	b.msg.Attachments = append(b.msg.Attachments, Attachment{
		Path:     path,
		Filename: name,
	})
	return b
}

// AttachContent registers an in-memory attachment.
func (b *Builder) AttachContent(filename string, content []byte) *Builder {
	if err := ValidateFilename(filename); err != nil {
		return b.fail(err)
	}
	if content == nil {
		content = []byte{}
	}
	b.msg.Attachments = append(b.msg.Attachments, Attachment{
		Filename: filename,
		Content:  slices.Clone(content),
	})
	return b
}

// Err returns the errors collected so far, joined.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

// Build validates the accumulated fields and returns an independent Message.
func (b *Builder) Build() (*Message, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	if b.msg.From.Email == "" {
		return nil, &ValidationError{Field: "from", Reason: "sender is not set"}
	}
	if len(b.msg.To)+len(b.msg.Cc)+len(b.msg.Bcc) == 0 {
		return nil, &ValidationError{Field: "recipients", Reason: "no recipients"}
	}

	msg := b.msg
	if b.msg.ReplyTo != nil {
		r := *b.msg.ReplyTo
		msg.ReplyTo = &r
	}
	msg.To = slices.Clone(b.msg.To)
	msg.Cc = slices.Clone(b.msg.Cc)
	msg.Bcc = slices.Clone(b.msg.Bcc)
	msg.Attachments = slices.Clone(b.msg.Attachments)
	return &msg, nil
}
