package compose

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// Markdown converts a markdown document into an HTML body.
func Markdown(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
