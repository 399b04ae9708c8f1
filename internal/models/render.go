package models

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(highlighting.Highlighting),
)

// RenderMarkdown renders message content to HTML. Companions occasionally answer with lists or
// emphasis, and the chat page shows the rendered form while streaming.
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("error converting markdown: %w", err)
	}
	return buf.String(), nil
}
