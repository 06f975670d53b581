package format

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdownInstance
}

// Markdown renders trusted Markdown source (static help and usage text) to
// HTML. Raw HTML in the source is dropped by goldmark's default renderer.
// The source is returned unchanged as the plain body.
func Markdown(source string) Message {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(source), &buf); err != nil {
		return Message{Plain: source}
	}
	return Message{Plain: source, HTML: strings.TrimSpace(buf.String())}
}
