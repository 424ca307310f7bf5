package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
)

// Renderer turns a markdown reply into terminal text.
type Renderer interface {
	Render(text string) string
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(string) string

func (f RendererFunc) Render(text string) string { return f(text) }

// PlainRenderer wraps lines at width columns. Zero disables wrapping.
func PlainRenderer(width int) Renderer {
	return RendererFunc(func(text string) string {
		if width <= 0 {
			return text
		}
		return wordwrap.String(text, width)
	})
}

// NewRenderer returns a glamour markdown renderer for terminals and a plain
// word-wrapping one otherwise.
func NewRenderer(tty bool, width int) Renderer {
	if width <= 0 {
		width = 80
	}
	if !tty {
		return PlainRenderer(width)
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r, err = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(width),
		)
	}
	if err != nil {
		return PlainRenderer(width)
	}
	plain := PlainRenderer(width)
	return RendererFunc(func(text string) string {
		out, err := r.Render(text)
		if err != nil {
			return plain.Render(text)
		}
		return strings.TrimRight(out, "\n")
	})
}
