package ansi

import (
	"context"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Classes returns the CSS classes for a style, space separated.
func (s Style) Classes() string {
	var classes []string
	if s.Bold {
		classes = append(classes, "ansi-bold")
	}
	if s.Foreground != ColorDefault {
		classes = append(classes, "ansi-fg-"+s.Foreground.String())
	}
	return strings.Join(classes, " ")
}

// HTML renders runs as escaped markup. Plain runs are written as bare text,
// styled runs are wrapped in a span carrying the style's classes.
func HTML(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		text := html.EscapeString(r.Text)
		if r.Style.IsPlain() {
			b.WriteString(text)
			continue
		}
		b.WriteString(`<span class="`)
		b.WriteString(r.Style.Classes())
		b.WriteString(`">`)
		b.WriteString(text)
		b.WriteString(`</span>`)
	}
	return b.String()
}

// Component wraps HTML(runs) as a templ component.
func Component(runs []Run) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, HTML(runs))
		return err
	})
}
