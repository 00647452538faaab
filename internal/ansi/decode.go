// Package ansi turns terminal output containing SGR escape sequences into
// styled text runs.
//
// Only a small subset of Select Graphic Rendition codes is understood: reset,
// bold and the basic foreground colors. Everything else passes through as
// literal text or is ignored.
//
// # Usage
//
//	runs, carry := ansi.Decode("\x1b[91mERROR\x1b[0m done", ansi.Style{})
//	// runs[0] = {Text: "ERROR", Style: {Foreground: ColorRed}}
//	// runs[1] = {Text: " done", Style: {}}
//
// The returned carry style must be passed to the next Decode call for the same
// stream so that a color opened in one chunk continues into the next.
package ansi

import "strings"

// csi is the control sequence introducer (ESC + '[').
const csi = "\x1b["

// Color is a foreground color. The zero value is the terminal default.
type Color int

const (
	ColorDefault Color = iota
	ColorGray
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
)

// String returns the lowercase color name.
func (c Color) String() string {
	switch c {
	case ColorDefault:
		return "default"
	case ColorGray:
		return "gray"
	case ColorRed:
		return "red"
	case ColorGreen:
		return "green"
	case ColorYellow:
		return "yellow"
	case ColorBlue:
		return "blue"
	default:
		return "unknown"
	}
}

// Style is the rendering state carried between escape sequences.
type Style struct {
	Bold       bool
	Foreground Color
}

// IsPlain reports whether the style renders as unstyled text.
func (s Style) IsPlain() bool {
	return !s.Bold && s.Foreground == ColorDefault
}

// Run is a span of text sharing one style.
type Run struct {
	Text  string
	Style Style
}

// sgrCodes maps a complete SGR parameter string to its effect on the style.
var sgrCodes = map[string]func(Style) Style{
	"0":  func(Style) Style { return Style{} },
	"1":  func(s Style) Style { s.Bold = true; return s },
	"30": foreground(ColorGray),
	"90": foreground(ColorGray),
	"31": foreground(ColorRed),
	"91": foreground(ColorRed),
	"32": foreground(ColorGreen),
	"92": foreground(ColorGreen),
	"33": foreground(ColorYellow),
	"93": foreground(ColorYellow),
	"34": foreground(ColorBlue),
	"94": foreground(ColorBlue),
	"39": foreground(ColorDefault),
}

func foreground(c Color) func(Style) Style {
	return func(s Style) Style {
		s.Foreground = c
		return s
	}
}

// Decode splits chunk into styled runs starting from the carry style and
// returns the style in effect at the end of the chunk.
//
// A segment whose SGR terminator is missing (a sequence split across reads or
// malformed input) is emitted verbatim with the current style. Unknown codes
// leave the style untouched. Empty runs are omitted.
func Decode(chunk string, carry Style) ([]Run, Style) {
	segments := strings.Split(chunk, csi)
	runs := make([]Run, 0, len(segments))
	style := carry

	for i, seg := range segments {
		if i == 0 {
			runs = appendRun(runs, seg, style)
			continue
		}

		params, text, ok := strings.Cut(seg, "m")
		if !ok {
			runs = appendRun(runs, seg, style)
			continue
		}
		if apply, known := sgrCodes[params]; known {
			style = apply(style)
		}
		runs = appendRun(runs, text, style)
	}

	return runs, style
}

func appendRun(runs []Run, text string, style Style) []Run {
	if text == "" {
		return runs
	}
	return append(runs, Run{Text: text, Style: style})
}

// Strip returns s with every recognised SGR sequence removed.
func Strip(s string) string {
	runs, _ := Decode(s, Style{})
	return Text(runs)
}

// Text concatenates the text of runs.
func Text(runs []Run) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Decoder threads the carry style across successive chunks of one stream.
// It is not safe for concurrent use.
type Decoder struct {
	style Style
}

// Decode decodes chunk using and updating the decoder's carry style.
func (d *Decoder) Decode(chunk string) []Run {
	runs, next := Decode(chunk, d.style)
	d.style = next
	return runs
}

// Style returns the carry style.
func (d *Decoder) Style() Style {
	return d.style
}

// Reset drops the carry style.
func (d *Decoder) Reset() {
	d.style = Style{}
}
