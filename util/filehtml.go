package util

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	hl "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
)

// -----------------------------------------------------------------------------
// tiny cache so we only convert each distinct source once per process
// -----------------------------------------------------------------------------
var (
	cache sync.Map // map[cacheKey]string

	markdown = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			hl.NewHighlighting(hl.WithStyle("github")), // inline colours
		),
	)
)

type cacheKey struct {
	lang string
	sum  [sha256.Size]byte
}

// SourceToHTML converts Markdown, or source code wrapped in a fenced block,
// to HTML. lang "" means Markdown.
func SourceToHTML(src []byte, lang string) (string, error) {
	if lang != "" && lang != "md" && lang != "markdown" {
		fence := fenceFor(src)
		// wrap in fenced code block so Goldmark + Chroma highlight it
		wrapped := make([]byte, 0, len(src)+2*len(fence)+len(lang)+2)
		wrapped = append(wrapped, fence+lang+"\n"...)
		wrapped = append(wrapped, src...)
		if len(src) > 0 && src[len(src)-1] != '\n' {
			wrapped = append(wrapped, '\n')
		}
		wrapped = append(wrapped, fence...)
		src = wrapped
	}

	var buf bytes.Buffer
	if err := markdown.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("convert source: %w", err)
	}
	return buf.String(), nil
}

// LangFor guesses the fence language from a file extension ("run.py" -> "py").
func LangFor(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// FileToHTML converts a Markdown or source-code file to ready-to-embed HTML.
//
//	path   – file path inside fsys
//	lang   – "" to auto-detect from extension, or override like "go", "py";
//	         files without an extension render as plain text
//
// Conversions are cached by content, so edits to a script show up on the
// next call.
func FileToHTML(fsys fs.FS, path string, lang string) (string, error) {
	src, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = LangFor(path)
	}
	if lang == "" {
		lang = "text"
	}
	key := cacheKey{lang: lang, sum: sha256.Sum256(src)}
	if v, ok := cache.Load(key); ok {
		return v.(string), nil
	}

	html, err := SourceToHTML(src, lang)
	if err != nil {
		return "", err
	}
	cache.Store(key, html) // memoise for next call
	return html, nil
}

// fenceFor picks a backtick fence longer than any run inside src.
func fenceFor(src []byte) string {
	longest, run := 0, 0
	for _, b := range src {
		if b == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	if longest < 3 {
		return "```"
	}
	return strings.Repeat("`", longest+1)
}
