package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"scripthub/util"

	"github.com/a-h/templ"
	"github.com/nats-io/nats.go/jetstream"
	datastar "github.com/starfederation/datastar/sdk/go"
)

// RenderFuncB: minimal signature – render given message into the SSE stream.
type RenderFuncB func(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator) error

type Renderer struct {
	Pattern    string
	MatchFunc  func(string) bool
	RenderFunc RenderFuncB
}

// RendererSpec is a catalogue entry: a wildcard pattern and a factory that
// can build a concrete Renderer for a given subscription subject that matches
// the pattern.
type RendererSpec struct {
	Pattern string
	Build   func(subj string) Renderer
}

// Specs is filled by renderers.go during init and treated as read-only.
var Specs []RendererSpec

// ForSubjects returns the renderers for the subjects a UI stream consumes.
// Subjects may be wildcards; every spec whose pattern overlaps one of them
// gets a renderer. The fallback renderer is always last.
func ForSubjects(subjects []string) []Renderer {
	out := make([]Renderer, 0)
	seen := make(map[string]struct{})
	for _, s := range subjects {
		for _, spec := range Specs {
			if !util.SubjectsOverlap(spec.Pattern, s) {
				continue
			}
			if _, ok := seen[spec.Pattern]; ok {
				continue
			}
			seen[spec.Pattern] = struct{}{}
			out = append(out, spec.Build(spec.Pattern))
		}
	}
	// Ensure fallback renderer is last
	out = append(out, fallback)
	return out
}

// Render dispatches msg to the first matching renderer.
func Render(ctx context.Context, renderers []Renderer, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator) error {
	for _, r := range renderers {
		if r.MatchFunc(msg.Subject()) {
			return r.RenderFunc(ctx, msg, sse)
		}
	}
	return nil
}

// newRenderer creates a renderer matching a specific subject pattern (with wildcards).
func newRenderer(pattern string, fn RenderFuncB) Renderer {
	return Renderer{
		Pattern:    pattern,
		MatchFunc:  func(subj string) bool { return util.SubjectMatches(pattern, subj) },
		RenderFunc: fn,
	}
}

// newTypedRenderer decodes the JSON payload into T and invokes handler.
func newTypedRenderer[T any](pattern string, handler func(context.Context, jetstream.Msg, *datastar.ServerSentEventGenerator, T) error) Renderer {
	return newRenderer(pattern, func(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator) error {
		var p T
		dec := json.NewDecoder(bytes.NewReader(msg.Data()))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("decode %T: %w", p, err)
		}
		return handler(ctx, msg, sse, p)
	})
}

// fallback shows an event no renderer knows as raw text in the console log.
var fallback = newRenderer(
	">",
	func(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator) error {
		frag := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
			_, err := fmt.Fprintf(w, `<pre class="unrendered">%s\n%s</pre>`, templ.EscapeString(msg.Subject()), templ.EscapeString(string(msg.Data())))
			return err
		})
		return sse.MergeFragmentTempl(
			frag,
			datastar.WithSelectorID(consoleLogID),
			datastar.WithMergeAppend(),
		)
	},
)
