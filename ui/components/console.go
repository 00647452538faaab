package components

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// MessageBodyID is the element id holding a message's styled text.
func MessageBodyID(messageID string) string {
	return "msg-" + messageID + "-body"
}

// ConsoleMessage renders one display-log entry. html must already be escaped.
func ConsoleMessage(messageID, origin, html string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div id="msg-%s" class="msg msg-%s"><pre id="%s">%s</pre></div>`,
			templ.EscapeString(messageID), templ.EscapeString(origin), MessageBodyID(templ.EscapeString(messageID)), html)
		return err
	})
}

// ConsoleDelta wraps text appended to an existing message.
func ConsoleDelta(html string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<span>%s</span>`, html)
		return err
	})
}

// LogEntry is the minimum a ConsoleLog needs per message.
type LogEntry struct {
	ID     string
	Origin string
	HTML   string
}

// ConsoleLog renders the whole display log container.
func ConsoleLog(entries []LogEntry) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<div id="console-log" class="console-log">`); err != nil {
			return err
		}
		for _, e := range entries {
			if err := ConsoleMessage(e.ID, e.Origin, e.HTML).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</div>`)
		return err
	})
}

// ConsoleStatus renders the run state badge.
func ConsoleStatus(state, profileName string, pid int) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		label := state
		if state == "running" && pid > 0 {
			label = fmt.Sprintf("running · pid %d", pid)
		}
		if profileName != "" {
			label = profileName + " · " + label
		}
		_, err := fmt.Fprintf(w, `<div id="console-status" class="status status-%s">%s</div>`,
			templ.EscapeString(state), templ.EscapeString(label))
		return err
	})
}

// ConsoleError renders the error banner. An empty message hides it.
func ConsoleError(msg string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if msg == "" {
			_, err := io.WriteString(w, `<div id="console-error" class="console-error" hidden></div>`)
			return err
		}
		_, err := fmt.Fprintf(w, `<div id="console-error" class="console-error">%s</div>`, templ.EscapeString(msg))
		return err
	})
}
