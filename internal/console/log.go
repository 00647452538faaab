package console

import (
	"slices"
	"strings"
	"sync"
	"time"

	"scripthub/internal/ansi"

	"github.com/rs/xid"
)

// Origin says who produced a message.
type Origin int

const (
	OriginProcess Origin = iota
	OriginUser
)

func (o Origin) String() string {
	if o == OriginUser {
		return "user"
	}
	return "process"
}

// EmptyInputPlaceholder is displayed for an empty submitted line.
const EmptyInputPlaceholder = "⏎"

// Message is one entry of the display log.
type Message struct {
	ID        string
	Origin    Origin
	Text      string
	Runs      []ansi.Run
	CreatedAt time.Time
}

func (m Message) clone() Message {
	m.Runs = slices.Clone(m.Runs)
	return m
}

// Append describes the effect of one AppendProcess call.
type Append struct {
	// Message is the message after the append.
	Message Message
	// Coalesced is true when the chunk extended the previous message.
	Coalesced bool
	// Delta holds the runs added by this chunk.
	Delta []ansi.Run
}

// Log is the append-only display log. Consecutive process chunks with no
// user message between them are coalesced into one message.
//
// Log is safe for concurrent readers but expects a single writer.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	decoder  ansi.Decoder
	// pendingBreak records that the tail's last chunk had its newline trimmed.
	pendingBreak bool
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// AppendProcess adds a normalized output chunk. trailingBreak reports that
// a trailing newline was trimmed from text; it is restored if a later chunk
// is coalesced onto this one.
func (l *Log) AppendProcess(text string, trailingBreak bool) Append {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.messages)
	if n > 0 && l.messages[n-1].Origin == OriginProcess {
		if l.pendingBreak && !strings.HasPrefix(text, "\n") {
			text = "\n" + text
		}
		delta := l.decoder.Decode(text)
		tail := &l.messages[n-1]
		tail.Text += text
		tail.Runs = mergeRuns(tail.Runs, delta)
		l.pendingBreak = trailingBreak
		return Append{Message: tail.clone(), Coalesced: true, Delta: delta}
	}

	delta := l.decoder.Decode(text)
	msg := Message{
		ID:        xid.New().String(),
		Origin:    OriginProcess,
		Text:      text,
		Runs:      slices.Clone(delta),
		CreatedAt: time.Now(),
	}
	l.messages = append(l.messages, msg)
	l.pendingBreak = trailingBreak
	return Append{Message: msg.clone(), Delta: delta}
}

// AppendUser records a line the user sent to the child.
func (l *Log) AppendUser(line string) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	text := line
	if text == "" {
		text = EmptyInputPlaceholder
	}
	msg := Message{
		ID:        xid.New().String(),
		Origin:    OriginUser,
		Text:      text,
		Runs:      []ansi.Run{{Text: text}},
		CreatedAt: time.Now(),
	}
	l.messages = append(l.messages, msg)
	l.pendingBreak = false
	return msg.clone()
}

// Clear empties the log and drops the decoder's carry style.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.pendingBreak = false
	l.decoder.Reset()
}

// Messages returns a copy of the log.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// mergeRuns appends delta to runs, joining the boundary runs when they share
// a style.
func mergeRuns(runs, delta []ansi.Run) []ansi.Run {
	for _, r := range delta {
		if n := len(runs); n > 0 && runs[n-1].Style == r.Style {
			runs[n-1].Text += r.Text
			continue
		}
		runs = append(runs, r)
	}
	return runs
}
