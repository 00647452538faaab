package console

import (
	"testing"

	"scripthub/internal/ansi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestLogCoalescesConsecutiveProcessChunks(t *testing.T) {
	l := NewLog()

	first := l.AppendProcess("foo", false)
	second := l.AppendProcess("bar", false)

	assert.False(t, first.Coalesced)
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, []string{"foobar"}, texts(l.Messages()))
}

func TestLogUserMessageSplitsProcessOutput(t *testing.T) {
	l := NewLog()

	l.AppendProcess("foo", false)
	l.AppendUser("input")
	app := l.AppendProcess("bar", false)

	assert.False(t, app.Coalesced)
	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"foo", "input", "bar"}, texts(msgs))
	assert.Equal(t, OriginProcess, msgs[0].Origin)
	assert.Equal(t, OriginUser, msgs[1].Origin)
	assert.Equal(t, OriginProcess, msgs[2].Origin)
}

func TestLogRestoresTrimmedLineBreak(t *testing.T) {
	l := NewLog()

	l.AppendProcess("line one", true)
	app := l.AppendProcess("line two", true)
	assert.Equal(t, "line one\nline two", app.Message.Text)
	assert.Equal(t, "\nline two", ansi.Text(app.Delta))

	// A chunk that already starts with a break does not get a second one.
	app = l.AppendProcess("\n[Process Finished]", false)
	assert.Equal(t, "line one\nline two\n[Process Finished]", app.Message.Text)
}

func TestLogEmptyUserLineShowsPlaceholder(t *testing.T) {
	l := NewLog()

	msg := l.AppendUser("")
	assert.Equal(t, EmptyInputPlaceholder, msg.Text)
	assert.Equal(t, OriginUser, msg.Origin)
}

func TestLogCarriesStyleAcrossChunks(t *testing.T) {
	l := NewLog()

	open := l.AppendProcess("\x1b[91m", false)
	assert.Empty(t, open.Delta)

	app := l.AppendProcess("red-text", false)
	require.Len(t, app.Delta, 1)
	assert.Equal(t, ansi.ColorRed, app.Delta[0].Style.Foreground)
	assert.Equal(t, "red-text", ansi.Text(app.Message.Runs))
}

func TestLogMergesRunsWithSameStyle(t *testing.T) {
	l := NewLog()

	l.AppendProcess("a", false)
	app := l.AppendProcess("b", false)

	assert.Equal(t, []ansi.Run{{Text: "ab"}}, app.Message.Runs)
}

func TestLogClear(t *testing.T) {
	l := NewLog()

	l.AppendProcess("\x1b[1mbold", true)
	l.Clear()
	assert.Equal(t, 0, l.Len())

	app := l.AppendProcess("plain", false)
	assert.False(t, app.Coalesced)
	assert.Equal(t, "plain", app.Message.Text)
	assert.True(t, app.Delta[0].Style.IsPlain())
}

func TestLogMessagesReturnsCopy(t *testing.T) {
	l := NewLog()
	l.AppendProcess("abc", false)

	msgs := l.Messages()
	msgs[0].Text = "mutated"
	msgs[0].Runs[0].Text = "mutated"

	again := l.Messages()
	assert.Equal(t, "abc", again[0].Text)
	assert.Equal(t, "abc", again[0].Runs[0].Text)
}
