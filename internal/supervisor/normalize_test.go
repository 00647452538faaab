package supervisor

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeChunk(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantText    string
		wantTrimmed bool
		wantOK      bool
	}{
		{name: "crlf and trailing cr", raw: "hello\r\nworld\r", wantText: "hello\nworld", wantTrimmed: true, wantOK: true},
		{name: "spinner carriage returns", raw: "1%\r2%\r3%", wantText: "1%\n2%\n3%", wantOK: true},
		{name: "single trailing newline trimmed", raw: "line\n", wantText: "line", wantTrimmed: true, wantOK: true},
		{name: "only one newline trimmed", raw: "line\n\n", wantText: "line\n", wantTrimmed: true, wantOK: true},
		{name: "bare newline dropped", raw: "\n", wantOK: false},
		{name: "bare crlf dropped", raw: "\r\n", wantOK: false},
		{name: "empty dropped", raw: "", wantOK: false},
		{name: "no line ending", raw: "prompt> ", wantText: "prompt> ", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, trimmed, ok := NormalizeChunk(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantText, text)
			if ok {
				assert.Equal(t, tt.wantTrimmed, trimmed)
			}
		})
	}
}

func TestDecodeUTF8CarriesIncompleteTail(t *testing.T) {
	e := []byte("é") // 0xC3 0xA9

	text, tail := decodeUTF8(append([]byte("caf"), e[0]))
	assert.Equal(t, "caf", text)
	assert.Equal(t, []byte{e[0]}, tail)

	text, tail = decodeUTF8(append(tail, e[1]))
	assert.Equal(t, "é", text)
	assert.Empty(t, tail)
}

func TestDecodeUTF8DropsInvalidBytes(t *testing.T) {
	text, tail := decodeUTF8([]byte{'o', 0xff, 'k'})
	assert.Equal(t, "ok", text)
	assert.Empty(t, tail)

	// A stray continuation byte at the end is invalid, not incomplete.
	text, tail = decodeUTF8([]byte{'x', 0xa9})
	assert.Equal(t, "x", text)
	assert.Empty(t, tail)
}

func TestAugmentPath(t *testing.T) {
	sep := string(os.PathListSeparator)
	join := func(dirs ...string) string { return strings.Join(dirs, sep) }

	got := augmentPath(join("/usr/bin", "/usr/local/bin"), []string{"~/.local/bin", "/opt/homebrew/bin", "/usr/local/bin"}, "/home/dev")
	assert.Equal(t, join("/home/dev/.local/bin", "/opt/homebrew/bin", "/usr/bin", "/usr/local/bin"), got)

	// Nothing missing leaves PATH untouched.
	assert.Equal(t, "/a", augmentPath("/a", []string{"/a"}, ""))

	// Without HOME the tilde entry is skipped.
	assert.Equal(t, join("/opt/homebrew/bin", "/bin"), augmentPath("/bin", []string{"~/.local/bin", "/opt/homebrew/bin"}, ""))

	// Empty PATH.
	assert.Equal(t, "/x", augmentPath("", []string{"/x"}, ""))
}
