package supervisor

import (
	"strings"
	"unicode/utf8"
)

// NormalizeChunk converts raw pipe text into display text.
//
// CRLF and then lone CR become LF, and a single trailing LF is removed. The
// trimmed result reports whether that LF was present. ok is false when
// nothing is left to deliver.
func NormalizeChunk(raw string) (text string, trimmed bool, ok bool) {
	text = strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.HasSuffix(text, "\n") {
		text = text[:len(text)-1]
		trimmed = true
	}
	if text == "" {
		return "", false, false
	}
	return text, trimmed, true
}

// decodeUTF8 returns the valid text in buf and any incomplete multi-byte
// sequence at its end, which the caller prepends to the next read. Invalid
// bytes are dropped.
func decodeUTF8(buf []byte) (string, []byte) {
	complete, tail := splitIncomplete(buf)
	return strings.ToValidUTF8(string(complete), ""), tail
}

// splitIncomplete separates a trailing partial UTF-8 sequence from buf.
func splitIncomplete(buf []byte) ([]byte, []byte) {
	// A rune is at most utf8.UTFMax bytes, so only the last few can be partial.
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if utf8.FullRune(buf[i:]) {
			return buf, nil
		}
		return buf[:i], buf[i:]
	}
	return buf, nil
}
