package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes chapter text before chunking: CRLF and CR become LF, a leading
// byte order mark is dropped, and control characters other than newline and tab are removed.
// Paragraph breaks are preserved so the chunker can align to them.
func Preprocess(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
