package extract

import (
	"bytes"
	"errors"
	"strings"
)

var errBinaryContent = errors.New("binary content in text document")

type plainTextExtractor struct{}

func (plainTextExtractor) Extract(blob []byte) (string, error) {
	if bytes.IndexByte(blob, 0) >= 0 {
		return "", &ExtractionError{Format: "text/plain", Cause: errBinaryContent}
	}
	blob = bytes.TrimPrefix(blob, []byte("\xef\xbb\xbf"))
	text := strings.ToValidUTF8(string(blob), "\uFFFD")
	return normalizeNewlines(text), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// joinParagraphs collapses runs of blank lines and intra-line whitespace,
// so block boundaries end up as exactly one blank line.
func joinParagraphs(s string) string {
	lines := strings.Split(normalizeNewlines(s), "\n")
	var b strings.Builder
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = true
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}
