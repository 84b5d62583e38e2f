package extractor

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func extractPlainText(filename string, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("unsupported binary content: %s", filename)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}
