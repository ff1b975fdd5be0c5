package extract

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(path, ext string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	text, encoding := decodeText(data)

	return &Result{
		Text: text,
		Metadata: map[string]string{
			"file_type":  ext,
			"encoding":   encoding,
			"char_count": fmt.Sprintf("%d", len([]rune(text))),
			"line_count": fmt.Sprintf("%d", strings.Count(text, "\n")+1),
		},
	}, nil
}

// decodeText tries UTF-8 (with or without BOM) first and falls back to
// Windows-1252, which is a superset of Latin-1 for printable bytes.
func decodeText(data []byte) (string, string) {
	if len(data) >= 3 && data[0] == utf8BOM[0] && data[1] == utf8BOM[1] && data[2] == utf8BOM[2] {
		if utf8.Valid(data[3:]) {
			return string(data[3:]), "utf-8-sig"
		}
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	return decodeCP1252(data), "cp1252"
}

// cp1252Extras maps the 0x80-0x9F range, where Windows-1252 diverges from
// Latin-1. Unmapped slots decode to U+FFFD.
var cp1252Extras = [32]rune{
	'€', '�', '‚', 'ƒ', '„', '…', '†', '‡',
	'ˆ', '‰', 'Š', '‹', 'Œ', '�', 'Ž', '�',
	'�', '‘', '’', '“', '”', '•', '–', '—',
	'˜', '™', 'š', '›', 'œ', '�', 'ž', 'Ÿ',
}

func decodeCP1252(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		switch {
		case c < 0x80:
			b.WriteByte(c)
		case c < 0xA0:
			b.WriteRune(cp1252Extras[c-0x80])
		default:
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}
