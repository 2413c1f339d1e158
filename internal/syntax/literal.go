package syntax

import (
	"strconv"
	"strings"
)

// StrValue decodes the text of a string literal, quotes included.
func StrValue(text string) string {
	text = strings.TrimPrefix(text, `"`)
	text = strings.TrimSuffix(text, `"`)
	if !strings.ContainsRune(text, '\\') {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i+1 >= len(text) {
			b.WriteByte(c)
			continue
		}
		i++
		switch text[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'u':
			if i+1 < len(text) && text[i+1] == '{' {
				if end := strings.IndexByte(text[i:], '}'); end > 0 {
					if r, err := strconv.ParseUint(text[i+2:i+end], 16, 32); err == nil {
						b.WriteRune(rune(r))
						i += end
						continue
					}
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// NumericValue splits a numeric literal such as 12pt or 50% into its value
// and unit.
func NumericValue(text string) (float64, string, bool) {
	i := len(text)
	for i > 0 && (isASCIILetter(text[i-1]) || text[i-1] == '%') {
		i--
	}
	v, err := strconv.ParseFloat(text[:i], 64)
	if err != nil {
		return 0, "", false
	}
	return v, text[i:], true
}
