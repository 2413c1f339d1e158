package syntax

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type mode uint8

const (
	modeMarkup mode = iota
	modeMath
	modeCode
)

// lexer splits src[pos:limit] into tokens. It always sees the full text so
// that line-start checks look behind the region being lexed.
type lexer struct {
	src   string
	pos   int
	limit int
	mode  mode

	// err is the message of the last Error token.
	err string
	// eof is set when the last token stopped at the limit while unterminated.
	eof bool
}

var units = []string{"pt", "mm", "cm", "in", "em", "fr", "deg", "rad", "%"}

func (l *lexer) next() Kind {
	l.err, l.eof = "", false
	if l.pos >= l.limit {
		return End
	}
	start := l.pos
	c := l.src[l.pos]

	switch {
	case isSpace(c):
		return l.whitespace()
	case c == '/' && l.peek(1) == '/':
		return l.lineComment()
	case c == '/' && l.peek(1) == '*':
		return l.blockComment()
	}

	switch l.mode {
	case modeMarkup:
		return l.markup(start, c)
	case modeMath:
		return l.math(c)
	default:
		return l.code(start, c)
	}
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < l.limit {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) rune() (rune, int) {
	return utf8.DecodeRuneInString(l.src[l.pos:l.limit])
}

func (l *lexer) error(msg string) Kind {
	l.err = msg
	return Error
}

func (l *lexer) whitespace() Kind {
	newlines := 0
	for l.pos < l.limit && isSpace(l.src[l.pos]) {
		if l.src[l.pos] == '\n' {
			newlines++
		}
		l.pos++
	}
	if l.mode == modeMarkup && newlines >= 2 {
		return Parbreak
	}
	return Space
}

func (l *lexer) lineComment() Kind {
	for l.pos < l.limit && l.src[l.pos] != '\n' {
		l.pos++
	}
	return LineComment
}

func (l *lexer) blockComment() Kind {
	l.pos += 2
	depth := 1
	for l.pos < l.limit && depth > 0 {
		switch {
		case l.src[l.pos] == '/' && l.peek(1) == '*':
			depth++
			l.pos += 2
		case l.src[l.pos] == '*' && l.peek(1) == '/':
			depth--
			l.pos += 2
		default:
			l.pos++
		}
	}
	l.eof = depth > 0
	return BlockComment
}

func (l *lexer) atLineStart(pos int) bool {
	i := pos - 1
	for i >= 0 && (l.src[i] == ' ' || l.src[i] == '\t') {
		i--
	}
	return i < 0 || l.src[i] == '\n'
}

func (l *lexer) markerFollows(n int) bool {
	c := l.peek(n)
	return c == 0 || isSpace(c)
}

func (l *lexer) markup(start int, c byte) Kind {
	switch c {
	case '\\':
		return l.escape()
	case '`':
		return l.raw()
	case '<':
		if n := l.labelLen(1); n > 0 && l.peek(1+n) == '>' {
			l.pos += n + 2
			return Label
		}
	case '@':
		if n := l.labelLen(1); n > 0 {
			l.pos += n + 1
			return Ref
		}
	case '#':
		l.pos++
		return Hash
	case '$':
		l.pos++
		return Dollar
	case ']':
		l.pos++
		return RightBracket
	case '=':
		if l.atLineStart(start) {
			n := 0
			for l.peek(n) == '=' {
				n++
			}
			if l.markerFollows(n) {
				l.pos += n
				return HeadingMarker
			}
		}
	case '-':
		if l.atLineStart(start) && l.markerFollows(1) {
			l.pos++
			return ListMarker
		}
	case '+':
		if l.atLineStart(start) && l.markerFollows(1) {
			l.pos++
			return EnumMarker
		}
	default:
		if isDigit(c) && l.atLineStart(start) {
			n := 0
			for isDigit(l.peek(n)) {
				n++
			}
			if l.peek(n) == '.' && l.markerFollows(n+1) {
				l.pos += n + 1
				return EnumMarker
			}
		}
	}
	return l.text()
}

// text consumes a run of plain markup text.
func (l *lexer) text() Kind {
	_, size := l.rune()
	l.pos += size
	for l.pos < l.limit {
		c := l.src[l.pos]
		if isSpace(c) || strings.IndexByte("\\`<@#$]", c) >= 0 ||
			(c == '/' && (l.peek(1) == '/' || l.peek(1) == '*')) {
			break
		}
		_, size := l.rune()
		l.pos += size
	}
	return Text
}

func (l *lexer) escape() Kind {
	l.pos++
	if l.pos >= l.limit {
		return Text
	}
	_, size := l.rune()
	l.pos += size
	return Escape
}

func (l *lexer) raw() Kind {
	n := 0
	for l.peek(n) == '`' {
		n++
	}
	l.pos += n
	if n == 2 {
		return Raw
	}
	fence := strings.Repeat("`", n)
	if i := strings.Index(l.src[l.pos:l.limit], fence); i >= 0 {
		l.pos += i + n
		return Raw
	}
	l.pos = l.limit
	l.eof = true
	return l.error("unclosed raw text")
}

func (l *lexer) labelLen(from int) int {
	n := 0
	for l.pos+from+n < l.limit {
		r, size := utf8.DecodeRuneInString(l.src[l.pos+from+n : l.limit])
		if !isLabelChar(r) {
			break
		}
		n += size
	}
	// A trailing dot or colon ends a sentence rather than a label.
	for n > 0 && strings.IndexByte(".:", l.src[l.pos+from+n-1]) >= 0 {
		n--
	}
	return n
}

func (l *lexer) math(c byte) Kind {
	switch c {
	case '$':
		l.pos++
		return Dollar
	case '#':
		l.pos++
		return Hash
	case '\\':
		return l.escape()
	case '"':
		return l.str()
	}
	r, size := l.rune()
	if unicode.IsLetter(r) {
		count := 0
		for l.pos < l.limit {
			r, size := l.rune()
			if !unicode.IsLetter(r) {
				break
			}
			l.pos += size
			count++
		}
		if count > 1 {
			return MathIdent
		}
		return MathText
	}
	if isDigit(c) {
		for l.pos < l.limit && isDigit(l.src[l.pos]) {
			l.pos++
		}
		if l.pos+1 < l.limit && l.src[l.pos] == '.' && isDigit(l.src[l.pos+1]) {
			l.pos++
			for l.pos < l.limit && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
		return MathText
	}
	l.pos += size
	return MathText
}

func (l *lexer) code(start int, c byte) Kind {
	r, size := l.rune()
	switch {
	case isIdentStart(r):
		return l.ident(start)
	case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
		return l.number(start)
	case c == '"':
		return l.str()
	case c == '<':
		if n := l.labelLen(1); n > 0 && l.peek(1+n) == '>' {
			l.pos += n + 2
			return Label
		}
	}

	two := func(next byte, pair, single Kind) Kind {
		if l.peek(1) == next {
			l.pos += 2
			return pair
		}
		l.pos++
		return single
	}

	switch c {
	case '{':
		l.pos++
		return LeftBrace
	case '}':
		l.pos++
		return RightBrace
	case '[':
		l.pos++
		return LeftBracket
	case ']':
		l.pos++
		return RightBracket
	case '(':
		l.pos++
		return LeftParen
	case ')':
		l.pos++
		return RightParen
	case ',':
		l.pos++
		return Comma
	case ';':
		l.pos++
		return Semicolon
	case ':':
		l.pos++
		return Colon
	case '$':
		l.pos++
		return Dollar
	case '.':
		return two('.', Dots, Dot)
	case '=':
		switch l.peek(1) {
		case '>':
			l.pos += 2
			return Arrow
		case '=':
			l.pos += 2
			return EqEq
		}
		l.pos++
		return Eq
	case '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return ExclEq
		}
	case '<':
		return two('=', LtEq, Lt)
	case '>':
		return two('=', GtEq, Gt)
	case '+':
		return two('=', PlusEq, Plus)
	case '-':
		return two('=', HyphEq, Minus)
	case '*':
		return two('=', StarEq, Star)
	case '/':
		return two('=', SlashEq, Slash)
	}

	l.pos += size
	return l.error("the character `" + string(r) + "` is not valid in code")
}

func (l *lexer) ident(start int) Kind {
	for l.pos < l.limit {
		r, size := l.rune()
		if r == '-' {
			// A hyphen belongs to the identifier only when another identifier
			// character follows it directly.
			next, _ := utf8.DecodeRuneInString(l.src[l.pos+size : l.limit])
			if l.pos+size >= l.limit || !isIdentContinue(next) || next == '-' {
				break
			}
		} else if !isIdentContinue(r) {
			break
		}
		l.pos += size
	}
	if k, ok := keywords[l.src[start:l.pos]]; ok {
		return k
	}
	return Ident
}

func (l *lexer) number(start int) Kind {
	kind := Int
	for l.pos < l.limit && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < l.limit && l.src[l.pos] == '.' && isDigit(l.peek(1)) {
		kind = Float
		l.pos++
		for l.pos < l.limit && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < l.limit && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		n := 1
		if c := l.peek(1); c == '+' || c == '-' {
			n++
		}
		if isDigit(l.peek(n)) {
			kind = Float
			l.pos += n
			for l.pos < l.limit && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}

	suffixStart := l.pos
	if l.pos < l.limit && l.src[l.pos] == '%' {
		l.pos++
	} else {
		for l.pos < l.limit && isASCIILetter(l.src[l.pos]) {
			l.pos++
		}
	}
	if suffix := l.src[suffixStart:l.pos]; suffix != "" {
		for _, u := range units {
			if suffix == u {
				return Numeric
			}
		}
		return l.error("invalid number suffix: " + suffix)
	}
	return kind
}

func (l *lexer) str() Kind {
	l.pos++
	for l.pos < l.limit {
		switch l.src[l.pos] {
		case '\\':
			l.pos++
			if l.pos < l.limit && l.src[l.pos] != '\n' {
				_, size := l.rune()
				l.pos += size
			}
			continue
		case '"':
			l.pos++
			return Str
		case '\n':
			return l.error("unterminated string")
		}
		l.pos++
	}
	l.eof = true
	return l.error("unterminated string")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isLabelChar(r rune) bool {
	return isIdentContinue(r) || r == ':' || r == '.'
}

// IsIdent reports whether s lexes as a single, non-keyword identifier.
func IsIdent(s string) bool {
	if s == "" {
		return false
	}
	l := lexer{src: s, limit: len(s), mode: modeCode}
	return l.next() == Ident && l.pos == len(s)
}
