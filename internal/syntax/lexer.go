// Package syntax lexes and parses WDL source documents into the
// typed AST of pkg/wdl. The grammar is versioned: draft-2, 1.0, 1.1,
// and development are accepted, with a missing version statement
// defaulting to draft-2.
package syntax

import (
	"strings"
	"unicode"

	"github.com/me/gowdl/pkg/wdl"
)

// tokenKind enumerates lexer token classes.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString // quoted string start; parser scans parts itself
	tokPunct  // operators and delimiters
)

type token struct {
	kind tokenKind
	text string
	pos  wdl.Pos
	// quote holds the opening quote rune for tokString.
	quote rune
}

// lexer produces tokens over a rune slice, tracking line/column for
// positions. The parser drives special scanning modes for string
// bodies and command blocks.
type lexer struct {
	uri   string
	src   []rune
	off   int
	line  int
	col   int
	saved []token // pushback stack, last-in first-out
}

func newLexer(uri, source string) *lexer {
	return &lexer{uri: uri, src: []rune(source), line: 1, col: 1}
}

func (l *lexer) pos() wdl.Pos {
	return wdl.Pos{URI: l.uri, Line: l.line, Column: l.col}
}

func (l *lexer) errf(pos wdl.Pos, format string, args ...any) error {
	return wdl.Errorf(wdl.KindSyntaxError, pos, format, args...)
}

func (l *lexer) peekRune() rune {
	if l.off >= len(l.src) {
		return 0
	}
	return l.src[l.off]
}

func (l *lexer) peekRuneAt(n int) rune {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func (l *lexer) nextRune() rune {
	if l.off >= len(l.src) {
		return 0
	}
	r := l.src[l.off]
	l.off++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipSpace consumes whitespace and # line comments.
func (l *lexer) skipSpace() {
	for {
		r := l.peekRune()
		switch {
		case r == '#':
			for {
				r = l.nextRune()
				if r == 0 || r == '\n' {
					break
				}
			}
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
			l.nextRune()
		default:
			return
		}
	}
}

// multi-rune punctuation, longest first.
var punct2 = []string{"<<<", ">>>", "==", "!=", "<=", ">=", "&&", "||", "~{", "${"}

// next returns the next token, honoring pushbacks.
func (l *lexer) next() (token, error) {
	if n := len(l.saved); n > 0 {
		t := l.saved[n-1]
		l.saved = l.saved[:n-1]
		return t, nil
	}
	l.skipSpace()
	pos := l.pos()
	r := l.peekRune()
	if r == 0 {
		return token{kind: tokEOF, pos: pos}, nil
	}

	if r == '"' || r == '\'' {
		l.nextRune()
		return token{kind: tokString, pos: pos, quote: r}, nil
	}

	if unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peekRuneAt(1))) {
		return l.lexNumber(pos)
	}

	if unicode.IsLetter(r) || r == '_' {
		var b strings.Builder
		for {
			r := l.peekRune()
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				break
			}
			b.WriteRune(l.nextRune())
		}
		return token{kind: tokIdent, text: b.String(), pos: pos}, nil
	}

	for _, p := range punct2 {
		if l.hasPrefix(p) {
			for range p {
				l.nextRune()
			}
			return token{kind: tokPunct, text: p, pos: pos}, nil
		}
	}

	switch r {
	case '{', '}', '[', ']', '(', ')', ',', ':', '=', '+', '-', '*', '/', '%', '<', '>', '!', '?', '.':
		l.nextRune()
		return token{kind: tokPunct, text: string(r), pos: pos}, nil
	}
	return token{}, l.errf(pos, "unexpected character %q", string(r))
}

func (l *lexer) hasPrefix(s string) bool {
	for i, r := range []rune(s) {
		if l.peekRuneAt(i) != r {
			return false
		}
	}
	return true
}

func (l *lexer) push(t token) {
	l.saved = append(l.saved, t)
}

func (l *lexer) lexNumber(pos wdl.Pos) (token, error) {
	var b strings.Builder
	isFloat := false
	for {
		r := l.peekRune()
		if unicode.IsDigit(r) {
			b.WriteRune(l.nextRune())
			continue
		}
		if r == '.' && unicode.IsDigit(l.peekRuneAt(1)) {
			isFloat = true
			b.WriteRune(l.nextRune())
			continue
		}
		if r == 'e' || r == 'E' {
			nxt := l.peekRuneAt(1)
			if unicode.IsDigit(nxt) || ((nxt == '+' || nxt == '-') && unicode.IsDigit(l.peekRuneAt(2))) {
				isFloat = true
				b.WriteRune(l.nextRune()) // e
				b.WriteRune(l.nextRune()) // sign or digit
				continue
			}
		}
		break
	}
	kind := tokInt
	if isFloat {
		kind = tokFloat
	}
	return token{kind: kind, text: b.String(), pos: pos}, nil
}

// stringPartKind discriminates raw scan results inside strings and
// command blocks.
type stringPartKind int

const (
	partLiteral stringPartKind = iota
	partPlaceholder
	partEnd
)

// rawPart is a scanned segment of a string or command body: either
// literal text, the start of a placeholder (the lexer stops right
// after "~{"/"${"), or the closing delimiter.
type rawPart struct {
	kind stringPartKind
	text string
	pos  wdl.Pos
}

// scanStringPart reads the next segment of a quoted string. The
// caller loops: literal parts accumulate, placeholder parts hand
// control back to the expression parser, partEnd terminates.
func (l *lexer) scanStringPart(quote rune) (rawPart, error) {
	pos := l.pos()
	var b strings.Builder
	for {
		r := l.peekRune()
		if r == 0 || r == '\n' {
			return rawPart{}, l.errf(pos, "unterminated string literal")
		}
		if r == quote {
			if b.Len() > 0 {
				return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
			}
			l.nextRune()
			return rawPart{kind: partEnd, pos: pos}, nil
		}
		if (r == '~' || r == '$') && l.peekRuneAt(1) == '{' {
			if b.Len() > 0 {
				return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
			}
			ppos := l.pos()
			l.nextRune()
			l.nextRune()
			return rawPart{kind: partPlaceholder, pos: ppos}, nil
		}
		if r == '\\' {
			esc, err := l.lexEscape()
			if err != nil {
				return rawPart{}, err
			}
			b.WriteString(esc)
			continue
		}
		b.WriteRune(l.nextRune())
	}
}

func (l *lexer) lexEscape() (string, error) {
	pos := l.pos()
	l.nextRune() // backslash
	r := l.nextRune()
	switch r {
	case 'n':
		return "\n", nil
	case 't':
		return "\t", nil
	case 'r':
		return "\r", nil
	case '\\':
		return "\\", nil
	case '\'':
		return "'", nil
	case '"':
		return "\"", nil
	case '~':
		return "~", nil
	case '$':
		return "$", nil
	case '\n':
		// Line continuation: the newline is elided.
		return "", nil
	case '0':
		return "\x00", nil
	}
	return "", l.errf(pos, "unsupported escape \\%s", string(r))
}

// scanCommandPart reads the next segment of a command body. heredoc
// selects <<< ... >>> (only ~{} placeholders) versus { ... } (both
// ~{} and, in draft-2 style, ${} placeholders; braces must balance).
func (l *lexer) scanCommandPart(heredoc bool, depth *int) (rawPart, error) {
	pos := l.pos()
	var b strings.Builder
	for {
		r := l.peekRune()
		if r == 0 {
			return rawPart{}, l.errf(pos, "unterminated command block")
		}
		if heredoc {
			if r == '>' && l.peekRuneAt(1) == '>' && l.peekRuneAt(2) == '>' {
				if b.Len() > 0 {
					return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
				}
				l.nextRune()
				l.nextRune()
				l.nextRune()
				return rawPart{kind: partEnd, pos: pos}, nil
			}
			if r == '~' && l.peekRuneAt(1) == '{' {
				if b.Len() > 0 {
					return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
				}
				ppos := l.pos()
				l.nextRune()
				l.nextRune()
				return rawPart{kind: partPlaceholder, pos: ppos}, nil
			}
			b.WriteRune(l.nextRune())
			continue
		}

		switch {
		case r == '}':
			if *depth == 0 {
				if b.Len() > 0 {
					return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
				}
				l.nextRune()
				return rawPart{kind: partEnd, pos: pos}, nil
			}
			*depth--
			b.WriteRune(l.nextRune())
		case r == '{':
			*depth++
			b.WriteRune(l.nextRune())
		case (r == '~' || r == '$') && l.peekRuneAt(1) == '{':
			if b.Len() > 0 {
				return rawPart{kind: partLiteral, text: b.String(), pos: pos}, nil
			}
			ppos := l.pos()
			l.nextRune()
			l.nextRune()
			return rawPart{kind: partPlaceholder, pos: ppos}, nil
		default:
			b.WriteRune(l.nextRune())
		}
	}
}

// StripCommonIndent removes the longest common leading-whitespace
// prefix of the non-empty lines of a multi-line body, after dropping a
// leading blank line. Escaped newlines (backslash at end of line) glue
// the following line without affecting the computed prefix.
func StripCommonIndent(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		prefix = commonPrefix(prefix, indent)
	}
	if prefix == "" {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(out, "\n")
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}
