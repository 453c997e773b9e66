package format

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrUnterminated = errors.New("unterminated string")
	ErrImbalanced   = errors.New("imbalanced brackets")
	ErrContinuation = errors.New("dangling line continuation")
	ErrBadUTF8      = errors.New("bad utf8")
)

// SyntaxError locates a tokenization failure.
type SyntaxError struct {
	Line int // 1-based
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

type tokenType int

const (
	tName tokenType = iota
	tKeyword
	tNumber
	tString
	tOp
	tComment
)

type token struct {
	typ  tokenType
	text string
	line int // 0-based physical line the token starts on
}

func (t token) is(typ tokenType, text string) bool {
	return t.typ == typ && t.text == text
}

func (t token) isOpen() bool {
	return t.typ == tOp && (t.text == "(" || t.text == "[" || t.text == "{")
}

func (t token) isClose() bool {
	return t.typ == tOp && (t.text == ")" || t.text == "]" || t.text == "}")
}

// valueKeywords behave like atoms rather than statements.
var valueKeywords = map[string]bool{"None": true, "True": true, "False": true}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// operators ordered longest first.
var operators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"->", ":=", "**", "//", "<<", ">>", "<=", ">=", "==", "!=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ";", ".", "=", "!",
}

var closers = map[string]string{")": "(", "]": "[", "}": "{"}

// logicalLine is one statement, possibly spanning several physical lines.
type logicalLine struct {
	first, last  int // physical line range, inclusive
	tokens       []token
	indent       string
	continuation bool // joined by a backslash
}

// innerComment reports whether a comment appears before the final token.
func (l *logicalLine) innerComment() bool {
	for i, t := range l.tokens {
		if t.typ == tComment && i != len(l.tokens)-1 {
			return true
		}
	}
	return false
}

type lexer struct {
	src   string
	pos   int
	line  int
	depth []token

	lines    []logicalLine
	cur      *logicalLine
	inString map[int]bool // physical lines whose newline is inside a string
}

// tokenize splits Python source into logical lines.
func tokenize(src string) ([]logicalLine, map[int]bool, error) {
	if !utf8.ValidString(src) {
		return nil, nil, &SyntaxError{Line: 1, Err: ErrBadUTF8}
	}
	lx := &lexer{src: src, inString: make(map[int]bool)}
	if err := lx.run(); err != nil {
		return nil, nil, err
	}
	return lx.lines, lx.inString, nil
}

func (lx *lexer) errorf(err error) error {
	return &SyntaxError{Line: lx.line + 1, Err: err}
}

func (lx *lexer) begin() {
	if lx.cur != nil {
		return
	}
	start := strings.LastIndexByte(lx.src[:lx.pos], '\n') + 1
	end := start
	for end < len(lx.src) && (lx.src[end] == ' ' || lx.src[end] == '\t') {
		end++
	}
	lx.cur = &logicalLine{first: lx.line, indent: lx.src[start:end]}
}

func (lx *lexer) emit(typ tokenType, text string, line int) {
	lx.begin()
	lx.cur.tokens = append(lx.cur.tokens, token{typ: typ, text: text, line: line})
}

func (lx *lexer) endLine() {
	if lx.cur == nil {
		lx.cur = &logicalLine{first: lx.line}
	}
	lx.cur.last = lx.line
	lx.lines = append(lx.lines, *lx.cur)
	lx.cur = nil
}

func (lx *lexer) run() error {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch c {
		case '\n':
			if len(lx.depth) == 0 {
				lx.endLine()
			}
			lx.pos++
			lx.line++
			continue
		case ' ', '\t', '\f', '\r':
			lx.pos++
			continue
		}

		lx.begin()
		var err error
		switch {
		case c == '\\':
			err = lx.lexBackslash()
		case c == '#':
			end := strings.IndexByte(lx.src[lx.pos:], '\n')
			if end < 0 {
				end = len(lx.src) - lx.pos
			}
			lx.emit(tComment, strings.TrimRight(lx.src[lx.pos:lx.pos+end], " \t\r\f"), lx.line)
			lx.pos += end
		case c == '"' || c == '\'':
			err = lx.lexString(lx.pos)
		case isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
			lx.lexNumber()
		default:
			if r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:]); isIdentStart(r) {
				err = lx.lexName()
			} else {
				err = lx.lexOp()
			}
		}
		if err != nil {
			return err
		}
	}
	if len(lx.depth) > 0 {
		open := lx.depth[len(lx.depth)-1]
		return &SyntaxError{Line: open.line + 1, Err: fmt.Errorf("%w: unclosed %q", ErrImbalanced, open.text)}
	}
	if lx.cur != nil {
		lx.endLine()
	}
	return nil
}

func (lx *lexer) lexBackslash() error {
	rest := lx.src[lx.pos+1:]
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		if rest == "" {
			return lx.errorf(ErrContinuation)
		}
		lx.emit(tOp, "\\", lx.line)
		lx.pos++
		return nil
	}
	lx.cur.continuation = true
	lx.pos += strings.IndexByte(rest, '\n') + 2
	lx.line++
	if lx.pos == len(lx.src) {
		return lx.errorf(ErrContinuation)
	}
	return nil
}

func (lx *lexer) lexName() error {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !isIdentPart(r) {
			break
		}
		lx.pos += size
	}
	word := lx.src[start:lx.pos]
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == '"' || lx.src[lx.pos] == '\'') && isStringPrefix(word) {
		lx.pos = start
		return lx.lexString(start + len(word))
	}
	typ := tName
	if keywords[word] {
		typ = tKeyword
	}
	lx.emit(typ, word, lx.line)
	return nil
}

// lexString consumes a string literal whose opening quote is at quote.
func (lx *lexer) lexString(quote int) error {
	start, line := lx.pos, lx.line
	q := lx.src[quote]
	delim := string(q)
	if strings.HasPrefix(lx.src[quote:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	i := quote + len(delim)
	for {
		if i >= len(lx.src) {
			return &SyntaxError{Line: line + 1, Err: ErrUnterminated}
		}
		c := lx.src[i]
		switch {
		case c == '\\':
			if i+1 < len(lx.src) && lx.src[i+1] == '\n' {
				lx.inString[lx.line] = true
				lx.line++
			}
			i += 2
			continue
		case c == '\n':
			if len(delim) == 1 {
				return &SyntaxError{Line: line + 1, Err: ErrUnterminated}
			}
			lx.inString[lx.line] = true
			lx.line++
		case strings.HasPrefix(lx.src[i:], delim):
			i += len(delim)
			lx.pos = i
			lx.emit(tString, lx.src[start:i], line)
			return nil
		}
		i++
	}
}

func (lx *lexer) lexNumber() {
	start := lx.pos
	hex := strings.HasPrefix(lx.src[lx.pos:], "0x") || strings.HasPrefix(lx.src[lx.pos:], "0X")
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if isDigit(c) || isASCIILetter(c) || c == '_' || c == '.' {
			lx.pos++
			continue
		}
		prev := lx.src[lx.pos-1]
		if (c == '+' || c == '-') && !hex && (prev == 'e' || prev == 'E') {
			lx.pos++
			continue
		}
		break
	}
	lx.emit(tNumber, lx.src[start:lx.pos], lx.line)
}

func (lx *lexer) lexOp() error {
	for _, op := range operators {
		if !strings.HasPrefix(lx.src[lx.pos:], op) {
			continue
		}
		tok := token{typ: tOp, text: op, line: lx.line}
		switch op {
		case "(", "[", "{":
			lx.depth = append(lx.depth, tok)
		case ")", "]", "}":
			if len(lx.depth) == 0 {
				return lx.errorf(fmt.Errorf("%w: unexpected %q", ErrImbalanced, op))
			}
			open := lx.depth[len(lx.depth)-1]
			if open.text != closers[op] {
				return lx.errorf(fmt.Errorf("%w: %q closed by %q", ErrImbalanced, open.text, op))
			}
			lx.depth = lx.depth[:len(lx.depth)-1]
		}
		lx.emit(tOp, op, lx.line)
		lx.pos += len(op)
		return nil
	}
	// Unknown punctuation ($, ?, backtick) passes through as an operator.
	_, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
	lx.emit(tOp, lx.src[lx.pos:lx.pos+size], lx.line)
	lx.pos += size
	return nil
}

func isStringPrefix(word string) bool {
	switch strings.ToLower(word) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf", "t", "tr", "rt":
		return true
	}
	return false
}

func isDigit(c byte) bool       { return c >= '0' && c <= '9' }
func isASCIILetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
