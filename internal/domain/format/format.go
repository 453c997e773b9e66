// Package format implements the textual cell formatter.
//
// Format is a pure function of its input. It normalizes operator and
// punctuation spacing, strips trailing whitespace and blank lines, and
// explodes over-long bracketed lists one element per line. Cells that
// fail to tokenize are reported as errors and never partially formatted.
package format

import (
	"strings"
	"unicode/utf8"
)

// DefaultLineLength is used when a request carries no positive line length.
const DefaultLineLength = 79

const indentUnit = "    "

// Format reformats one cell. Format(Format(x)) == Format(x).
func Format(code string, lineLength int) (string, error) {
	if lineLength <= 0 {
		lineLength = DefaultLineLength
	}
	code = strings.ReplaceAll(code, "\r\n", "\n")
	lines, inString, err := tokenize(code)
	if err != nil {
		return "", err
	}
	physical := strings.Split(code, "\n")

	var out []string
	for i := range lines {
		out = append(out, renderLogical(&lines[i], physical, inString, lineLength)...)
	}
	return joinLines(out), nil
}

// Cells formats every cell, omitting those that fail.
func Cells[K comparable](codes map[K]string, lineLength int) (map[K]string, map[K]error) {
	formatted := make(map[K]string, len(codes))
	var failed map[K]error
	for key, code := range codes {
		out, err := Format(code, lineLength)
		if err != nil {
			if failed == nil {
				failed = make(map[K]error)
			}
			failed[key] = err
			continue
		}
		formatted[key] = out
	}
	return formatted, failed
}

// joinLines drops leading and trailing blank lines and collapses blank runs to two.
func joinLines(lines []string) string {
	var b strings.Builder
	blank := 0
	wrote := false
	for _, l := range lines {
		if l == "" {
			blank++
			continue
		}
		if wrote {
			b.WriteByte('\n')
			for i := 0; i < min(blank, 2); i++ {
				b.WriteByte('\n')
			}
		}
		b.WriteString(l)
		blank = 0
		wrote = true
	}
	return b.String()
}

func renderLogical(l *logicalLine, physical []string, inString map[int]bool, lineLength int) []string {
	if len(l.tokens) == 0 {
		return []string{""}
	}
	if l.first != l.last && (l.continuation || l.innerComment()) {
		return []string{verbatim(l, physical, inString)}
	}

	pieces := space(l.tokens)
	body, comment := pieces, ""
	if last := l.tokens[len(l.tokens)-1]; last.typ == tComment {
		body = pieces[:len(pieces)-1]
		comment = last.text
		if len(body) == 0 {
			return []string{l.indent + comment}
		}
	}

	line := l.indent + concat(body)
	full := line
	if comment != "" {
		full += "  " + comment
	}

	if strings.Contains(line, "\n") {
		return []string{full}
	}
	group, ok := explodable(l.tokens[:len(body)])
	if !ok || (!group.trailingComma && width(full) <= lineLength) {
		return []string{full}
	}
	return explode(l, body, group, comment)
}

// verbatim keeps the physical lines, stripping trailing whitespace outside strings.
func verbatim(l *logicalLine, physical []string, inString map[int]bool) string {
	out := make([]string, 0, l.last-l.first+1)
	for n := l.first; n <= l.last && n < len(physical); n++ {
		text := physical[n]
		if !inString[n] {
			text = strings.TrimRight(text, " \t\r\f")
		}
		out = append(out, text)
	}
	return strings.Join(out, "\n")
}

func width(s string) int {
	return utf8.RuneCountInString(s)
}

// bracketGroup is a top-level bracket pair with at least two elements.
type bracketGroup struct {
	open, close   int   // token indices
	commas        []int // token indices of the group's own commas
	trailingComma bool
}

// explodable finds the first top-level bracket group holding two or more elements.
func explodable(tokens []token) (bracketGroup, bool) {
	depth := 0
	var g bracketGroup
	for i, t := range tokens {
		switch {
		case t.isOpen():
			if depth == 0 {
				g = bracketGroup{open: i}
			}
			depth++
		case t.isClose():
			depth--
			if depth != 0 {
				continue
			}
			g.close = i
			elements := len(g.commas) + 1
			if n := len(g.commas); n > 0 && g.commas[n-1] == i-1 {
				g.trailingComma = true
				elements--
			}
			if elements >= 2 {
				return g, true
			}
		case depth == 1 && t.is(tOp, ","):
			g.commas = append(g.commas, i)
		}
	}
	return bracketGroup{}, false
}

func explode(l *logicalLine, pieces []piece, g bracketGroup, comment string) []string {
	inner := l.indent + indentUnit
	out := []string{l.indent + concat(pieces[:g.open+1])}

	start := g.open + 1
	bounds := append(append([]int(nil), g.commas...), g.close)
	for _, end := range bounds {
		if end > start {
			out = append(out, inner+concat(pieces[start:end])+",")
		}
		start = end + 1
	}

	tail := l.indent + concat(pieces[g.close:])
	if comment != "" {
		tail += "  " + comment
	}
	return append(out, tail)
}
