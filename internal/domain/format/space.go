package format

import "strings"

// piece is a token with the whitespace that precedes it on a joined line.
type piece struct {
	space string
	text  string
}

func concat(pieces []piece) string {
	var b strings.Builder
	for i, p := range pieces {
		if i > 0 {
			b.WriteString(p.space)
		}
		b.WriteString(p.text)
	}
	return b.String()
}

var binaryOps = map[string]bool{
	"=": true, ":=": true, "->": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"+": true, "-": true, "*": true, "/": true, "//": true, "%": true, "@": true, "**": true,
	"&": true, "|": true, "^": true, "<<": true, ">>": true,
	"+=": true, "-=": true, "*=": true, "/=": true, "//=": true, "%=": true, "@=": true,
	"**=": true, "&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

var unaryCapable = map[string]bool{"+": true, "-": true, "*": true, "**": true, "~": true, "@": true}

// frame tracks one open bracket while spacing.
type frame struct {
	bracket  string
	annotate bool // current element contains a ':' at this level
}

// space computes the whitespace before each token of a logical line.
func space(tokens []token) []piece {
	pieces := make([]piece, len(tokens))
	var stack []frame
	tight := make([]bool, len(tokens)) // operator hugs both neighbours

	innermost := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1].bracket
	}

	for i, cur := range tokens {
		var prev *token
		if i > 0 {
			prev = &tokens[i-1]
		}

		if cur.typ == tOp {
			switch {
			case cur.text == "=" && len(stack) > 0 && !stack[len(stack)-1].annotate:
				tight[i] = true
			case unaryCapable[cur.text] && isUnary(prev, cur):
				tight[i] = true
			}
		}

		pieces[i] = piece{space: gap(prev, cur, innermost(), tight, i), text: cur.text}

		switch {
		case cur.isOpen():
			stack = append(stack, frame{bracket: cur.text})
		case cur.isClose():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case cur.is(tOp, ",") && len(stack) > 0:
			stack[len(stack)-1].annotate = false
		case cur.is(tOp, ":") && len(stack) > 0:
			stack[len(stack)-1].annotate = true
		}
	}
	return pieces
}

// isUnary reports whether an operator that can be prefix is used as one.
func isUnary(prev *token, cur token) bool {
	if cur.text == "~" {
		return true
	}
	if prev == nil {
		return true
	}
	if cur.text == "@" {
		return false
	}
	switch prev.typ {
	case tKeyword:
		return !valueKeywords[prev.text]
	case tOp:
		return !prev.isClose() && prev.text != "..."
	}
	return false
}

func gap(prev *token, cur token, bracket string, tight []bool, i int) string {
	switch {
	case prev == nil:
		return ""
	case cur.typ == tComment:
		return "  "
	case prev.isOpen():
		return ""
	case cur.isClose():
		return ""
	case cur.is(tOp, ",") || cur.is(tOp, ";"):
		return ""
	case prev.is(tOp, ",") || prev.is(tOp, ";"):
		return " "
	case cur.is(tOp, "."):
		if prev.typ == tKeyword {
			return " "
		}
		return ""
	case prev.is(tOp, "."):
		if cur.is(tKeyword, "import") {
			return " "
		}
		return ""
	case cur.is(tOp, ":"):
		return ""
	case prev.is(tOp, ":"):
		if bracket == "[" {
			return ""
		}
		return " "
	case tight[i-1]:
		return ""
	case cur.is(tOp, "(") || cur.is(tOp, "["):
		if callable(prev) {
			return ""
		}
		return " "
	case tight[i]:
		if cur.text == "=" {
			return ""
		}
		return " "
	}
	return " "
}

// callable reports whether a following '(' or '[' is a call or subscript.
func callable(prev *token) bool {
	switch prev.typ {
	case tName, tString, tNumber:
		return true
	case tKeyword:
		return valueKeywords[prev.text]
	case tOp:
		return prev.isClose() || prev.text == "..."
	}
	return false
}
