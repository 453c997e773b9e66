package format

import "sort"

// Names holds the top-level definitions and the free references of a cell.
type Names struct {
	Defs []string
	Refs []string
}

// Scan tokenizes code and reports the names it defines at top level and the
// names it reads. Attribute names and keyword-argument names are not references.
func Scan(code string) (Names, error) {
	lines, _, err := tokenize(code)
	if err != nil {
		return Names{}, err
	}
	defs := make(map[string]bool)
	refs := make(map[string]bool)
	local := make(map[string]bool) // names bound inside nested scopes

	for _, l := range lines {
		toks := withoutComments(l.tokens)
		if len(toks) == 0 {
			continue
		}
		bound := topLevelDefs(toks)
		for _, name := range bound {
			if l.indent == "" {
				defs[name] = true
			} else {
				local[name] = true
			}
		}
		for _, name := range scopedNames(toks) {
			local[name] = true
		}
		if !toks[0].is(tKeyword, "import") && !toks[0].is(tKeyword, "from") {
			collectRefs(toks, refs)
		}
	}

	out := Names{Defs: sortedKeys(defs)}
	for name := range refs {
		if defs[name] || local[name] {
			continue
		}
		out.Refs = append(out.Refs, name)
	}
	sort.Strings(out.Refs)
	return out, nil
}

func withoutComments(tokens []token) []token {
	out := tokens[:0:0]
	for _, t := range tokens {
		if t.typ != tComment {
			out = append(out, t)
		}
	}
	return out
}

// topLevelDefs returns names bound by one logical line.
func topLevelDefs(toks []token) []string {
	first := toks[0]
	switch {
	case first.is(tKeyword, "def"), first.is(tKeyword, "class"):
		if len(toks) > 1 && toks[1].typ == tName {
			return []string{toks[1].text}
		}
		return nil
	case first.is(tKeyword, "async") && len(toks) > 2 && toks[1].is(tKeyword, "def"):
		return []string{toks[2].text}
	case first.is(tKeyword, "import"):
		return importDefs(toks[1:], true)
	case first.is(tKeyword, "from"):
		for i, t := range toks {
			if t.is(tKeyword, "import") {
				return importDefs(toks[i+1:], false)
			}
		}
		return nil
	case first.is(tKeyword, "for"), first.is(tKeyword, "async") && len(toks) > 1 && toks[1].is(tKeyword, "for"):
		var out []string
		for _, t := range toks[1:] {
			if t.is(tKeyword, "in") {
				break
			}
			if t.typ == tName {
				out = append(out, t.text)
			}
		}
		return out
	case first.is(tKeyword, "with"):
		var out []string
		for i, t := range toks {
			if t.is(tKeyword, "as") && i+1 < len(toks) && toks[i+1].typ == tName {
				out = append(out, toks[i+1].text)
			}
		}
		return out
	}
	if first.typ == tName || first.is(tOp, "(") || first.is(tOp, "[") || first.is(tOp, "*") {
		return assignmentTargets(toks)
	}
	return nil
}

// scopedNames returns names bound only inside a nested scope on this line:
// function parameters, lambda parameters and comprehension variables.
func scopedNames(toks []token) []string {
	var out []string
	isDef := toks[0].is(tKeyword, "def") || (len(toks) > 1 && toks[0].is(tKeyword, "async") && toks[1].is(tKeyword, "def"))
	depth := 0
	lambda, comp := false, false
	for i, t := range toks {
		switch {
		case t.isOpen():
			depth++
			continue
		case t.isClose():
			depth--
			continue
		case t.is(tKeyword, "lambda"):
			lambda = true
			continue
		case lambda && t.is(tOp, ":"):
			lambda = false
			continue
		case depth > 0 && t.is(tKeyword, "for"):
			comp = true
			continue
		case comp && t.is(tKeyword, "in"):
			comp = false
			continue
		}
		if t.typ != tName {
			continue
		}
		switch {
		case lambda, comp:
			out = append(out, t.text)
		case isDef && depth == 1 && i > 0:
			prev := toks[i-1]
			if prev.is(tOp, "(") || prev.is(tOp, ",") || prev.is(tOp, "*") || prev.is(tOp, "**") {
				out = append(out, t.text)
			}
		}
	}
	return out
}

// importDefs handles "a.b, c as d" (plain) and "x, y as z" (from-import).
func importDefs(toks []token, plain bool) []string {
	var out []string
	expectName := true
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is(tKeyword, "as"):
			if i+1 < len(toks) {
				if len(out) > 0 {
					out[len(out)-1] = toks[i+1].text
				}
				i++
			}
		case t.is(tOp, ","):
			expectName = true
		case t.typ == tName && expectName:
			out = append(out, t.text)
			expectName = false
		case t.is(tOp, ".") && plain:
			// dotted module: only the head name is bound
			if i+1 < len(toks) {
				i++
			}
		}
	}
	return out
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "//=": true, "%=": true,
	"@=": true, "**=": true, "&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

// assignmentTargets returns plain names on the left of top-level assignments.
func assignmentTargets(toks []token) []string {
	var out []string
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.isOpen():
			depth++
		case t.isClose():
			depth--
		case depth == 0 && t.typ == tOp && assignOps[t.text]:
			out = append(out, targetNames(toks[start:i])...)
			start = i + 1
		case depth == 0 && t.is(tOp, ":") && start == 0:
			// annotated assignment or bare annotation
			return append(out, targetNames(toks[:i])...)
		}
	}
	return out
}

// targetNames extracts bare names from an assignment target list such as
// "a, (b, c)" while skipping attribute and subscript targets.
func targetNames(toks []token) []string {
	var out []string
	for i, t := range toks {
		if t.typ != tName {
			continue
		}
		if i > 0 && toks[i-1].is(tOp, ".") {
			continue
		}
		if i+1 < len(toks) && (toks[i+1].is(tOp, ".") || toks[i+1].is(tOp, "[") || toks[i+1].is(tOp, "(")) {
			continue
		}
		out = append(out, t.text)
	}
	return out
}

func collectRefs(toks []token, refs map[string]bool) {
	depth := 0
	for i, t := range toks {
		switch {
		case t.isOpen():
			depth++
		case t.isClose():
			depth--
		}
		if t.typ != tName {
			continue
		}
		if i > 0 && toks[i-1].is(tOp, ".") {
			continue
		}
		if depth > 0 && i+1 < len(toks) && toks[i+1].is(tOp, "=") {
			continue // keyword argument
		}
		refs[t.text] = true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
