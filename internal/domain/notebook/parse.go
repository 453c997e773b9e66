package notebook

import (
	"errors"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// ErrNotNotebook is returned when a file has no marimo app declaration.
var ErrNotNotebook = errors.New("not a marimo notebook")

// Parse recovers a notebook from a marimo Python module. Cell ids are minted
// by gen in file order.
func Parse(src []byte, gen *IDGenerator) (Notebook, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	var nb Notebook
	if strings.TrimSpace(text) == "" {
		return nb, nil
	}
	if !strings.Contains(text, "marimo.App") {
		return nb, ErrNotNotebook
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "__generated_with"):
			if _, v, ok := strings.Cut(line, "="); ok {
				nb.GeneratedWith = pyUnquote(strings.TrimSpace(v))
			}
			i++
		case strings.HasPrefix(line, "app = marimo.App("):
			call, next := collectCall(lines, i)
			applyAppKwargs(&nb.App, parseKwargs(callArgs(call)))
			i = next
		case strings.HasPrefix(line, "@app.cell"):
			cell, next := parseCell(lines, i)
			cell.ID = gen.Next()
			nb.Cells = append(nb.Cells, cell)
			i = next
		case strings.HasPrefix(line, "app._unparsable_cell("):
			call, next := collectCall(lines, i)
			cell := parseUnparsable(call)
			cell.ID = gen.Next()
			nb.Cells = append(nb.Cells, cell)
			i = next
		case strings.HasPrefix(line, "if __name__"):
			return nb, nil
		default:
			i++
		}
	}
	return nb, nil
}

// parseCell reads a decorated cell function starting at the decorator line.
func parseCell(lines []string, start int) (Cell, int) {
	cell := Cell{Name: DefaultCellName}
	deco := strings.TrimSpace(lines[start])
	if strings.HasPrefix(deco, "@app.cell(") {
		applyCellKwargs(&cell.Config, parseKwargs(callArgs(deco)))
	}

	i := start + 1
	for i < len(lines) && !isDefLine(lines[i]) {
		i++
	}
	if i == len(lines) {
		return cell, i
	}
	cell.Name = defName(lines[i])

	// Signature may span lines until the closing "):".
	depth := 0
	for ; i < len(lines); i++ {
		depth += strings.Count(lines[i], "(") - strings.Count(lines[i], ")")
		if depth <= 0 && strings.HasSuffix(strings.TrimSpace(lines[i]), ":") {
			i++
			break
		}
	}

	bodyStart := i
	for i < len(lines) && (strings.TrimSpace(lines[i]) == "" || startsIndented(lines[i])) {
		i++
	}
	body := lines[bodyStart:i]
	if r := lastReturn(body); r >= 0 {
		body = body[:r]
	}
	cell.Code = dedent(body)
	return cell, i
}

func parseUnparsable(call string) Cell {
	cell := Cell{Name: DefaultCellName}
	open := strings.Index(call, `r"""`)
	if open < 0 {
		return cell
	}
	rest := call[open+4:]
	end := strings.Index(rest, `"""`)
	if end < 0 {
		return cell
	}
	raw := strings.TrimPrefix(rest[:end], "\n")
	raw = strings.TrimRight(raw, " ")
	cell.Code = strings.ReplaceAll(dedent(strings.Split(raw, "\n")), `\"\"\"`, `"""`)

	kwargs := parseKwargs(rest[end+3:])
	if name, ok := kwargs["name"]; ok && name != "" {
		cell.Name = name
	}
	return cell
}

func isDefLine(line string) bool {
	return strings.HasPrefix(line, "def ") || strings.HasPrefix(line, "async def ")
}

func defName(line string) string {
	line = strings.TrimPrefix(line, "async ")
	line = strings.TrimPrefix(line, "def ")
	if i := strings.IndexByte(line, '('); i > 0 {
		return strings.TrimSpace(line[:i])
	}
	return DefaultCellName
}

func startsIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// lastReturn finds the function's trailing return statement.
func lastReturn(body []string) int {
	for i := len(body) - 1; i >= 0; i-- {
		line := body[i]
		if !strings.HasPrefix(line, indent) || startsIndented(line[len(indent):]) {
			continue
		}
		stmt := line[len(indent):]
		if stmt == "return" || strings.HasPrefix(stmt, "return ") || strings.HasPrefix(stmt, "return(") {
			return i
		}
		if strings.TrimSpace(stmt) != "" && !strings.HasPrefix(stmt, ")") {
			return -1
		}
	}
	return -1
}

func dedent(lines []string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, indent):
			out[i] = l[len(indent):]
		case strings.HasPrefix(l, "\t"):
			out[i] = l[1:]
		default:
			out[i] = strings.TrimLeft(l, " ")
		}
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}

// collectCall joins lines from start until the call's parentheses balance.
func collectCall(lines []string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	inString := ""
	for i := start; i < len(lines); i++ {
		if i > start {
			b.WriteByte('\n')
		}
		b.WriteString(lines[i])
		depth, inString = scanDepth(lines[i], depth, inString)
		if depth <= 0 && inString == "" {
			return b.String(), i + 1
		}
	}
	return b.String(), len(lines)
}

// scanDepth tracks parenthesis depth outside string literals.
func scanDepth(line string, depth int, inString string) (int, string) {
	for i := 0; i < len(line); i++ {
		if inString != "" {
			if strings.HasPrefix(line[i:], inString) {
				i += len(inString) - 1
				inString = ""
			} else if line[i] == '\\' {
				i++
			}
			continue
		}
		switch c := line[i]; c {
		case '"', '\'':
			q := string(c)
			if strings.HasPrefix(line[i:], strings.Repeat(q, 3)) {
				q = strings.Repeat(q, 3)
			}
			inString = q
			i += len(q) - 1
		case '(':
			depth++
		case ')':
			depth--
		case '#':
			return depth, inString
		}
	}
	return depth, inString
}

// callArgs returns the text between the first '(' and its matching ')'.
func callArgs(call string) string {
	open := strings.IndexByte(call, '(')
	close := strings.LastIndexByte(call, ')')
	if open < 0 || close <= open {
		return ""
	}
	return call[open+1 : close]
}

// parseKwargs splits "a=1, b='x, y'" into keys and unquoted values.
func parseKwargs(args string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitTopLevel(args) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = pyUnquote(strings.TrimSpace(value))
	}
	return out
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// pyUnquote decodes a simple Python string literal; other values pass through.
func pyUnquote(v string) string {
	v = strings.TrimSuffix(strings.TrimSpace(v), ",")
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		inner := strings.ReplaceAll(v[1:len(v)-1], `\'`, `'`)
		v = `"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`
	}
	if len(v) >= 2 && v[0] == '"' {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return strings.Trim(v, `"`)
	}
	return v
}

func applyAppKwargs(app *protocol.AppConfig, kw map[string]string) {
	app.Width = kw["width"]
	app.AppTitle = kw["app_title"]
	app.LayoutFile = kw["layout_file"]
	app.CSSFile = kw["css_file"]
}

func applyCellKwargs(cfg *protocol.CellConfig, kw map[string]string) {
	if v, ok := kw["column"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Column = &n
		}
	}
	cfg.Disabled = kw["disabled"] == "True"
	cfg.HideCode = kw["hide_code"] == "True"
}
