package notebook

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/notebookd/internal/domain/format"
)

const (
	header = "import marimo"
	footer = "if __name__ == \"__main__\":\n    app.run()"
	indent = "    "
)

// Generate renders the notebook as a marimo Python module. Cells whose code
// fails to tokenize are written as unparsable cells so nothing is lost.
func Generate(nb Notebook) []byte {
	version := nb.GeneratedWith
	if version == "" {
		version = MarimoVersion
	}

	scans := make([]*format.Names, len(nb.Cells))
	definedBy := make(map[string]bool)
	for i, c := range nb.Cells {
		names, err := format.Scan(c.Code)
		if err != nil {
			continue
		}
		scans[i] = &names
		for _, d := range names.Defs {
			definedBy[d] = true
		}
	}

	var b strings.Builder
	b.WriteString(header + "\n\n")
	fmt.Fprintf(&b, "__generated_with = %s\n", strconv.Quote(version))
	fmt.Fprintf(&b, "app = marimo.App(%s)\n", appKwargs(nb))

	for i, c := range nb.Cells {
		b.WriteString("\n\n")
		if scans[i] == nil {
			writeUnparsable(&b, c)
			continue
		}
		writeCell(&b, c, *scans[i], definedBy)
	}

	b.WriteString("\n\n" + footer + "\n")
	return []byte(b.String())
}

func appKwargs(nb Notebook) string {
	var kw []string
	add := func(key, value string) {
		if value != "" {
			kw = append(kw, key+"="+strconv.Quote(value))
		}
	}
	add("width", nb.App.Width)
	add("app_title", nb.App.AppTitle)
	add("layout_file", nb.App.LayoutFile)
	add("css_file", nb.App.CSSFile)
	return strings.Join(kw, ", ")
}

func writeCell(b *strings.Builder, c Cell, names format.Names, definedBy map[string]bool) {
	if kw := cellKwargs(c); kw != "" {
		fmt.Fprintf(b, "@app.cell(%s)\n", kw)
	} else {
		b.WriteString("@app.cell\n")
	}

	var args []string
	for _, ref := range names.Refs {
		if definedBy[ref] && !contains(names.Defs, ref) {
			args = append(args, ref)
		}
	}
	sort.Strings(args)
	fmt.Fprintf(b, "def %s(%s):\n", cellName(c), strings.Join(args, ", "))

	if body := indentCode(c.Code); body != "" {
		b.WriteString(body + "\n")
	}

	var rets []string
	for _, d := range names.Defs {
		if !strings.HasPrefix(d, "_") {
			rets = append(rets, d)
		}
	}
	switch len(rets) {
	case 0:
		b.WriteString(indent + "return\n")
	case 1:
		fmt.Fprintf(b, "%sreturn (%s,)\n", indent, rets[0])
	default:
		fmt.Fprintf(b, "%sreturn %s\n", indent, strings.Join(rets, ", "))
	}
}

func writeUnparsable(b *strings.Builder, c Cell) {
	code := strings.ReplaceAll(c.Code, `"""`, `\"\"\"`)
	b.WriteString("app._unparsable_cell(\n")
	b.WriteString(indent + "r\"\"\"\n")
	if body := indentCode(code); body != "" {
		b.WriteString(body + "\n")
	}
	b.WriteString(indent + "\"\"\",\n")
	fmt.Fprintf(b, "%sname=%s,\n", indent, strconv.Quote(cellName(c)))
	b.WriteString(")\n")
}

func cellKwargs(c Cell) string {
	var kw []string
	if c.Config.Column != nil {
		kw = append(kw, "column="+strconv.Itoa(*c.Config.Column))
	}
	if c.Config.Disabled {
		kw = append(kw, "disabled=True")
	}
	if c.Config.HideCode {
		kw = append(kw, "hide_code=True")
	}
	return strings.Join(kw, ", ")
}

func cellName(c Cell) string {
	if c.Name == "" {
		return DefaultCellName
	}
	return c.Name
}

func indentCode(code string) string {
	code = strings.TrimRight(code, "\n")
	if strings.TrimSpace(code) == "" {
		return ""
	}
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = indent + l
		} else {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
