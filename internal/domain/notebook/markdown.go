package notebook

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

type frontmatter struct {
	Title         string `yaml:"title,omitempty"`
	MarimoVersion string `yaml:"marimo-version"`
	Width         string `yaml:"width,omitempty"`
	CSSFile       string `yaml:"css_file,omitempty"`
	LayoutFile    string `yaml:"layout_file,omitempty"`
}

const (
	fenceOpen  = "```python {.marimo"
	fenceClose = "```"
	mdPrefix   = "mo.md(r\"\"\"\n"
	mdSuffix   = "\n\"\"\")"
)

var attrPattern = regexp.MustCompile(`([a-z_]+)="([^"]*)"`)

// GenerateMarkdown renders the notebook as marimo-flavoured Markdown: YAML
// frontmatter, prose for mo.md cells and fenced code blocks for the rest.
func GenerateMarkdown(nb Notebook, title string) ([]byte, error) {
	if nb.App.AppTitle != "" {
		title = nb.App.AppTitle
	}
	version := nb.GeneratedWith
	if version == "" {
		version = MarimoVersion
	}
	fm, err := yaml.Marshal(frontmatter{
		Title:         title,
		MarimoVersion: version,
		Width:         nb.App.Width,
		CSSFile:       nb.App.CSSFile,
		LayoutFile:    nb.App.LayoutFile,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n")

	for _, c := range nb.Cells {
		b.WriteString("\n")
		if prose, ok := Prose(c); ok {
			b.WriteString(prose + "\n")
			continue
		}
		b.WriteString(fenceOpen + fenceAttrs(c) + "}\n")
		if code := strings.TrimRight(c.Code, "\n"); code != "" {
			b.WriteString(code + "\n")
		}
		b.WriteString(fenceClose + "\n")
	}
	return b.Bytes(), nil
}

// Prose returns the text of a plain mo.md cell.
func Prose(c Cell) (string, bool) {
	if (c.Name != DefaultCellName && c.Name != "") || !c.Config.IsZero() {
		return "", false
	}
	if !strings.HasPrefix(c.Code, mdPrefix) || !strings.HasSuffix(c.Code, mdSuffix) {
		return "", false
	}
	text := strings.TrimSuffix(strings.TrimPrefix(c.Code, mdPrefix), mdSuffix)
	if strings.Contains(text, `"""`) || strings.Contains(text, fenceClose) || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func fenceAttrs(c Cell) string {
	var attrs []string
	if c.Name != "" && c.Name != DefaultCellName {
		attrs = append(attrs, fmt.Sprintf("name=%q", c.Name))
	}
	if c.Config.Column != nil {
		attrs = append(attrs, fmt.Sprintf("column=\"%d\"", *c.Config.Column))
	}
	if c.Config.Disabled {
		attrs = append(attrs, `disabled="true"`)
	}
	if c.Config.HideCode {
		attrs = append(attrs, `hide_code="true"`)
	}
	if len(attrs) == 0 {
		return ""
	}
	return " " + strings.Join(attrs, " ")
}

// ParseMarkdown recovers a notebook from marimo-flavoured Markdown.
func ParseMarkdown(src []byte, gen *IDGenerator) (Notebook, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	var nb Notebook

	body := text
	if fmText, rest, ok := splitFrontmatter(text); ok {
		var fm frontmatter
		if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
			return nb, fmt.Errorf("decode frontmatter: %w", err)
		}
		nb.GeneratedWith = fm.MarimoVersion
		nb.App.AppTitle = fm.Title
		nb.App.Width = fm.Width
		nb.App.CSSFile = fm.CSSFile
		nb.App.LayoutFile = fm.LayoutFile
		body = rest
	}

	var prose []string
	flushProse := func() {
		text := strings.Trim(strings.Join(prose, "\n"), "\n")
		prose = prose[:0]
		if strings.TrimSpace(text) == "" {
			return
		}
		nb.Cells = append(nb.Cells, Cell{
			ID:   gen.Next(),
			Name: DefaultCellName,
			Code: mdPrefix + text + mdSuffix,
		})
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, fenceOpen) {
			prose = append(prose, line)
			continue
		}
		flushProse()
		cell := Cell{ID: gen.Next(), Name: DefaultCellName}
		applyFenceAttrs(&cell, line)

		var code []string
		for i++; i < len(lines) && strings.TrimRight(lines[i], " ") != fenceClose; i++ {
			code = append(code, lines[i])
		}
		cell.Code = strings.Join(code, "\n")
		nb.Cells = append(nb.Cells, cell)
	}
	flushProse()
	return nb, nil
}

func splitFrontmatter(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "---\n") {
		return "", text, false
	}
	end := strings.Index(text[4:], "\n---")
	if end < 0 {
		return "", text, false
	}
	fm := text[4 : 4+end]
	rest := text[4+end+len("\n---"):]
	rest = strings.TrimPrefix(rest, "\n")
	return fm, rest, true
}

func applyFenceAttrs(c *Cell, line string) {
	for _, m := range attrPattern.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "name":
			c.Name = m[2]
		case "column":
			if n, err := strconv.Atoi(m[2]); err == nil {
				c.Config.Column = &n
			}
		case "disabled":
			c.Config.Disabled = m[2] == "true"
		case "hide_code":
			c.Config.HideCode = m[2] == "true"
		}
	}
}

// IsMarkdownNotebook reports whether the file head carries marimo frontmatter.
func IsMarkdownNotebook(head []byte) bool {
	fm, _, ok := splitFrontmatter(strings.ReplaceAll(string(head), "\r\n", "\n"))
	return ok && strings.Contains(fm, "marimo-version")
}

// IsPythonNotebook reports whether the file head declares a marimo app.
func IsPythonNotebook(head []byte) bool {
	return bytes.Contains(head, []byte("marimo.App"))
}
