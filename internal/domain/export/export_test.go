package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

func sample() notebook.Notebook {
	return notebook.Notebook{
		App: protocol.AppConfig{Width: "medium"},
		Cells: []notebook.Cell{
			{ID: "c1", Name: "_", Code: "mo.md(r\"\"\"\n# Intro & <b>setup</b>\n\nSecond paragraph\n\"\"\")"},
			{ID: "c2", Name: "load<script>", Code: "x = 1 < 2"},
			{ID: "c3", Name: "_", Code: "secret = 42", Config: protocol.CellConfig{HideCode: true}},
		},
	}
}

func TestHTMLIncludesCode(t *testing.T) {
	out, err := HTML(sample(), HTMLOptions{
		Title:       "analysis",
		AssetURL:    "https://cdn.example.com/assets/",
		IncludeCode: true,
		Outputs: map[id.CellID][]protocol.CellOutput{
			"c2": {{Channel: "stdout", Data: "True"}},
		},
	})
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>analysis</title>")
	assert.Contains(t, html, `href="https://cdn.example.com/assets/style.css"`)
	assert.Contains(t, html, `data-width="medium"`)
	assert.Contains(t, html, "<p># Intro &amp; setup</p>")
	assert.Contains(t, html, "<p>Second paragraph</p>")
	assert.Contains(t, html, "x = 1 &lt; 2")
	assert.Contains(t, html, `<pre class="console stdout">True</pre>`)
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "<b>")
	assert.NotContains(t, html, "secret = 42")
}

func TestHTMLCellStructure(t *testing.T) {
	out, err := HTML(sample(), HTMLOptions{Title: "analysis", IncludeCode: true})
	require.NoError(t, err)

	doc, err := htmlquery.Parse(strings.NewReader(string(out)))
	require.NoError(t, err)

	sections := htmlquery.Find(doc, `//main[@id="notebook"]/section[@class="cell"]`)
	require.Len(t, sections, 3)
	ids := make([]string, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, htmlquery.SelectAttr(s, "data-cell-id"))
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, "load", htmlquery.SelectAttr(sections[1], "data-cell-name"))

	code := htmlquery.FindOne(doc, `//section[@data-cell-id="c2"]//code`)
	require.NotNil(t, code)
	assert.Equal(t, "x = 1 < 2", htmlquery.InnerText(code))
	assert.Nil(t, htmlquery.FindOne(doc, `//section[@data-cell-id="c3"]//code`))
	assert.Empty(t, htmlquery.Find(doc, `//section//script`))
}

func TestHTMLWithoutCode(t *testing.T) {
	nb := sample()
	nb.App.AppTitle = "Report"
	out, err := HTML(nb, HTMLOptions{Title: "analysis"})
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>Report</title>")
	assert.NotContains(t, html, "x = 1")
	assert.NotContains(t, html, "stylesheet")
	assert.NotContains(t, html, "notebook-files")
}

func TestHTMLInlinesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("a,b\n1,2\n"), 0o644))
	root, err := paths.NewRoot(dir)
	require.NoError(t, err)

	files, err := LoadFiles(root, []string{"data.csv"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "data.csv", files[0].Path)
	assert.True(t, strings.HasPrefix(files[0].MimeType, "text/"))

	out, err := HTML(sample(), HTMLOptions{Files: files})
	require.NoError(t, err)
	assert.Contains(t, string(out), `id="notebook-files"`)
	assert.Contains(t, string(out), "data.csv")

	_, err = LoadFiles(root, []string{"../etc/passwd"})
	assert.ErrorIs(t, err, protocol.ErrInvalidPath)
	_, err = LoadFiles(root, []string{"missing.csv"})
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestMarkdown(t *testing.T) {
	out, err := Markdown(sample(), "analysis")
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: analysis\n"))
	assert.Contains(t, md, "marimo-version:")
	assert.Contains(t, md, "```python {.marimo name=\"load<script>\"}\nx = 1 < 2\n```")
	assert.Contains(t, md, "```python {.marimo hide_code=\"true\"}\nsecret = 42\n```")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "analysis.html", Filename("/work/analysis.py", ".html"))
	assert.Equal(t, "untitled.md", Filename("", ".md"))
}
