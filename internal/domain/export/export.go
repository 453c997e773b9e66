// Package export renders a notebook as a standalone HTML page or as
// marimo-flavoured Markdown.
package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

// MaxInlineFile bounds the size of a file inlined into an HTML export.
const MaxInlineFile = 5 * 1024 * 1024

// File is a workspace file inlined into an HTML export as a data URL.
type File struct {
	Path     string
	MimeType string
	Data     []byte
}

// DataURL encodes the file as a data URL.
func (f File) DataURL() string {
	return "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// HTMLOptions controls an HTML export.
type HTMLOptions struct {
	Title       string
	AssetURL    string
	IncludeCode bool
	Files       []File
	Outputs     map[id.CellID][]protocol.CellOutput
}

// Sanitized fields are template.HTML so the template does not escape them twice.
type cellView struct {
	ID       string
	Name     template.HTML
	Code     string
	Prose    []template.HTML
	Outputs  []protocol.CellOutput
	HideCode bool
}

type pageView struct {
	Title    template.HTML
	AssetURL string
	Width    string
	Cells    []cellView
	Files    map[string]string
	Version  string
}

var policy = bluemonday.StrictPolicy()

func sanitize(s string) template.HTML {
	return template.HTML(policy.Sanitize(s))
}

var page = template.Must(template.New("notebook").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="generator" content="marimo {{.Version}}">
<title>{{.Title}}</title>
{{- if .AssetURL}}
<link rel="stylesheet" href="{{.AssetURL}}/style.css">
<script type="module" src="{{.AssetURL}}/index.js"></script>
{{- end}}
</head>
<body data-width="{{.Width}}">
<main id="notebook">
<h1>{{.Title}}</h1>
{{- range .Cells}}
<section class="cell" data-cell-id="{{.ID}}" data-cell-name="{{.Name}}">
{{- range .Prose}}
<p>{{.}}</p>
{{- end}}
{{- if and .Code (not .HideCode)}}
<pre class="code"><code class="language-python">{{.Code}}</code></pre>
{{- end}}
{{- range .Outputs}}
<pre class="console {{.Channel}}">{{.Data}}</pre>
{{- end}}
</section>
{{- end}}
</main>
{{- if .Files}}
<script type="application/json" id="notebook-files">{{.Files}}</script>
{{- end}}
</body>
</html>
`))

// HTML renders nb as an HTML document. Cell names and prose are stripped of
// markup; code is only included when requested.
func HTML(nb notebook.Notebook, opts HTMLOptions) ([]byte, error) {
	title := opts.Title
	if nb.App.AppTitle != "" {
		title = nb.App.AppTitle
	}
	version := nb.GeneratedWith
	if version == "" {
		version = notebook.MarimoVersion
	}
	view := pageView{
		Title:    sanitize(title),
		AssetURL: strings.TrimSuffix(opts.AssetURL, "/"),
		Width:    nb.App.Width,
		Version:  version,
	}
	for _, c := range nb.Cells {
		cv := cellView{
			ID:       c.ID.String(),
			Name:     sanitize(c.Name),
			Outputs:  opts.Outputs[c.ID],
			HideCode: c.Config.HideCode,
		}
		if prose, ok := notebook.Prose(c); ok {
			for _, para := range strings.Split(prose, "\n\n") {
				if para = strings.TrimSpace(para); para != "" {
					cv.Prose = append(cv.Prose, sanitize(para))
				}
			}
		} else if opts.IncludeCode {
			cv.Code = c.Code
		}
		view.Cells = append(view.Cells, cv)
	}
	if len(opts.Files) > 0 {
		view.Files = make(map[string]string, len(opts.Files))
		for _, f := range opts.Files {
			view.Files[f.Path] = f.DataURL()
		}
	}

	var b bytes.Buffer
	if err := page.Execute(&b, view); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return b.Bytes(), nil
}

// Markdown renders nb as Markdown with YAML frontmatter.
func Markdown(nb notebook.Notebook, title string) ([]byte, error) {
	return notebook.GenerateMarkdown(nb, title)
}

// Title derives the export title from a notebook path.
func Title(notebookPath string) string {
	if notebookPath == "" {
		return "untitled"
	}
	base := filepath.Base(notebookPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Filename names the downloaded export of notebookPath.
func Filename(notebookPath, ext string) string {
	return Title(notebookPath) + ext
}

// LoadFiles reads workspace files for inlining. Paths outside the root are
// an InvalidPathError; missing files are a NotFoundError.
func LoadFiles(root paths.Root, list []string) ([]File, error) {
	files := make([]File, 0, len(list))
	for _, p := range list {
		abs, err := root.Resolve(p)
		if err != nil {
			return nil, err
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, protocol.NotFoundf("file %q not found", p)
		}
		if st.IsDir() || st.Size() > MaxInlineFile {
			return nil, protocol.Protocolf("file %q cannot be inlined", p)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, protocol.BackendExecution(err, "read %s", p)
		}
		files = append(files, File{
			Path:     root.Rel(abs),
			MimeType: mimetype.Detect(data).String(),
			Data:     data,
		})
	}
	return files, nil
}
