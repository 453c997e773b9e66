// Package snippets serves the bundled reference snippets.
package snippets

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

//go:embed data/*.html
var bundled embed.FS

var (
	loadOnce sync.Once
	loaded   []protocol.Snippet
	loadErr  error
)

// Bundled returns the snippets shipped with the server, parsed once.
func Bundled() ([]protocol.Snippet, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Load(bundled)
	})
	return loaded, loadErr
}

// Load parses every .html file in fsys, in name order.
func Load(fsys fs.FS) ([]protocol.Snippet, error) {
	names, err := doublestar.Glob(fsys, "**/*.html")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := []protocol.Snippet{}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		snippets, err := Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse snippet %s: %w", name, err)
		}
		out = append(out, snippets...)
	}
	return out, nil
}

var policy = bluemonday.UGCPolicy()

// Parse reads the snippets of one document. Each <article> is a snippet
// titled by its first heading; each <section> is one part, either code
// from a <pre><code> block or sanitized HTML.
func Parse(r io.Reader) ([]protocol.Snippet, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var out []protocol.Snippet
	doc.Find("article").Each(func(_ int, article *goquery.Selection) {
		title := strings.TrimSpace(article.Find("h1, h2").First().Text())
		if title == "" {
			return
		}
		snippet := protocol.Snippet{Title: title, Sections: []protocol.SnippetSection{}}
		article.Find("section").Each(func(i int, section *goquery.Selection) {
			sectionID, ok := section.Attr("id")
			if !ok || sectionID == "" {
				sectionID = fmt.Sprintf("%s-%d", slug(title), i)
			}
			if code := section.Find("pre > code").First(); code.Length() > 0 {
				snippet.Sections = append(snippet.Sections, protocol.SnippetSection{
					ID:   sectionID,
					Code: strings.TrimRight(code.Text(), "\n"),
				})
				return
			}
			html, err := section.Html()
			if err != nil {
				return
			}
			html = strings.TrimSpace(policy.Sanitize(html))
			if html != "" {
				snippet.Sections = append(snippet.Sections, protocol.SnippetSection{ID: sectionID, HTML: html})
			}
		})
		out = append(out, snippet)
	})
	return out, nil
}

func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
