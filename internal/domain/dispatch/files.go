package dispatch

import (
	"context"
	"time"

	"github.com/GriffinCanCode/notebookd/internal/domain/export"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// ============================================================================
// Files
// ============================================================================

// ListFiles lists the immediate children of a directory.
func (d *Dispatcher) ListFiles(_ context.Context, req protocol.FileListRequest) (resp protocol.FileListResponse, err error) {
	defer d.observe("list_files", time.Now(), &err)
	return d.files.List(req.Path)
}

// CreateFile creates a file or directory.
func (d *Dispatcher) CreateFile(_ context.Context, req protocol.FileCreateRequest) (resp protocol.FileOperationResponse, err error) {
	defer d.observe("create", time.Now(), &err)
	return d.files.Create(req)
}

// DeleteFile deletes a file or directory.
func (d *Dispatcher) DeleteFile(_ context.Context, req protocol.FileDeleteRequest) (resp protocol.FileOperationResponse, err error) {
	defer d.observe("delete_file", time.Now(), &err)
	return d.files.Delete(req)
}

// MoveFile moves or renames a file or directory.
func (d *Dispatcher) MoveFile(_ context.Context, req protocol.FileMoveRequest) (resp protocol.FileOperationResponse, err error) {
	defer d.observe("move", time.Now(), &err)
	return d.files.Move(req)
}

// UpdateFile replaces the contents of a file.
func (d *Dispatcher) UpdateFile(_ context.Context, req protocol.FileUpdateRequest) (resp protocol.FileOperationResponse, err error) {
	defer d.observe("update", time.Now(), &err)
	return d.files.Update(req)
}

// FileDetails reads a file descriptor and its contents.
func (d *Dispatcher) FileDetails(_ context.Context, req protocol.FileDetailsRequest) (resp protocol.FileDetailsResponse, err error) {
	defer d.observe("file_details", time.Now(), &err)
	return d.files.Details(req)
}

// ============================================================================
// Export
// ============================================================================

// Download is a rendered export.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
	Attachment  bool
}

// Export content types.
const (
	ContentTypeHTML     = "text/html; charset=utf-8"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
)

// ExportHTML renders the session's notebook as an HTML document.
func (d *Dispatcher) ExportHTML(_ context.Context, sessionID id.SessionID, req protocol.ExportHTMLRequest) (out Download, err error) {
	defer d.observe("export_html", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return out, err
	}
	inlined, err := export.LoadFiles(d.sessions.Root(), req.Files)
	if err != nil {
		return out, err
	}
	body, err := export.HTML(s.Document().Snapshot(), export.HTMLOptions{
		Title:       export.Title(s.Path()),
		AssetURL:    req.AssetURL,
		IncludeCode: req.IncludeCode,
		Files:       inlined,
		Outputs:     s.Outputs(),
	})
	if err != nil {
		return out, protocol.BackendExecution(err, "render html")
	}
	return Download{
		Filename:    export.Filename(s.Path(), ".html"),
		ContentType: ContentTypeHTML,
		Body:        body,
		Attachment:  req.Download,
	}, nil
}

// ExportMarkdown renders the session's notebook as Markdown.
func (d *Dispatcher) ExportMarkdown(_ context.Context, sessionID id.SessionID, req protocol.ExportMarkdownRequest) (out Download, err error) {
	defer d.observe("export_markdown", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return out, err
	}
	body, err := export.Markdown(s.Document().Snapshot(), export.Title(s.Path()))
	if err != nil {
		return out, protocol.BackendExecution(err, "render markdown")
	}
	return Download{
		Filename:    export.Filename(s.Path(), ".md"),
		ContentType: ContentTypeMarkdown,
		Body:        body,
		Attachment:  req.Download,
	}, nil
}
