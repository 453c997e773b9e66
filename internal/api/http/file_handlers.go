package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// ListFiles lists a directory
func (h *Handlers) ListFiles(c *gin.Context) {
	var req protocol.FileListRequest
	if err := h.bind(c, &req, true); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.ListFiles(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// CreateFile creates a file or directory
func (h *Handlers) CreateFile(c *gin.Context) {
	var req protocol.FileCreateRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.CreateFile(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// DeleteFile deletes a file or directory
func (h *Handlers) DeleteFile(c *gin.Context) {
	var req protocol.FileDeleteRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.DeleteFile(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// MoveFile moves or renames a file or directory
func (h *Handlers) MoveFile(c *gin.Context) {
	var req protocol.FileMoveRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.MoveFile(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// UpdateFile replaces file contents
func (h *Handlers) UpdateFile(c *gin.Context) {
	var req protocol.FileUpdateRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.UpdateFile(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// FileDetails returns a file descriptor and contents
func (h *Handlers) FileDetails(c *gin.Context) {
	var req protocol.FileDetailsRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.FileDetails(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// RecentFiles lists recently opened notebooks
func (h *Handlers) RecentFiles(c *gin.Context) {
	resp, err := h.dispatch.RecentNotebooks(c.Request.Context())
	h.reply(c, resp, err)
}

// WorkspaceFiles lists notebooks under the workspace root
func (h *Handlers) WorkspaceFiles(c *gin.Context) {
	var req protocol.WorkspaceFilesRequest
	if err := h.bind(c, &req, true); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.WorkspaceNotebooks(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// RunningNotebooks lists live sessions
func (h *Handlers) RunningNotebooks(c *gin.Context) {
	resp, err := h.dispatch.RunningNotebooks(c.Request.Context())
	h.reply(c, resp, err)
}

// ShutdownSession shuts down any session by id
func (h *Handlers) ShutdownSession(c *gin.Context) {
	var req protocol.ShutdownSessionRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.ShutdownSession(c.Request.Context(), req)
	h.reply(c, resp, err)
}

// ExportHTML renders the notebook as HTML
func (h *Handlers) ExportHTML(c *gin.Context) {
	var req protocol.ExportHTMLRequest
	if err := h.bind(c, &req, true); err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.dispatch.ExportHTML(c.Request.Context(), sessionID(c), req)
	h.download(c, out, err)
}

// ExportMarkdown renders the notebook as Markdown
func (h *Handlers) ExportMarkdown(c *gin.Context) {
	var req protocol.ExportMarkdownRequest
	if err := h.bind(c, &req, true); err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.dispatch.ExportMarkdown(c.Request.Context(), sessionID(c), req)
	h.download(c, out, err)
}
