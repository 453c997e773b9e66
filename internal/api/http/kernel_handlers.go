package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/utils"
)

// Run queues cells for execution
func (h *Handlers) Run(c *gin.Context) {
	var req protocol.RunRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.Run(c.Request.Context(), sessionID(c), req))
}

// Save writes the notebook file
func (h *Handlers) Save(c *gin.Context) {
	var req protocol.SaveRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.Save(c.Request.Context(), sessionID(c), req))
}

// Format formats cell code
func (h *Handlers) Format(c *gin.Context) {
	var req protocol.FormatRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.dispatch.Format(c.Request.Context(), sessionID(c), req)
	h.reply(c, resp, err)
}

// DeleteCell removes a cell
func (h *Handlers) DeleteCell(c *gin.Context) {
	var req protocol.DeleteCellRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.DeleteCell(c.Request.Context(), sessionID(c), req))
}

// Rename moves the session's notebook to a new file
func (h *Handlers) Rename(c *gin.Context) {
	var req protocol.RenameRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.Rename(c.Request.Context(), sessionID(c), req))
}

// ReadCode returns the notebook source
func (h *Handlers) ReadCode(c *gin.Context) {
	resp, err := h.dispatch.ReadCode(c.Request.Context(), sessionID(c))
	h.reply(c, resp, err)
}

// SaveUserConfig persists the user configuration
func (h *Handlers) SaveUserConfig(c *gin.Context) {
	var req protocol.SaveUserConfigRequest
	if err := h.bindValues(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.SaveUserConfig(c.Request.Context(), sessionID(c), req))
}

// SaveAppConfig updates the notebook's app configuration
func (h *Handlers) SaveAppConfig(c *gin.Context) {
	var req protocol.SaveAppConfigRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.SaveAppConfig(c.Request.Context(), sessionID(c), req))
}

// SaveCellConfig updates per-cell configuration
func (h *Handlers) SaveCellConfig(c *gin.Context) {
	var req protocol.SaveCellConfigRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.SaveCellConfig(c.Request.Context(), sessionID(c), req))
}

// Instantiate runs the notebook with initial UI values
func (h *Handlers) Instantiate(c *gin.Context) {
	var req protocol.InstantiateRequest
	if err := h.bindValues(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.Instantiate(c.Request.Context(), sessionID(c), req))
}

// SetComponentValues updates UI element values
func (h *Handlers) SetComponentValues(c *gin.Context) {
	var req protocol.SetComponentValuesRequest
	if err := h.bindValues(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.SetComponentValues(c.Request.Context(), sessionID(c), req))
}

// CodeCompletion requests completions; the result is pushed
func (h *Handlers) CodeCompletion(c *gin.Context) {
	var req protocol.CodeCompletionRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.CodeCompletion(c.Request.Context(), sessionID(c), req))
}

// FunctionCall invokes a registered function; the result is pushed
func (h *Handlers) FunctionCall(c *gin.Context) {
	var req protocol.FunctionCallRequest
	if err := h.bindValues(c, &req); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.FunctionCall(c.Request.Context(), sessionID(c), req))
}

// Stdin forwards text to a cell waiting on input
func (h *Handlers) Stdin(c *gin.Context) {
	var req protocol.StdinRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	if err := utils.ValidateString(req.Text, "text", 0, utils.MaxMessageSize, false); err != nil {
		h.fail(c, protocol.Protocolf("%v", err))
		return
	}
	h.ack(c, h.dispatch.Stdin(c.Request.Context(), sessionID(c), req))
}

// Interrupt cancels running cells
func (h *Handlers) Interrupt(c *gin.Context) {
	h.ack(c, h.dispatch.Interrupt(c.Request.Context(), sessionID(c)))
}

// Restart restarts the session's kernel
func (h *Handlers) Restart(c *gin.Context) {
	h.ack(c, h.dispatch.Restart(c.Request.Context(), sessionID(c)))
}

// Shutdown ends the calling session
func (h *Handlers) Shutdown(c *gin.Context) {
	h.ack(c, h.dispatch.Shutdown(c.Request.Context(), sessionID(c)))
}

// InstallMissingPackages installs packages the kernel reported missing
func (h *Handlers) InstallMissingPackages(c *gin.Context) {
	var req protocol.InstallMissingPackagesRequest
	if err := h.bind(c, &req, true); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.InstallMissingPackages(c.Request.Context(), sessionID(c), req))
}

// OpenFile checks that a file can be opened
func (h *Handlers) OpenFile(c *gin.Context) {
	var req protocol.OpenFileRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.OpenFile(c.Request.Context(), req))
}

// PreviewDatasetColumn requests a column summary; the result is pushed
func (h *Handlers) PreviewDatasetColumn(c *gin.Context) {
	var req protocol.PreviewDatasetColumnRequest
	if err := h.bind(c, &req, false); err != nil {
		h.fail(c, err)
		return
	}
	h.ack(c, h.dispatch.PreviewDatasetColumn(c.Request.Context(), sessionID(c), req))
}

// Snippets returns the bundled documentation snippets
func (h *Handlers) Snippets(c *gin.Context) {
	resp, err := h.dispatch.Snippets(c.Request.Context())
	h.reply(c, resp, err)
}

// Usage returns host memory and CPU usage
func (h *Handlers) Usage(c *gin.Context) {
	resp, err := h.dispatch.Usage(c.Request.Context())
	h.reply(c, resp, err)
}
