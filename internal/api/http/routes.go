package http

import (
	"github.com/gin-gonic/gin"
)

// Register mounts the protocol routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := r.Group("/api")

	k := api.Group("/kernel")
	k.POST("/run", h.Run)
	k.POST("/save", h.Save)
	k.POST("/format", h.Format)
	k.POST("/delete", h.DeleteCell)
	k.POST("/rename", h.Rename)
	k.POST("/instantiate", h.Instantiate)
	k.POST("/set_ui_element_value", h.SetComponentValues)
	k.POST("/code_autocomplete", h.CodeCompletion)
	k.POST("/function_call", h.FunctionCall)
	k.POST("/stdin", h.Stdin)
	k.POST("/interrupt", h.Interrupt)
	k.POST("/restart_session", h.Restart)
	k.POST("/shutdown", h.Shutdown)
	k.POST("/save_user_config", h.SaveUserConfig)
	k.POST("/save_app_config", h.SaveAppConfig)
	k.POST("/set_cell_config", h.SaveCellConfig)
	k.POST("/install_missing_packages", h.InstallMissingPackages)
	k.POST("/read_code", h.ReadCode)
	k.POST("/open", h.OpenFile)

	api.GET("/documentation/snippets", h.Snippets)
	api.POST("/datasources/preview_column", h.PreviewDatasetColumn)
	api.GET("/usage", h.Usage)

	f := api.Group("/files")
	f.POST("/list_files", h.ListFiles)
	f.POST("/create", h.CreateFile)
	f.POST("/delete", h.DeleteFile)
	f.POST("/move", h.MoveFile)
	f.POST("/update", h.UpdateFile)
	f.POST("/file_details", h.FileDetails)

	home := api.Group("/home")
	home.POST("/recent_files", h.RecentFiles)
	home.POST("/workspace_files", h.WorkspaceFiles)
	home.POST("/running_notebooks", h.RunningNotebooks)
	home.POST("/shutdown_session", h.ShutdownSession)

	export := api.Group("/export")
	export.POST("/html", h.ExportHTML)
	export.POST("/markdown", h.ExportMarkdown)
}
