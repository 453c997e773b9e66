package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/packages"
	"github.com/GriffinCanCode/notebookd/internal/domain/snippets"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

// ============================================================================
// Cells
// ============================================================================

// Run updates the paired cells and queues them for execution. A malformed
// request is rejected before the session is touched.
func (d *Dispatcher) Run(_ context.Context, sessionID id.SessionID, req protocol.RunRequest) (err error) {
	defer d.observe("run", time.Now(), &err)
	pairs, err := req.Pairs()
	if err != nil {
		return err
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Run(pairs)
}

// Save persists a full notebook snapshot.
func (d *Dispatcher) Save(_ context.Context, sessionID id.SessionID, req protocol.SaveRequest) (err error) {
	defer d.observe("save", time.Now(), &err)
	cells, err := req.Cells()
	if err != nil {
		return err
	}
	if _, err := d.session(sessionID); err != nil {
		return err
	}
	return d.sessions.Save(sessionID, cells, req.Filename, req.Layout)
}

// Format returns the successfully formatted subset of the requested cells.
func (d *Dispatcher) Format(_ context.Context, sessionID id.SessionID, req protocol.FormatRequest) (resp protocol.FormatResponse, err error) {
	defer d.observe("format", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return resp, err
	}
	lineLength := req.LineLength
	if lineLength <= 0 {
		lineLength = d.lineLength
	}
	codes, err := s.Document().Format(req.Codes, lineLength)
	if err != nil {
		return resp, err
	}
	if codes == nil {
		codes = map[id.CellID]string{}
	}
	return protocol.FormatResponse{Codes: codes}, nil
}

// DeleteCell removes a cell.
func (d *Dispatcher) DeleteCell(_ context.Context, sessionID id.SessionID, req protocol.DeleteCellRequest) (err error) {
	defer d.observe("delete", time.Now(), &err)
	if req.CellID.IsZero() {
		return protocol.Protocolf("cellId is required")
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Document().Delete(req.CellID)
}

// Rename rebinds the session to a new notebook filename.
func (d *Dispatcher) Rename(_ context.Context, sessionID id.SessionID, req protocol.RenameRequest) (err error) {
	defer d.observe("rename", time.Now(), &err)
	if req.Filename == nil || *req.Filename == "" {
		return protocol.Protocolf("filename is required")
	}
	return d.sessions.Rename(sessionID, *req.Filename)
}

// ReadCode returns the notebook file contents.
func (d *Dispatcher) ReadCode(_ context.Context, sessionID id.SessionID) (resp protocol.ReadCodeResponse, err error) {
	defer d.observe("read_code", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return resp, err
	}
	contents, err := s.Document().ReadCode()
	if err != nil {
		return resp, err
	}
	return protocol.ReadCodeResponse{Contents: contents}, nil
}

// SaveAppConfig writes the notebook configuration.
func (d *Dispatcher) SaveAppConfig(_ context.Context, sessionID id.SessionID, req protocol.SaveAppConfigRequest) (err error) {
	defer d.observe("save_app_config", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Document().SaveAppConfig(req.Config)
}

// SaveCellConfig merges per-cell configuration.
func (d *Dispatcher) SaveCellConfig(_ context.Context, sessionID id.SessionID, req protocol.SaveCellConfigRequest) (err error) {
	defer d.observe("set_cell_config", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Document().SaveCellConfig(req.Configs)
}

// SaveUserConfig persists the user configuration.
func (d *Dispatcher) SaveUserConfig(_ context.Context, sessionID id.SessionID, req protocol.SaveUserConfigRequest) (err error) {
	defer d.observe("save_user_config", time.Now(), &err)
	if req.Config == nil {
		return protocol.Protocolf("config is required")
	}
	if _, err := d.session(sessionID); err != nil {
		return err
	}
	return d.sessions.UserConfig().Save(req.Config)
}

// ============================================================================
// Kernel
// ============================================================================

// Instantiate binds UI element values at session start.
func (d *Dispatcher) Instantiate(ctx context.Context, sessionID id.SessionID, req protocol.InstantiateRequest) (err error) {
	defer d.observe("instantiate", time.Now(), &err)
	pairs, err := req.Pairs()
	if err != nil {
		return err
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Instantiate(ctx, pairs)
}

// SetComponentValues applies UI element updates; unchanged values are no-ops.
func (d *Dispatcher) SetComponentValues(ctx context.Context, sessionID id.SessionID, req protocol.SetComponentValuesRequest) (err error) {
	defer d.observe("set_ui_element_value", time.Now(), &err)
	pairs, err := req.Pairs()
	if err != nil {
		return err
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	changed, err := s.SetComponentValues(ctx, pairs)
	if err != nil {
		return err
	}
	d.log.Debug("ui values applied", logging.SessionID(sessionID.String()), zap.Int("changed", changed), zap.Int("sent", len(pairs)))
	return nil
}

// Interrupt cancels pending and running executions.
func (d *Dispatcher) Interrupt(ctx context.Context, sessionID id.SessionID) (err error) {
	defer d.observe("interrupt", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Interrupt(ctx)
}

// Restart restarts the kernel and keeps the notebook.
func (d *Dispatcher) Restart(ctx context.Context, sessionID id.SessionID) (err error) {
	defer d.observe("restart_session", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Restart(ctx)
}

// Shutdown ends the caller's session for good.
func (d *Dispatcher) Shutdown(_ context.Context, sessionID id.SessionID) (err error) {
	defer d.observe("shutdown", time.Now(), &err)
	if _, err := d.session(sessionID); err != nil {
		return err
	}
	return d.sessions.Shutdown(sessionID)
}

// Stdin forwards text to the kernel.
func (d *Dispatcher) Stdin(ctx context.Context, sessionID id.SessionID, req protocol.StdinRequest) (err error) {
	defer d.observe("stdin", time.Now(), &err)
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.Stdin(ctx, req.Text)
}

// CodeCompletion acknowledges and pushes completion-result.
func (d *Dispatcher) CodeCompletion(_ context.Context, sessionID id.SessionID, req protocol.CodeCompletionRequest) (err error) {
	defer d.observe("code_autocomplete", time.Now(), &err)
	if req.ID.IsZero() {
		return protocol.Protocolf("id is required")
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	s.Complete(req)
	return nil
}

// FunctionCall acknowledges and pushes function-call-result.
func (d *Dispatcher) FunctionCall(_ context.Context, sessionID id.SessionID, req protocol.FunctionCallRequest) (err error) {
	defer d.observe("function_call", time.Now(), &err)
	if req.FunctionCallID.IsZero() {
		return protocol.Protocolf("functionCallId is required")
	}
	if req.FunctionName == "" {
		return protocol.Protocolf("functionName is required")
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	return s.CallFunction(req)
}

// PreviewDatasetColumn acknowledges and pushes data-column-preview.
func (d *Dispatcher) PreviewDatasetColumn(_ context.Context, sessionID id.SessionID, req protocol.PreviewDatasetColumnRequest) (err error) {
	defer d.observe("preview_column", time.Now(), &err)
	if req.TableName == "" || req.ColumnName == "" {
		return protocol.Protocolf("tableName and columnName are required")
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	s.PreviewColumn(req)
	return nil
}

// InstallMissingPackages installs the packages the kernel reported missing
// in the background. Progress is pushed as installing-package-alert.
func (d *Dispatcher) InstallMissingPackages(_ context.Context, sessionID id.SessionID, req protocol.InstallMissingPackagesRequest) (err error) {
	defer d.observe("install_missing_packages", time.Now(), &err)
	name := req.Manager
	if name == "" {
		name = d.manager
	}
	manager, err := packages.ManagerFor(name)
	if err != nil {
		return err
	}
	s, err := d.session(sessionID)
	if err != nil {
		return err
	}
	if d.installer == nil {
		return protocol.BackendExecution(nil, "package installation is unavailable")
	}
	missing := s.MissingPackages()
	if len(missing) == 0 {
		return nil
	}
	log := d.log.With(logging.SessionID(sessionID.String()), logging.Op(manager.Name))
	return s.Background(packagesKey, func(ctx context.Context) {
		installed := d.installer.Install(ctx, manager, missing, func(states map[string]string) {
			s.Publish(protocol.Op{
				Name: protocol.OpInstallingPackageAlert,
				Data: protocol.InstallingPackageAlert{Packages: states},
			})
		})
		s.ResolvePackages(installed)
		log.Info("packages installed", zap.Strings("installed", installed), zap.Int("requested", len(missing)))
	})
}

// ============================================================================
// Documentation
// ============================================================================

// Snippets returns the bundled snippets.
func (d *Dispatcher) Snippets(context.Context) (resp protocol.SnippetsResponse, err error) {
	defer d.observe("snippets", time.Now(), &err)
	list, err := snippets.Bundled()
	if err != nil {
		return resp, protocol.BackendExecution(err, "load snippets")
	}
	return protocol.SnippetsResponse{Snippets: list}, nil
}
