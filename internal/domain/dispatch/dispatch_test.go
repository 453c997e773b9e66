package dispatch

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/notebookd/internal/domain/events"
	"github.com/GriffinCanCode/notebookd/internal/domain/files"
	"github.com/GriffinCanCode/notebookd/internal/domain/kernel"
	"github.com/GriffinCanCode/notebookd/internal/domain/packages"
	"github.com/GriffinCanCode/notebookd/internal/domain/session"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordedOp struct {
	op     string
	result string
}

type fakeMetrics struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (f *fakeMetrics) Operation(op, result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{op: op, result: result})
}

func (f *fakeMetrics) last() recordedOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops[len(f.ops)-1]
}

type fakeRunner struct {
	mu   sync.Mutex
	argv [][]string
}

func (r *fakeRunner) Run(_ context.Context, argv []string, output func(string)) error {
	r.mu.Lock()
	r.argv = append(r.argv, argv)
	r.mu.Unlock()
	output("Successfully installed " + argv[len(argv)-1])
	return nil
}

type fixedUsage struct{}

func (fixedUsage) Usage(context.Context) (protocol.UsageResponse, error) {
	return protocol.UsageResponse{Memory: protocol.MemoryUsage{Total: 100, Used: 25, Percent: 25}}, nil
}

type fixture struct {
	d       *Dispatcher
	hub     *events.Hub
	dir     string
	metrics *fakeMetrics
	runner  *fakeRunner

	mu  sync.Mutex
	rts map[id.SessionID]*kernel.NullRuntime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := paths.NewRoot(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		hub:     events.NewHub(nil, nil),
		dir:     root.Dir(),
		metrics: &fakeMetrics{},
		runner:  &fakeRunner{},
		rts:     make(map[id.SessionID]*kernel.NullRuntime),
	}
	reg, err := session.NewRegistry(session.Options{
		Root:      root,
		StateDir:  ".state",
		Publisher: f.hub,
		Runtime: func(spec session.RuntimeSpec) kernel.Runtime {
			rt := kernel.NewNullRuntime()
			f.mu.Lock()
			f.rts[spec.SessionID] = rt
			f.mu.Unlock()
			return rt
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, reg.Close()) })

	model, err := files.New(root, nil, nil)
	require.NoError(t, err)

	f.d, err = New(Options{
		Sessions:  reg,
		Files:     model,
		Installer: packages.NewInstaller(nil, f.runner, nil),
		Usage:     fixedUsage{},
		Metrics:   f.metrics,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) open(t *testing.T, sid id.SessionID, file string) *session.Session {
	t.Helper()
	s, _, err := f.d.Sessions().Open(context.Background(), sid, file)
	require.NoError(t, err)
	return s
}

func (f *fixture) runtime(sid id.SessionID) *kernel.NullRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rts[sid]
}

func (f *fixture) subscribe(t *testing.T, sid id.SessionID) <-chan protocol.Op {
	ch, cancel := f.hub.Subscribe(sid)
	t.Cleanup(cancel)
	return ch
}

func waitOp(t *testing.T, ch <-chan protocol.Op, name string) protocol.Op {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case op, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed waiting for %s", name)
			}
			if op.Name == name {
				return op
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func saveRequest(filename string, kv ...string) protocol.SaveRequest {
	req := protocol.SaveRequest{Filename: filename}
	for i := 0; i+1 < len(kv); i += 2 {
		req.CellIDs = append(req.CellIDs, id.CellID(kv[i]))
		req.Codes = append(req.Codes, kv[i+1])
		req.Names = append(req.Names, "_")
		req.Configs = append(req.Configs, protocol.CellConfig{})
	}
	return req
}

func TestNewRequiresModels(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRunArityMismatchHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "s1", "nb.py")

	err := f.d.Run(ctx, "s1", protocol.RunRequest{
		CellIDs: []id.CellID{"c1", "c2"},
		Codes:   []string{"x = 1"},
	})
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.Empty(t, s.Document().Snapshot().Cells)
	assert.Zero(t, f.runtime("s1").Executed())
	assert.Equal(t, recordedOp{op: "run", result: string(protocol.KindProtocol)}, f.metrics.last())

	// Shape is checked before the session, so a bad session id is not reported.
	err = f.d.Run(ctx, "unknown", protocol.RunRequest{CellIDs: []id.CellID{"c1"}})
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestRunExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	ops := f.subscribe(t, "s1")

	require.NoError(t, f.d.Run(ctx, "s1", protocol.RunRequest{
		Cells: []protocol.CellCode{{ID: "c1", Code: "x = 1"}, {ID: "c2", Code: "y = x"}},
	}))
	waitOp(t, ops, protocol.OpCompletedRun)
	assert.Equal(t, 2, f.runtime("s1").Executed())
	assert.Equal(t, recordedOp{op: "run", result: ResultOK}, f.metrics.last())
}

func TestMissingSessionHeader(t *testing.T) {
	f := newFixture(t)
	err := f.d.Interrupt(context.Background(), "")
	assert.ErrorIs(t, err, protocol.ErrSessionMismatch)
}

func TestSaveThenFormatReturnsRequestedCellsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")

	require.NoError(t, f.d.Save(ctx, "s1", saveRequest("nb.py", "c1", "a = 1", "c2", "b = 2")))

	resp, err := f.d.Format(ctx, "s1", protocol.FormatRequest{Codes: map[id.CellID]string{"c1": "a=1"}})
	require.NoError(t, err)
	assert.Equal(t, map[id.CellID]string{"c1": "a = 1"}, resp.Codes)

	resp, err = f.d.Format(ctx, "s1", protocol.FormatRequest{Codes: map[id.CellID]string{"c1": "a = (", "c2": "b=2"}})
	require.NoError(t, err)
	assert.Equal(t, map[id.CellID]string{"c2": "b = 2"}, resp.Codes)
}

func TestSaveArityMismatch(t *testing.T) {
	f := newFixture(t)
	f.open(t, "s1", "nb.py")
	req := saveRequest("nb.py", "c1", "a = 1")
	req.Names = nil

	err := f.d.Save(context.Background(), "s1", req)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	_, statErr := os.Stat(filepath.Join(f.dir, "nb.py"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeletedCellIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	require.NoError(t, f.d.Save(ctx, "s1", saveRequest("nb.py", "c1", "a = 1", "c2", "b = 2")))

	require.NoError(t, f.d.DeleteCell(ctx, "s1", protocol.DeleteCellRequest{CellID: "c1"}))

	assert.ErrorIs(t, f.d.DeleteCell(ctx, "s1", protocol.DeleteCellRequest{CellID: "c1"}), protocol.ErrNotFound)
	assert.ErrorIs(t, f.d.Run(ctx, "s1", protocol.RunRequest{CellIDs: []id.CellID{"c1"}, Codes: []string{"a = 2"}}), protocol.ErrNotFound)
	assert.ErrorIs(t, f.d.Save(ctx, "s1", saveRequest("nb.py", "c1", "a = 1")), protocol.ErrNotFound)
	_, err := f.d.Format(ctx, "s1", protocol.FormatRequest{Codes: map[id.CellID]string{"c1": "a=1"}})
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	err = f.d.SaveCellConfig(ctx, "s1", protocol.SaveCellConfigRequest{Configs: map[id.CellID]protocol.CellConfig{"c1": {HideCode: true}}})
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestShutdownSessionExcludesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "a.py")
	f.open(t, "s2", "b.py")

	resp, err := f.d.ShutdownSession(ctx, protocol.ShutdownSessionRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, id.SessionID("s2"), resp.Files[0].SessionID)

	err = f.d.Run(ctx, "s1", protocol.RunRequest{CellIDs: []id.CellID{"c1"}, Codes: []string{"x = 1"}})
	assert.ErrorIs(t, err, protocol.ErrSessionMismatch)
	assert.ErrorIs(t, f.d.Interrupt(ctx, "s1"), protocol.ErrSessionMismatch)

	running, err := f.d.RunningNotebooks(ctx)
	require.NoError(t, err)
	assert.Len(t, running.Files, 1)

	_, err = f.d.ShutdownSession(ctx, protocol.ShutdownSessionRequest{})
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestShutdownOwnSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "a.py")

	require.NoError(t, f.d.Shutdown(ctx, "s1"))
	assert.ErrorIs(t, f.d.Shutdown(ctx, "s1"), protocol.ErrSessionMismatch)
}

func TestListEmptyThenCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.d.ListFiles(ctx, protocol.FileListRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Files)
	assert.NotNil(t, list.Files)
	assert.Equal(t, f.dir, list.Root)

	contents := base64.StdEncoding.EncodeToString([]byte("print(1)\n"))
	created, err := f.d.CreateFile(ctx, protocol.FileCreateRequest{Path: "", Type: "file", Name: "a.py", Contents: &contents})
	require.NoError(t, err)
	assert.True(t, created.Success)

	list, err = f.d.ListFiles(ctx, protocol.FileListRequest{})
	require.NoError(t, err)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "a.py", list.Files[0].Name)

	details, err := f.d.FileDetails(ctx, protocol.FileDetailsRequest{Path: "a.py"})
	require.NoError(t, err)
	require.NotNil(t, details.Contents)
	assert.Equal(t, "print(1)\n", *details.Contents)
}

func TestWorkspaceNotebooksAnnotatesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	require.NoError(t, f.d.Save(ctx, "s1", saveRequest("nb.py", "c1", "a = 1")))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "plain.py"), []byte("x = 1\n"), 0o644))

	resp, err := f.d.WorkspaceNotebooks(ctx, protocol.WorkspaceFilesRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "nb.py", resp.Files[0].Name)
	assert.Equal(t, id.SessionID("s1"), resp.Files[0].SessionID)

	recent, err := f.d.RecentNotebooks(ctx)
	require.NoError(t, err)
	require.Len(t, recent.Files, 1)
}

func TestRenameRequiresFilename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")

	assert.ErrorIs(t, f.d.Rename(ctx, "s1", protocol.RenameRequest{}), protocol.ErrProtocol)

	name := "renamed.py"
	require.NoError(t, f.d.Rename(ctx, "s1", protocol.RenameRequest{Filename: &name}))
	assert.Equal(t, name, f.d.Sessions().Running()[0].Path)
}

func TestSetComponentValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")

	err := f.d.Instantiate(ctx, "s1", protocol.InstantiateRequest{ObjectIDs: []string{"a"}})
	assert.ErrorIs(t, err, protocol.ErrProtocol)

	err = f.d.SetComponentValues(ctx, "s1", protocol.SetComponentValuesRequest{
		Updates: []protocol.ValueUpdate{{ObjectID: "slider", Value: []byte("3")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "3", f.runtime("s1").Values()["slider"].String())

	err = f.d.SetComponentValues(ctx, "s1", protocol.SetComponentValuesRequest{
		ObjectIDs: []string{"slider"},
		Values:    nil,
	})
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestCodeCompletionPushesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	ops := f.subscribe(t, "s1")

	assert.ErrorIs(t, f.d.CodeCompletion(ctx, "s1", protocol.CodeCompletionRequest{Document: "pri"}), protocol.ErrProtocol)

	require.NoError(t, f.d.CodeCompletion(ctx, "s1", protocol.CodeCompletionRequest{ID: "req_1", Document: "pri", CellID: "c1"}))
	result := waitOp(t, ops, protocol.OpCompletionResult).Data.(protocol.CompletionResult)
	assert.Equal(t, id.RequestID("req_1"), result.CompletionID)
	assert.Equal(t, 3, result.PrefixLength)
}

func TestFunctionCallUnknownFunction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	ops := f.subscribe(t, "s1")

	require.NoError(t, f.d.FunctionCall(ctx, "s1", protocol.FunctionCallRequest{
		FunctionCallID: "req_9",
		Namespace:      "ns",
		FunctionName:   "missing",
		Args:           []byte("{}"),
	}))
	result := waitOp(t, ops, protocol.OpFunctionCallResult).Data.(protocol.FunctionCallResult)
	assert.Equal(t, id.RequestID("req_9"), result.FunctionCallID)
	assert.Equal(t, session.FunctionError, result.Status.Code)
}

func TestInstallMissingPackages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "s1", "nb.py")
	ops := f.subscribe(t, "s1")

	err := f.d.InstallMissingPackages(ctx, "s1", protocol.InstallMissingPackagesRequest{Manager: "conda"})
	assert.ErrorIs(t, err, protocol.ErrProtocol)

	s.ReportMissingPackages([]string{"sklearn"})
	require.NoError(t, f.d.InstallMissingPackages(ctx, "s1", protocol.InstallMissingPackagesRequest{Manager: "uv"}))

	for {
		alert := waitOp(t, ops, protocol.OpInstallingPackageAlert).Data.(protocol.InstallingPackageAlert)
		if alert.Packages["sklearn"] == protocol.PackageInstalled {
			break
		}
	}
	assert.Eventually(t, func() bool { return len(s.MissingPackages()) == 0 }, 2*time.Second, 10*time.Millisecond)

	f.runner.mu.Lock()
	defer f.runner.mu.Unlock()
	require.Len(t, f.runner.argv, 1)
	assert.Equal(t, "uv pip install scikit-learn", strings.Join(f.runner.argv[0], " "))
}

func TestOpenFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "a.py"), nil, 0o644))

	assert.NoError(t, f.d.OpenFile(ctx, protocol.OpenFileRequest{Path: "a.py"}))
	assert.ErrorIs(t, f.d.OpenFile(ctx, protocol.OpenFileRequest{Path: "b.py"}), protocol.ErrNotFound)
	assert.ErrorIs(t, f.d.OpenFile(ctx, protocol.OpenFileRequest{Path: "../x.py"}), protocol.ErrInvalidPath)
	assert.ErrorIs(t, f.d.OpenFile(ctx, protocol.OpenFileRequest{}), protocol.ErrProtocol)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "report.py")
	require.NoError(t, f.d.Save(ctx, "s1", saveRequest("report.py", "c1", "total = 42")))

	html, err := f.d.ExportHTML(ctx, "s1", protocol.ExportHTMLRequest{IncludeCode: true, Download: true})
	require.NoError(t, err)
	assert.Equal(t, "report.html", html.Filename)
	assert.Equal(t, ContentTypeHTML, html.ContentType)
	assert.True(t, html.Attachment)
	assert.Contains(t, string(html.Body), "total = 42")

	md, err := f.d.ExportMarkdown(ctx, "s1", protocol.ExportMarkdownRequest{})
	require.NoError(t, err)
	assert.Equal(t, "report.md", md.Filename)
	assert.False(t, md.Attachment)
	assert.Contains(t, string(md.Body), "total = 42")

	_, err = f.d.ExportHTML(ctx, "s1", protocol.ExportHTMLRequest{Files: []string{"missing.csv"}})
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestReadCodeAndConfigs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "s1", "nb.py")
	require.NoError(t, f.d.Save(ctx, "s1", saveRequest("nb.py", "c1", "a = 1")))

	require.NoError(t, f.d.SaveAppConfig(ctx, "s1", protocol.SaveAppConfigRequest{Config: protocol.AppConfig{Width: "full"}}))
	require.NoError(t, f.d.SaveAppConfig(ctx, "s1", protocol.SaveAppConfigRequest{Config: protocol.AppConfig{Width: "full"}}))

	code, err := f.d.ReadCode(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, code.Contents, `width="full"`)

	assert.ErrorIs(t, f.d.SaveUserConfig(ctx, "s1", protocol.SaveUserConfigRequest{}), protocol.ErrProtocol)
	require.NoError(t, f.d.SaveUserConfig(ctx, "s1", protocol.SaveUserConfigRequest{Config: map[string]any{"theme": "dark"}}))
	assert.Equal(t, "dark", f.d.Sessions().UserConfig().Values()["theme"])
}

func TestSnippetsAndUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snips, err := f.d.Snippets(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, snips.Snippets)

	usage, err := f.d.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, usage.Memory.Percent)
}
