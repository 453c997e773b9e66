package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/domain/dataset"
	"github.com/GriffinCanCode/notebookd/internal/domain/notebook"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
	"github.com/GriffinCanCode/notebookd/internal/shared/id"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
)

// UntitledName is reported for sessions not yet bound to a file.
const UntitledName = "untitled"

// Publisher delivers ops to the subscribers of a session.
type Publisher interface {
	Publish(sessionID id.SessionID, op protocol.Op)
	Subscribers(sessionID id.SessionID) int
	Close(sessionID id.SessionID)
}

// Metrics receives session activity.
type Metrics interface {
	SessionsActive(n int)
	CellExecuted(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) SessionsActive(int) {}
func (nopMetrics) CellExecuted(bool)  {}

type breakerSettings struct {
	maxFailures uint32
	maxRequests uint32
	timeout     time.Duration
}

// Options configures a Registry.
type Options struct {
	Root      paths.Root
	StateDir  string
	Runtime   RuntimeFactory
	Publisher Publisher
	Metrics   Metrics
	Logger    *zap.Logger
	Watch     bool

	BreakerMaxFailures uint32
	BreakerMaxRequests uint32
	BreakerTimeout     time.Duration
}

// Registry holds the live sessions of a workspace. A notebook path is bound
// to at most one session; ids of shut-down sessions are remembered so that
// late requests fail with a session mismatch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
	byPath   map[string]id.SessionID
	closed   map[id.SessionID]struct{}

	root      paths.Root
	runtime   RuntimeFactory
	publisher Publisher
	metrics   Metrics
	breaker   breakerSettings
	recents   *Recents
	config    *UserConfig
	watcher   *watcher
	log       *zap.Logger
}

// NewRegistry creates a registry and loads the state directory.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Publisher == nil {
		return nil, errors.New("session registry requires a publisher")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	stateDir := opts.StateDir
	if stateDir == "" {
		stateDir = ".notebookd"
	}
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(opts.Root.Dir(), stateDir)
	}
	recents, err := LoadRecents(stateDir)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadUserConfig(stateDir)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		sessions:  make(map[id.SessionID]*Session),
		byPath:    make(map[string]id.SessionID),
		closed:    make(map[id.SessionID]struct{}),
		root:      opts.Root,
		runtime:   opts.Runtime,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		recents:   recents,
		config:    cfg,
		log:       log,
		breaker: breakerSettings{
			maxFailures: opts.BreakerMaxFailures,
			maxRequests: opts.BreakerMaxRequests,
			timeout:     opts.BreakerTimeout,
		},
	}
	if r.runtime == nil {
		r.runtime = NullRuntimeFactory
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.breaker.maxFailures == 0 {
		r.breaker.maxFailures = 5
	}
	if r.breaker.timeout == 0 {
		r.breaker.timeout = 30 * time.Second
	}
	if opts.Watch {
		w, err := newWatcher(r.reload, log.Named("watch"))
		if err != nil {
			return nil, err
		}
		r.watcher = w
	}
	return r, nil
}

// Root returns the workspace root.
func (r *Registry) Root() paths.Root { return r.root }

// UserConfig returns the persisted user configuration.
func (r *Registry) UserConfig() *UserConfig { return r.config }

// Open returns the session for sessionID, creating it for file when it does
// not exist yet. An empty file opens an unnamed notebook. The resumed result
// reports whether an existing session was returned; either way kernel-ready
// is pushed.
//
// A file already bound to another session is a ConflictError while that
// session has subscribers; an orphaned session is shut down and replaced.
func (r *Registry) Open(ctx context.Context, sessionID id.SessionID, file string) (*Session, bool, error) {
	if sessionID.IsZero() {
		return nil, false, protocol.Protocolf("session id is required")
	}
	abs := ""
	if file != "" {
		var err error
		if abs, err = r.root.ResolveNew(file); err != nil {
			return nil, false, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.closed[sessionID]; gone {
		return nil, false, protocol.SessionMismatchf("session %s was shut down", sessionID)
	}
	if s, ok := r.sessions[sessionID]; ok {
		if abs != "" && s.Path() != abs {
			return nil, false, protocol.SessionMismatchf("session %s is bound to another notebook", sessionID)
		}
		s.pushKernelReady(true)
		return s, true, nil
	}
	if abs != "" {
		if other, ok := r.byPath[abs]; ok {
			if r.publisher.Subscribers(other) > 0 {
				return nil, false, protocol.Conflictf("%s is open in another session", filepath.Base(abs))
			}
			r.log.Info("replacing orphaned session", logging.SessionID(other.String()), logging.Path(abs))
			if err := r.shutdownLocked(other); err != nil {
				r.log.Warn("orphaned session close failed", zap.Error(err))
			}
		}
	}

	s, err := r.create(ctx, sessionID, abs)
	if err != nil {
		return nil, false, err
	}
	r.sessions[sessionID] = s
	if abs != "" {
		r.byPath[abs] = sessionID
		if err := r.recents.Touch(abs); err != nil {
			r.log.Warn("recent files not updated", zap.Error(err))
		}
		if r.watcher != nil {
			r.watcher.add(abs)
		}
	}
	r.metrics.SessionsActive(len(r.sessions))
	r.log.Info("session opened", logging.SessionID(sessionID.String()), logging.Path(abs))
	s.pushKernelReady(false)
	return s, false, nil
}

func (r *Registry) create(ctx context.Context, sessionID id.SessionID, abs string) (*Session, error) {
	log := r.log.With(logging.SessionID(sessionID.String()))
	doc, err := notebook.Open(abs, notebook.Options{Logger: log.Named("notebook")})
	if err != nil {
		if errors.Is(err, notebook.ErrNotNotebook) {
			return nil, protocol.Protocolf("%s is not a notebook", filepath.Base(abs))
		}
		return nil, protocol.BackendExecution(err, "open notebook")
	}

	publisher := r.publisher
	s := &Session{
		id:  sessionID,
		doc: doc,
		publish: func(op protocol.Op) {
			publisher.Publish(sessionID, op)
		},
		factory:  r.runtime,
		breaker:  r.breaker,
		tables:   dataset.NewRegistry(),
		metrics:  r.metrics,
		log:      log,
		uiValues: make(map[string]protocol.Value),
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the live session. Unknown and shut-down ids are a
// SessionMismatchError.
func (r *Registry) Get(sessionID id.SessionID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}
	if _, gone := r.closed[sessionID]; gone {
		return nil, protocol.SessionMismatchf("session %s was shut down", sessionID)
	}
	return nil, protocol.SessionMismatchf("unknown session %q", sessionID)
}

// Shutdown closes the session irreversibly.
func (r *Registry) Shutdown(sessionID id.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		if _, gone := r.closed[sessionID]; gone {
			return protocol.SessionMismatchf("session %s was shut down", sessionID)
		}
		return protocol.SessionMismatchf("unknown session %q", sessionID)
	}
	return r.shutdownLocked(sessionID)
}

func (r *Registry) shutdownLocked(sessionID id.SessionID) error {
	s := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.closed[sessionID] = struct{}{}
	if p := s.Path(); p != "" {
		if r.byPath[p] == sessionID {
			delete(r.byPath, p)
		}
		if r.watcher != nil {
			r.watcher.remove(p)
		}
	}
	err := s.stop()
	r.publisher.Close(sessionID)
	r.metrics.SessionsActive(len(r.sessions))
	r.log.Info("session shut down", logging.SessionID(sessionID.String()))
	return err
}

// ShutdownSession shuts down sessionID if it is live and returns the
// refreshed running list.
func (r *Registry) ShutdownSession(sessionID id.SessionID) ([]protocol.NotebookSummary, error) {
	r.mu.Lock()
	var err error
	if _, ok := r.sessions[sessionID]; ok {
		err = r.shutdownLocked(sessionID)
	}
	r.mu.Unlock()
	if err != nil {
		r.log.Warn("runtime close failed", logging.SessionID(sessionID.String()), zap.Error(err))
	}
	return r.Running(), nil
}

// Rename rebinds the session to filename, moving the file on disk when it
// exists. A filename bound to another session is a ConflictError.
func (r *Registry) Rename(sessionID id.SessionID, filename string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	abs, err := r.root.ResolveNew(filename)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byPath[abs]; ok && other != sessionID {
		return protocol.Conflictf("%s is open in another session", filepath.Base(abs))
	}
	old := s.Path()
	if err := s.doc.Rename(abs); err != nil {
		return err
	}
	if old == abs {
		return nil
	}
	if old != "" {
		delete(r.byPath, old)
		if r.watcher != nil {
			r.watcher.remove(old)
		}
	}
	r.byPath[abs] = sessionID
	if r.watcher != nil {
		r.watcher.add(abs)
	}
	if old != "" {
		err = r.recents.Rename(old, abs)
	} else {
		err = r.recents.Touch(abs)
	}
	if err != nil {
		r.log.Warn("recent files not updated", zap.Error(err))
	}
	r.log.Info("session renamed", logging.SessionID(sessionID.String()), logging.Path(abs))
	return nil
}

// Save writes the session's notebook to filename. The first save of an
// unnamed notebook binds the session to filename.
func (r *Registry) Save(sessionID id.SessionID, cells []protocol.SavedCell, filename string, layout *protocol.Layout) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	if filename == "" {
		return protocol.Protocolf("filename is required")
	}
	abs, err := r.root.ResolveNew(filename)
	if err != nil {
		return err
	}
	if s.Path() != "" {
		return s.doc.Save(cells, abs, layout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byPath[abs]; ok && other != sessionID {
		return protocol.Conflictf("%s is open in another session", filepath.Base(abs))
	}
	if err := s.doc.Save(cells, abs, layout); err != nil {
		return err
	}
	r.byPath[abs] = sessionID
	if r.watcher != nil {
		r.watcher.add(abs)
	}
	if err := r.recents.Touch(abs); err != nil {
		r.log.Warn("recent files not updated", zap.Error(err))
	}
	return nil
}

// Running lists live sessions sorted by path.
func (r *Registry) Running() []protocol.NotebookSummary {
	r.mu.RLock()
	out := make([]protocol.NotebookSummary, 0, len(r.sessions))
	for sid, s := range r.sessions {
		out = append(out, r.summary(s.Path(), sid, s.InitializationID()))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Recent lists recently opened notebooks that still exist inside the root.
func (r *Registry) Recent() []protocol.NotebookSummary {
	files := r.recents.Files()
	out := make([]protocol.NotebookSummary, 0, len(files))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, abs := range files {
		if !r.root.Contains(abs) {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		sum := r.summary(abs, "", "")
		if sid, ok := r.byPath[abs]; ok {
			sum.SessionID = sid
			sum.InitializationID = r.sessions[sid].InitializationID()
		}
		out = append(out, sum)
	}
	return out
}

// Annotate attaches the live session of each root-relative notebook path.
func (r *Registry) Annotate(notebooks []protocol.NotebookSummary) []protocol.NotebookSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, nb := range notebooks {
		abs := filepath.Join(r.root.Dir(), filepath.FromSlash(nb.Path))
		if sid, ok := r.byPath[abs]; ok {
			notebooks[i].SessionID = sid
			notebooks[i].InitializationID = r.sessions[sid].InitializationID()
		}
	}
	return notebooks
}

func (r *Registry) summary(abs string, sid id.SessionID, initID id.InitializationID) protocol.NotebookSummary {
	sum := protocol.NotebookSummary{Name: UntitledName, SessionID: sid, InitializationID: initID}
	if abs == "" {
		return sum
	}
	sum.Name = filepath.Base(abs)
	sum.Path = r.root.Rel(abs)
	if st, err := os.Stat(abs); err == nil {
		modified := float64(st.ModTime().UnixNano()) / 1e9
		sum.LastModified = &modified
	}
	return sum
}

// reload re-reads a bound notebook after an external write and pushes
// reload when its contents changed.
func (r *Registry) reload(path string) {
	r.mu.RLock()
	s := r.sessions[r.byPath[path]]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	changed, err := s.doc.Reload()
	if err != nil {
		s.log.Warn("reload failed", logging.Path(path), zap.Error(err))
		return
	}
	if changed {
		s.log.Info("notebook changed on disk", logging.Path(path))
		s.publish(protocol.Op{Name: protocol.OpReload, Data: protocol.Reload{}})
	}
}

// Close shuts down every session and stops the watcher.
func (r *Registry) Close() error {
	r.mu.Lock()
	var err error
	for sid := range r.sessions {
		err = multierr.Append(err, r.shutdownLocked(sid))
	}
	r.mu.Unlock()
	if r.watcher != nil {
		err = multierr.Append(err, r.watcher.close())
	}
	return err
}
