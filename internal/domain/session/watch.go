package session

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
)

// watcher reports writes to notebook files. fsnotify watches directories,
// so each directory is reference counted across the files inside it.
type watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	dirs     map[string]int
	files    map[string]bool
	onChange func(path string)
	log      *zap.Logger
	done     chan struct{}
}

func newWatcher(onChange func(string), log *zap.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:       fw,
		dirs:     make(map[string]int),
		files:    make(map[string]bool),
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			path := filepath.Clean(ev.Name)
			w.mu.Lock()
			watched := w.files[path]
			w.mu.Unlock()
			if watched {
				w.onChange(path)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *watcher) add(path string) {
	if path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[path] {
		return
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			w.log.Warn("watch failed", logging.Path(dir), zap.Error(err))
			return
		}
	}
	w.dirs[dir]++
	w.files[path] = true
}

func (w *watcher) remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	delete(w.files, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.fs.Remove(dir)
	}
}

func (w *watcher) close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
