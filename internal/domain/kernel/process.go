package kernel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/shared/id"
)

const markerPrefix = "__notebookd_done_"

// ProcessConfig configures a ProcessRuntime.
type ProcessConfig struct {
	// Command is the interpreter command line, e.g. "python3 -i -q".
	Command string
	Dir     string
	Env     []string
	Sink    Sink
	Logger  *zap.Logger
}

// ProcessRuntime drives an interactive Python interpreter under a pty. Each
// cell is sent as one exec() line followed by a marker print; console output
// up to the marker is attributed to the cell.
type ProcessRuntime struct {
	cfg ProcessConfig
	log *zap.Logger

	execMu sync.Mutex // one cell at a time

	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	current id.CellID
	sent    map[string]bool
	waiters map[string]chan struct{}
	seq     int
	closed  bool
	exited  chan struct{}
	readers sync.WaitGroup
}

// NewProcessRuntime creates a runtime for cfg. Start launches the process.
func NewProcessRuntime(cfg ProcessConfig) *ProcessRuntime {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessRuntime{
		cfg:     cfg,
		log:     log,
		sent:    make(map[string]bool),
		waiters: make(map[string]chan struct{}),
	}
}

// Start spawns the interpreter.
func (r *ProcessRuntime) Start(ctx context.Context) error {
	fields := strings.Fields(r.cfg.Command)
	if len(fields) == 0 {
		return errors.New("kernel command is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.cmd != nil {
		return nil
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, r.cfg.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return fmt.Errorf("start kernel under pty: %w", err)
	}
	r.cmd = cmd
	r.ptmx = ptmx
	r.exited = make(chan struct{})

	r.readers.Add(2)
	go r.readOutput(ptmx)
	go r.monitor(cmd)

	r.log.Info("kernel started", zap.String("command", r.cfg.Command), zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (r *ProcessRuntime) readOutput(ptmx io.Reader) {
	defer r.readers.Done()
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.handleLine(strings.TrimRight(scanner.Text(), "\r"))
	}
}

func (r *ProcessRuntime) handleLine(line string) {
	line = stripPrompts(line)

	r.mu.Lock()
	if r.sent[line] {
		delete(r.sent, line)
		r.mu.Unlock()
		return
	}
	if strings.HasPrefix(line, markerPrefix) {
		if done, ok := r.waiters[line]; ok {
			delete(r.waiters, line)
			close(done)
		}
		r.mu.Unlock()
		return
	}
	cellID := r.current
	r.mu.Unlock()

	if line == "" || r.cfg.Sink == nil {
		return
	}
	r.cfg.Sink(ConsoleOp(cellID, "stdout", line+"\n"))
}

func stripPrompts(line string) string {
	for {
		switch {
		case strings.HasPrefix(line, ">>> "):
			line = line[4:]
		case strings.HasPrefix(line, "... "):
			line = line[4:]
		default:
			return line
		}
	}
}

func (r *ProcessRuntime) monitor(cmd *exec.Cmd) {
	defer r.readers.Done()
	err := cmd.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for marker, done := range r.waiters {
		close(done)
		delete(r.waiters, marker)
	}
	close(r.exited)
	if !r.closed {
		r.log.Warn("kernel exited", zap.Error(err))
	}
}

// write sends lines to the interpreter, remembering them so their echo is
// filtered from the output.
func (r *ProcessRuntime) write(lines ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ptmx == nil {
		return ErrClosed
	}
	var b strings.Builder
	for _, l := range lines {
		r.sent[l] = true
		b.WriteString(l + "\n")
	}
	_, err := io.WriteString(r.ptmx, b.String())
	return err
}

// Execute runs code and blocks until the interpreter has finished it, ctx
// is done or the process exits.
func (r *ProcessRuntime) Execute(ctx context.Context, cellID id.CellID, code string) error {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	r.mu.Lock()
	if r.closed || r.ptmx == nil {
		r.mu.Unlock()
		return ErrClosed
	}
	r.seq++
	marker := markerPrefix + strconv.Itoa(r.seq) + "__"
	done := make(chan struct{})
	r.waiters[marker] = done
	r.current = cellID
	exited := r.exited
	r.mu.Unlock()

	source := fmt.Sprintf("exec(compile(%s, %s, \"exec\"), globals())", strconv.Quote(code), strconv.Quote(string(cellID)))
	if err := r.write(source, fmt.Sprintf("print(%q)", marker)); err != nil {
		return fmt.Errorf("send cell to kernel: %w", err)
	}

	select {
	case <-done:
		select {
		case <-exited:
			return errors.New("kernel exited while running cell")
		default:
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt sends SIGINT to the interpreter.
func (r *ProcessRuntime) Interrupt(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cmd == nil || r.cmd.Process == nil {
		return ErrClosed
	}
	return r.cmd.Process.Signal(os.Interrupt)
}

// Stdin writes text as one input line.
func (r *ProcessRuntime) Stdin(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ptmx == nil {
		return ErrClosed
	}
	_, err := io.WriteString(r.ptmx, strings.TrimSuffix(text, "\n")+"\n")
	return err
}

// Close kills the interpreter and waits for its goroutines.
func (r *ProcessRuntime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cmd, ptmx := r.cmd, r.ptmx
	r.mu.Unlock()

	if cmd == nil {
		return nil
	}
	var err error
	if cmd.Process != nil {
		if kerr := cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = multierr.Append(err, kerr)
		}
	}
	err = multierr.Append(err, ptmx.Close())
	r.readers.Wait()
	return err
}
