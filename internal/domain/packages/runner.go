package packages

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
)

// Runner runs an install command, reporting each output line.
type Runner interface {
	Run(ctx context.Context, argv []string, output func(line string)) error
}

// PtyRunner runs commands under a pseudo terminal so managers that only
// print progress to a tty still report it.
type PtyRunner struct {
	Dir string
	Env []string
}

func (r PtyRunner) Run(ctx context.Context, argv []string, output func(string)) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(append(os.Environ(), r.Env...), "TERM=dumb", "PIP_NO_INPUT=1")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	defer ptmx.Close()

	// The pty reports EIO once the child exits; that ends the scan.
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" && output != nil {
			output(line)
		}
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return nil
}
