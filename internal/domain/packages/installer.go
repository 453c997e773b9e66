package packages

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// Progress receives the state of every package after each transition.
type Progress func(states map[string]string)

// Installer resolves and installs packages one at a time.
type Installer struct {
	index  *Index
	runner Runner
	log    *zap.Logger
}

// NewInstaller creates an installer. A nil index skips the index check.
func NewInstaller(index *Index, runner Runner, log *zap.Logger) *Installer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Installer{index: index, runner: runner, log: log}
}

// Install installs the distributions providing modules with manager and
// returns the modules that were installed. Every module is reported queued,
// then installing, then installed or failed.
func (i *Installer) Install(ctx context.Context, manager Manager, modules []string, progress Progress) []string {
	states := make(map[string]string, len(modules))
	for _, m := range modules {
		states[m] = protocol.PackageQueued
	}
	report := func() {
		if progress == nil {
			return
		}
		snapshot := make(map[string]string, len(states))
		for k, v := range states {
			snapshot[k] = v
		}
		progress(snapshot)
	}
	report()

	var installed []string
	for _, module := range modules {
		states[module] = protocol.PackageInstalling
		report()

		if err := i.installOne(ctx, manager, module); err != nil {
			i.log.Warn("package install failed", zap.String("package", module), logging.Op(manager.Name), zap.Error(err))
			states[module] = protocol.PackageFailed
		} else {
			states[module] = protocol.PackageInstalled
			installed = append(installed, module)
		}
		report()
	}
	return installed
}

func (i *Installer) installOne(ctx context.Context, manager Manager, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dist := Distribution(module)
	if i.index != nil {
		release, err := i.index.Lookup(ctx, dist)
		switch {
		case errors.Is(err, protocol.ErrNotFound):
			return err
		case err != nil:
			// The index being unreachable does not stop the manager from trying.
			i.log.Debug("package index unavailable", zap.String("package", dist), zap.Error(err))
		default:
			dist = release.Name
		}
	}
	argv := manager.InstallCommand(dist)
	i.log.Info("installing package", zap.Strings("argv", argv))
	return i.runner.Run(ctx, argv, func(line string) {
		i.log.Debug(line, zap.String("package", dist))
	})
}
