// Package session owns the live notebook sessions of a workspace.
//
// A session binds one notebook file to one kernel runtime. The Registry
// enforces that a path has at most one live session, remembers shut-down
// session ids so late requests fail with a session mismatch, and keeps the
// recent-files list and the user configuration under the state directory.
//
// Components:
//   - Registry: session lifecycle, path binding, discovery listings
//   - Session: cell model, kernel runtime, per-cell sequencer, UI values,
//     tables and functions registered by the kernel side
//   - Recents / UserConfig: TOML state files
//   - watcher: fsnotify on notebook directories, pushes reload ops
//
// Lifecycle:
//  1. Open binds a path, loads the notebook, starts the runtime and pushes
//     kernel-ready
//  2. Run/Save/Delete/Format go through the session's Document
//  3. Interrupt drains pending runs; Restart replaces the runtime
//  4. Shutdown closes the runtime and tombstones the id
//
// Example Usage:
//
//	reg, err := session.NewRegistry(session.Options{Root: root, StateDir: dir, Hub: hub})
//	s, err := reg.Open(ctx, sessionID, "analysis.py")
//	err = s.Run(pairs)
//	running, err := reg.ShutdownSession(sessionID)
package session
