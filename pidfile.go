package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePermissions: owner rw, group/other r.
const pidFilePermissions = 0o644

// errNoDaemon means no watch daemon is running for this state directory.
var errNoDaemon = errors.New("no running watch daemon")

// writePIDFile writes the current process ID to path and acquires an exclusive
// flock. Returns a cleanup function that removes the file and releases the
// lock. If the lock cannot be acquired, another daemon is already running.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty, cannot determine state directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), stateDirPerms); mkdirErr != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	// Non-blocking exclusive lock; fails immediately if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another watch daemon is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	// Sync to disk so readers see the PID immediately.
	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the PID from the given file path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// liveDaemon returns the running daemon recorded in pidPath. It returns
// errNoDaemon when there is no PID file or the recorded process is gone; a
// stale PID file is removed.
func liveDaemon(pidPath string) (*os.Process, int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, errNoDaemon
		}

		return nil, 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 checks liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return nil, 0, errNoDaemon
	}

	return proc, pid, nil
}

// signalDaemon sends sig to the daemon recorded in pidPath and returns its
// PID.
func signalDaemon(pidPath string, sig syscall.Signal) (int, error) {
	proc, pid, err := liveDaemon(pidPath)
	if err != nil {
		return 0, err
	}

	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("signaling daemon (PID %d): %w", pid, err)
	}

	return pid, nil
}
