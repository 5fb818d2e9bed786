// ABOUTME: Process lock file with singleton takeover semantics.
// ABOUTME: A newer gateway terminates a still-live holder before claiming the lock.

package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// takeoverWait bounds how long Acquire waits for a terminated holder to exit.
const takeoverWait = 2 * time.Second

// Lock is a held process lock file.
type Lock struct {
	path string
	pid  int
}

// Acquire claims the lock file at path. If the file names a still-live
// process, that process is sent SIGTERM and given a short grace period to
// exit; takeover is intentional behavior so a newly started gateway always
// wins. The caller's pid is written once the lock is claimed.
func Acquire(path string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lockfile")

	if holder, ok := readPID(path); ok && holder != os.Getpid() && processAlive(holder) {
		logger.Info("lock held by live process, taking over", "path", path, "holder_pid", holder)
		if err := terminate(holder); err != nil {
			return nil, fmt.Errorf("terminating lock holder %d: %w", holder, err)
		}
		waitForExit(holder, takeoverWait)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	logger.Info("lock acquired", "path", path, "pid", pid)
	return &Lock{path: path, pid: pid}, nil
}

// Release removes the lock file, but only if it still names our pid. A
// successor that already took over keeps its own lock untouched.
func (l *Lock) Release() error {
	if holder, ok := readPID(l.path); ok && holder != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// readPID parses the pid stored in the lock file.
func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes a pid with signal 0. On Unix FindProcess always
// succeeds, so the signal probe is the real check.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminate sends SIGTERM to the holder.
func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// waitForExit polls until the process is gone or the grace period elapses.
func waitForExit(pid int, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
