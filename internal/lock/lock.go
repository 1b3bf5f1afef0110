package lock

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry records who holds a backup unit. A lock file lives at the root of
// the backup unit so that concurrent incremental or restore runs against the
// same unit are refused instead of racing on the descriptor.
type Entry struct {
	Pid       int    `yaml:"pid"`
	Operation string `yaml:"operation"`
	StartedAt string `yaml:"started_at"`
}

func readLock(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func writeLock(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	return true
}

// Acquire takes the lock for one operation against a backup unit. A lock
// left behind by a dead process is reclaimed. Returns a release function
// which should be called (deferred) when work is done.
func Acquire(lockPath, operation string) (func() error, error) {
	existing, err := readLock(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Pid > 0 && isProcessAlive(existing.Pid) {
		return nil, fmt.Errorf("already locked by pid %d running %q (started %s)",
			existing.Pid, existing.Operation, existing.StartedAt)
	}

	entry := &Entry{
		Pid:       os.Getpid(),
		Operation: operation,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeLock(lockPath, entry); err != nil {
		return nil, err
	}

	release := func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}
