// Package lock implements the optional per-name snapshot lock: a small YAML file
// recording the holder's PID, reclaimed when that process is gone.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrLocked = errors.New("already locked")

// unreadableGrace is how long an empty or unparsable lock file is still
// considered owned before it may be reclaimed.
const unreadableGrace = 10 * time.Second

type Entry struct {
	Pid       int    `yaml:"pid"`
	Hostname  string `yaml:"hostname"`
	Name      string `yaml:"name"`
	StartedAt string `yaml:"started_at"`
	Token     string `yaml:"token"`
}

// held reports whether entry belongs to a live process on this host. Entries
// from other hosts are treated as held since their PIDs cannot be checked.
func (e *Entry) held(hostname string) bool {
	if e.Pid <= 0 {
		return false
	}
	if e.Hostname != hostname {
		return true
	}
	err := syscall.Kill(e.Pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// lockFile is a parsed lock file. entry is nil when the content could not be
// read as an Entry.
type lockFile struct {
	entry   *Entry
	modTime time.Time
}

func (f *lockFile) held(hostname string) bool {
	if f.entry == nil {
		return time.Since(f.modTime) < unreadableGrace
	}
	return f.entry.held(hostname)
}

func (f *lockFile) same(other *lockFile) bool {
	if f.entry == nil || other.entry == nil {
		return f.entry == nil && other.entry == nil && f.modTime.Equal(other.modTime)
	}
	return *f.entry == *other.entry
}

func readLockFile(path string) (*lockFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := &lockFile{modTime: info.ModTime()}
	var entry Entry
	if len(data) > 0 && yaml.Unmarshal(data, &entry) == nil && entry.Pid > 0 {
		f.entry = &entry
	}
	return f, nil
}

// create publishes entry at path with a hard link from a fully written temp
// file, so the lock never exists without its content. It fails with an
// os.ErrExist error when the lock is taken.
func create(path string, entry *Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	entry.Token = filepath.Base(tmpName)
	data, err := yaml.Marshal(entry)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmpName, path)
}

// reclaim moves a stale lock aside. If what got moved is no longer the file
// judged stale, another acquirer won in between and its lock is put back.
func reclaim(path string, stale *lockFile) error {
	aside := fmt.Sprintf("%s.stale-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer os.Remove(aside)

	moved, err := readLockFile(aside)
	if err != nil {
		return err
	}
	if !moved.same(stale) {
		if err := os.Link(aside, path); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// Acquire takes the lock at lockPath for the dump name. A lock left by a dead
// process on this host is taken over. The returned release func is idempotent
// and leaves a lock it no longer owns in place.
func Acquire(lockPath, name string) (func() error, error) {
	hostname, _ := os.Hostname()
	entry := &Entry{
		Pid:       os.Getpid(),
		Hostname:  hostname,
		Name:      name,
		StartedAt: time.Now().Format(time.RFC3339),
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := create(lockPath, entry)
		if err == nil {
			return releaser(lockPath, entry.Token), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
		}

		existing, err := readLockFile(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if existing.held(hostname) {
			if existing.entry == nil {
				return nil, fmt.Errorf("%s: %w, lock file %s is being written", name, ErrLocked, lockPath)
			}
			e := existing.entry
			return nil, fmt.Errorf("%s: %w by pid %d on %s (started %s)", name, ErrLocked, e.Pid, e.Hostname, e.StartedAt)
		}
		if err := reclaim(lockPath, existing); err != nil {
			return nil, fmt.Errorf("failed to reclaim stale lock %s: %w", lockPath, err)
		}
	}

	return nil, fmt.Errorf("%s: %w, lock file %s keeps reappearing", name, ErrLocked, lockPath)
}

func releaser(lockPath, token string) func() error {
	return func() error {
		current, err := readLockFile(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if current.entry == nil || current.entry.Token != token {
			return nil
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
}

// AcquireWait retries Acquire every poll interval until the lock is free or ctx
// is done.
func AcquireWait(ctx context.Context, lockPath, name string, poll time.Duration) (func() error, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		release, err := Acquire(lockPath, name)
		if err == nil || !errors.Is(err, ErrLocked) {
			return release, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for lock %s: %w", lockPath, ctx.Err())
		case <-ticker.C:
		}
	}
}
