// Package statetracker persists a trainer.State snapshot to a YAML
// sibling file, guarding the write with an advisory flock and making the
// write itself atomic via write-to-temp-then-rename.
package statetracker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/csvquery/opustrainer/internal/trainer"
)

// ErrNoState is returned by Load when the state file does not exist.
var ErrNoState = errors.New("statetracker: no state file")

// Tracker persists trainer.State snapshots: Load at startup, SaveIfDue
// (no more often than every Interval) while running, and Save for the
// final dump. It does not drive the trainer itself; the caller
// (cmd/opustrainer-feed) restores the trainer, iterates, and makes the
// final Save.
type Tracker struct {
	path     string
	lockPath string
	lockFd   int
	Interval time.Duration

	lastDump time.Time
}

// Open prepares a Tracker at path, creating (but not locking) its
// advisory lock file sibling.
func Open(path string) (*Tracker, error) {
	lockPath := path + ".lock"
	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening state lock file %s: %w", lockPath, err)
	}
	return &Tracker{path: path, lockPath: lockPath, lockFd: fd, Interval: 60 * time.Second}, nil
}

// Close releases the lock file descriptor.
func (t *Tracker) Close() error {
	return unix.Close(t.lockFd)
}

// Exists reports whether a state file is present at t's path.
func (t *Tracker) Exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// Load reads and decodes the current state file, returning ErrNoState
// if it does not exist.
func (t *Tracker) Load() (trainer.State, error) {
	var s trainer.State
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, ErrNoState
	}
	if err != nil {
		return s, fmt.Errorf("reading state file %s: %w", t.path, err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decoding state file %s: %w", t.path, err)
	}
	return s, nil
}

// Save writes s to t's state file atomically: encode to a temporary
// sibling, then rename over the target. The write is guarded by an
// advisory flock so a concurrent writer (there should never be one) cannot
// interleave with this one.
func (t *Tracker) Save(s trainer.State) error {
	if err := unix.Flock(t.lockFd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking state file %s: %w", t.path, err)
	}
	defer unix.Flock(t.lockFd, unix.LOCK_UN)

	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := t.path + ".new"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing temporary state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, t.path, err)
	}
	t.lastDump = time.Now()
	return nil
}

// SaveIfDue calls Save only if Interval has elapsed since the last
// save, matching the original's timeout-gated dump in the main batch
// loop (the unconditional dump on exit is the caller's responsibility —
// see cmd/opustrainer-feed).
func (t *Tracker) SaveIfDue(s trainer.State) error {
	if time.Since(t.lastDump) < t.Interval {
		return nil
	}
	return t.Save(s)
}

// DefaultPath derives the default state file path from a config path,
// matching the original's "${CONFIG}.state" convention.
func DefaultPath(configPath string) string {
	return configPath + ".state"
}
