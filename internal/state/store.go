// Package state persists declared agent records as one YAML file per task.
// Writers serialise on an advisory lock file in the state directory.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/logging"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

const (
	recordExt = ".yaml"
	// ArchiveDir holds archived terminal records.
	ArchiveDir = "archive"

	DefaultLockTimeout = 5 * time.Second
	DefaultLockRetries = 20
)

// FileStore stores records at <dir>/<taskID>.yaml.
type FileStore struct {
	dir      string
	lockOpts LockOptions
	logger   *logging.Logger
	now      func() time.Time

	mu   sync.Mutex
	held *Lock
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLockTimeout bounds how long a write waits for the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *FileStore) { s.lockOpts.Timeout = d }
}

// WithLockRetries bounds how many times a write retries the store lock.
func WithLockRetries(n int) Option {
	return func(s *FileStore) { s.lockOpts.Retries = n }
}

// WithLiveness replaces the PID liveness check used to detect stale locks.
func WithLiveness(alive func(pid int) bool) Option {
	return func(s *FileStore) { s.lockOpts.Alive = alive }
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *FileStore) { s.logger = l }
}

// WithClock sets the time source for new records and archive names.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		dir:      dir,
		lockOpts: LockOptions{Timeout: DefaultLockTimeout, Retries: DefaultLockRetries},
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("state")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return s, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the record file of taskID.
func (s *FileStore) Path(taskID string) string {
	return filepath.Join(s.dir, taskID+recordExt)
}

// Get loads the record of taskID. A task without a record file starts out
// idle; the fresh record is not written until its first transition.
func (s *FileStore) Get(taskID string) (*lifecycle.Record, error) {
	if err := worktree.ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	r, err := readRecord(s.Path(taskID))
	if os.IsNotExist(err) {
		return lifecycle.NewRecord(taskID, s.now()), nil
	}
	return r, err
}

// Exists reports whether taskID has a record file.
func (s *FileStore) Exists(taskID string) bool {
	_, err := os.Stat(s.Path(taskID))
	return err == nil
}

// Put writes r atomically under the store lock.
func (s *FileStore) Put(r *lifecycle.Record) error {
	if r == nil {
		return errors.NewValidationError("record is required")
	}
	if err := worktree.ValidateTaskID(r.TaskID); err != nil {
		return err
	}
	return s.withLock(func() error {
		return writeRecord(s.Path(r.TaskID), r)
	})
}

// List returns every stored record ordered by task ID. Unreadable files
// are logged and skipped.
func (s *FileStore) List() ([]*lifecycle.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var records []*lifecycle.Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		r, err := readRecord(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable record", "file", name, "error", err.Error())
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TaskID < records[j].TaskID })
	return records, nil
}

// Archive moves the record of a terminal task to archive/ and returns its
// new path. Non-terminal records are refused.
func (s *FileStore) Archive(taskID string) (string, error) {
	if err := worktree.ValidateTaskID(taskID); err != nil {
		return "", err
	}

	var dst string
	err := s.withLock(func() error {
		src := s.Path(taskID)
		r, err := readRecord(src)
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("record", taskID).WithCause(errors.ErrRecordNotFound)
		}
		if err != nil {
			return err
		}
		if !r.State.IsTerminal() {
			return errors.NewValidationError("only terminal records can be archived").
				WithField("state").WithValue(string(r.State))
		}

		archive := filepath.Join(s.dir, ArchiveDir)
		if err := os.MkdirAll(archive, 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		dst = filepath.Join(archive, fmt.Sprintf("%s-%s%s", taskID, s.now().UTC().Format("20060102T150405Z"), recordExt))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to archive record: %w", err)
		}
		s.logger.Info("record archived", "task_id", taskID, "path", dst)
		return nil
	})
	return dst, err
}

// Lock holds the store lock until the returned release function is called,
// so a read-modify-write spanning several calls is not interleaved with
// other processes. Put and Archive reuse a held lock.
func (s *FileStore) Lock() (release func() error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held != nil {
		return func() error { return nil }, nil
	}

	lock, err := AcquireLock(s.dir, s.lockOpts, s.logger)
	if err != nil {
		return nil, err
	}
	s.held = lock
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.held != lock {
			return nil
		}
		s.held = nil
		return lock.Release()
	}, nil
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	held := s.held != nil
	s.mu.Unlock()
	if held {
		return fn()
	}

	release, err := s.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	return fn()
}

func readRecord(path string) (*lifecycle.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r lifecycle.Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// writeRecord writes r to a temporary file and renames it over path.
func writeRecord(path string, r *lifecycle.Record) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

var _ lifecycle.Store = (*FileStore)(nil)
