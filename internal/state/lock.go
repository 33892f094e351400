package state

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/logging"
	"github.com/Iron-Ham/agentree/internal/process"
)

// LockFileName is the name of the advisory lock file in the state directory.
const LockFileName = ".lock"

// ErrStoreLocked is returned when another live process holds the store lock.
var ErrStoreLocked = errors.New("state store is locked by another process")

const (
	minBackoff = 20 * time.Millisecond
	maxBackoff = 500 * time.Millisecond
)

// Lock is an acquired store lock.
type Lock struct {
	PID        int       `yaml:"pid"`
	Hostname   string    `yaml:"hostname"`
	AcquiredAt time.Time `yaml:"acquired_at"`

	lockFile string
	logger   *logging.Logger
}

// LockOptions bounds lock acquisition.
type LockOptions struct {
	// Timeout is the total time spent retrying.
	Timeout time.Duration
	// Retries is the maximum number of attempts after the first.
	Retries int
	// Alive reports whether the process holding a lock still runs.
	// Defaults to process.IsAlive.
	Alive func(pid int) bool
}

// AcquireLock takes the advisory lock on dir, retrying with randomised
// exponential backoff while another live process holds it. A lock left by
// a dead process is removed. Gives up with a TimeoutError wrapping
// ErrStoreLocked.
func AcquireLock(dir string, opts LockOptions, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.Alive == nil {
		opts.Alive = process.IsAlive
	}
	lockPath := filepath.Join(dir, LockFileName)
	deadline := time.Now().Add(opts.Timeout)

	var holder *Lock
	for attempt := 0; ; attempt++ {
		lock, existing, err := tryLock(lockPath, opts.Alive, logger)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}
		holder = existing

		if attempt >= opts.Retries || time.Now().After(deadline) {
			break
		}
		time.Sleep(backoff(attempt, time.Until(deadline)))
	}

	logger.Warn("state lock busy", "holder_pid", holder.PID, "holder_host", holder.Hostname)
	return nil, errors.NewTimeoutError("acquiring state lock", opts.Timeout).
		WithCause(fmt.Errorf("%w: PID %d on %s", ErrStoreLocked, holder.PID, holder.Hostname))
}

// backoff returns the randomised delay before attempt+1, never longer than
// remaining.
func backoff(attempt int, remaining time.Duration) time.Duration {
	d := minBackoff << min(attempt, 8)
	if d > maxBackoff {
		d = maxBackoff
	}
	d = d/2 + rand.N(d/2+1)
	return max(0, min(d, remaining))
}

// tryLock makes one attempt. It returns the new lock, or the live holder
// when the lock is taken.
func tryLock(lockPath string, alive func(int) bool, logger *logging.Logger) (*Lock, *Lock, error) {
	if existing, err := ReadLock(lockPath); err == nil {
		if alive(existing.PID) {
			return nil, existing, nil
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale state lock cleaned", "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		lockFile:   lockPath,
		logger:     logger,
	}
	data, err := yaml.Marshal(lock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL loses the race cleanly against another process creating it.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, existing, nil
			}
			return nil, &Lock{Hostname: "unknown"}, nil
		}
		return nil, nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Debug("state lock acquired", "pid", lock.PID)
	return lock, nil, nil
}

// Release removes the lock file if it is still ours. Safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}
	existing, err := ReadLock(l.lockFile)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("state lock released", "pid", l.PID)
	}
	return nil
}

// ReadLock reads a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}
