// Package process starts and stops agent work processes and checks whether
// a recorded PID is still alive.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/logging"
)

// DefaultGracePeriod is how long Kill waits after SIGTERM before sending
// SIGKILL to the process group.
const DefaultGracePeriod = 2 * time.Second

// Supervisor runs the configured agent command in a task worktree, in its
// own process group so the whole tree can be signalled at once.
type Supervisor struct {
	command     []string
	logDir      string
	gracePeriod time.Duration
	logger      *logging.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogDir sends each agent's stdout and stderr to <dir>/<taskID>.log.
// Without it the output is discarded.
func WithLogDir(dir string) Option {
	return func(s *Supervisor) { s.logDir = dir }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.gracePeriod = d }
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor returns a Supervisor for command. The placeholders {task}
// and {path} in its arguments are replaced by the task ID and worktree.
func NewSupervisor(command []string, opts ...Option) *Supervisor {
	s := &Supervisor{
		command:     command,
		gracePeriod: DefaultGracePeriod,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("process")
	return s
}

// Start launches the agent for taskID in dir and returns its PID. The
// process is not waited for by the caller; it outlives the CLI.
func (s *Supervisor) Start(taskID, dir string) (int, error) {
	if len(s.command) == 0 {
		return 0, errors.NewValidationError("no agent command configured").WithField("agent.command")
	}

	r := strings.NewReplacer("{task}", taskID, "{path}", dir)
	args := make([]string, len(s.command))
	for i, a := range s.command {
		args[i] = r.Replace(a)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"AGENTREE_TASK_ID="+taskID,
		"AGENTREE_WORKTREE="+dir,
	)
	cmd.SysProcAttr = newProcessGroup()

	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create agent log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(s.logDir, taskID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to open agent log: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start agent %q: %w", args[0], err)
	}
	pid := cmd.Process.Pid
	// Reap the child if this process lives long enough to see it exit.
	go func() { _ = cmd.Wait() }()

	s.logger.Info("agent started", "task_id", taskID, "pid", pid, "dir", dir)
	return pid, nil
}

// Kill stops the process group led by pid: SIGTERM, then SIGKILL if it
// is still alive after the grace period. A process that is already gone is
// not an error.
func (s *Supervisor) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := terminateGroup(pid); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	if WaitForExit(pid, s.gracePeriod) {
		s.logger.Info("agent stopped", "pid", pid)
		return nil
	}

	s.logger.Warn("agent ignored SIGTERM, killing", "pid", pid)
	if err := killGroup(pid); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

// WaitForExit polls until pid exits or timeout elapses and reports whether
// it exited.
func WaitForExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsAlive(pid)
		case <-ticker.C:
			if !IsAlive(pid) {
				return true
			}
		}
	}
}
