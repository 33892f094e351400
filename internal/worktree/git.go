package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
// Commands are always argument arrays; nothing is passed through a shell.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output. Git's messages are
// forced to the C locale so that conflict and lock detection can match on
// them.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
	return cmd.Run()
}

// -----------------------------------------------------------------------------
// Git invocation
// -----------------------------------------------------------------------------

// git runs a git command in dir and returns its trimmed combined output.
// Failures are returned as *errors.GitError classified by classifyGitFailure.
func (m *Manager) git(dir string, args ...string) (string, error) {
	out, err := m.gitRaw(dir, args...)
	return strings.TrimSpace(out), err
}

// gitRaw is like git but leaves the output untrimmed, which porcelain
// formats with significant leading columns need.
func (m *Manager) gitRaw(dir string, args ...string) (string, error) {
	output, err := m.executor.Run(dir, "git", args...)
	if err != nil {
		out := strings.TrimSpace(string(output))
		m.logger.Debug("git command failed", "dir", dir, "args", args, "error", err.Error())
		return out, newGitFailure(err, out, args).WithRepository(dir)
	}
	return string(output), nil
}

// gitOK runs a git command and reports only whether it exited zero.
func (m *Manager) gitOK(dir string, args ...string) bool {
	return m.executor.RunQuiet(dir, "git", args...) == nil
}

// newGitFailure builds the GitError for a failed git subprocess.
func newGitFailure(err error, output string, args []string) *errors.GitError {
	cause := classifyGitFailure(err, output)

	name := "git"
	if len(args) > 0 {
		name = "git " + args[0]
	}

	gerr := errors.NewGitError(fmt.Sprintf("%s failed (%v)", name, err), cause).
		WithArgs(args...).
		WithGitOutput(output)
	if cause == errors.ErrLockConflict {
		gerr = gerr.WithRetryable(true)
	}
	return gerr
}

// classifyGitFailure maps a failed git invocation onto a sentinel error.
func classifyGitFailure(err error, output string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return errors.ErrGitNotFound
	}

	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "index.lock"),
		strings.Contains(lower, "cannot lock ref"),
		strings.Contains(lower, ".lock': file exists"):
		return errors.ErrLockConflict
	case strings.Contains(lower, "not a git repository"):
		return errors.ErrNotGitRepository
	case strings.Contains(output, "CONFLICT"),
		strings.Contains(lower, "could not apply"),
		strings.Contains(lower, "unmerged files"),
		strings.Contains(lower, "fix conflicts"):
		return errors.ErrConflictDetected
	case strings.Contains(lower, "a branch named"):
		return errors.ErrBranchExists
	case strings.Contains(lower, "already exists"):
		return errors.ErrWorktreeExists
	case strings.Contains(lower, "not a valid branch name"),
		strings.Contains(lower, "invalid reference"),
		strings.Contains(lower, "unknown revision"):
		return errors.ErrBranchNotFound
	default:
		return errors.ErrGitCommandFailed
	}
}

// HasGit reports whether a git executable can be run.
func (m *Manager) HasGit() bool {
	return m.gitOK(m.repoDir, "--version")
}

// IsGitRepo reports whether the manager's root is inside a git work tree.
func (m *Manager) IsGitRepo() bool {
	out, err := m.git(m.repoDir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}
