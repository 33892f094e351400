// Package worktree manages task worktrees and the branch hierarchy they
// live in.
//
// Every task runs in its own linked worktree at <root>/<taskID> on branch
// task/<taskID>. Task branches are cut from their immediate parent in the
// hierarchy main → prd/<PRD-ID> → epic/<EpicID>, and are merged back into
// that same parent. All git access goes through a CommandExecutor so tests
// can substitute canned responses.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/logging"
)

// Manager handles git worktree and branch operations for one repository.
type Manager struct {
	repoDir      string
	worktreeRoot string
	mainBranch   string
	executor     CommandExecutor
	logger       *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorktreeRoot sets the directory task worktrees are created in.
func WithWorktreeRoot(dir string) Option {
	return func(m *Manager) { m.worktreeRoot = dir }
}

// WithMainBranch pins the main branch name instead of detecting it.
func WithMainBranch(branch string) Option {
	return func(m *Manager) { m.mainBranch = branch }
}

// WithExecutor replaces the command executor (used by tests).
func WithExecutor(e CommandExecutor) Option {
	return func(m *Manager) { m.executor = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("no repository found", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string, opts ...Option) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	return NewWithExecutor(gitRoot, NewCLICommandExecutor(), opts...), nil
}

// NewWithExecutor creates a Manager rooted at repoDir without searching for
// the repository root. This is primarily useful for testing.
func NewWithExecutor(repoDir string, executor CommandExecutor, opts ...Option) *Manager {
	m := &Manager{
		repoDir:  repoDir,
		executor: executor,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.worktreeRoot == "" {
		m.worktreeRoot = filepath.Join(repoDir, ".agentree", "worktrees")
	}
	m.logger = m.logger.WithComponent("worktree")
	return m
}

// RepoDir returns the repository root the manager operates on.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// MainBranch returns the configured main branch, or main/master if one of
// them exists, defaulting to "main".
func (m *Manager) MainBranch() string {
	if m.mainBranch != "" {
		return m.mainBranch
	}
	for _, candidate := range []string{"main", "master"} {
		if m.BranchExists(candidate) {
			return candidate
		}
	}
	return "main"
}

// -----------------------------------------------------------------------------
// Create
// -----------------------------------------------------------------------------

// CreateOptions controls CreateWorktree.
type CreateOptions struct {
	// BaseBranch is the branch the task branch is cut from. Defaults to
	// the branch checked out in the repository root, or the main branch
	// when HEAD is detached.
	BaseBranch string
	// Existing checks out an existing task branch as it is instead of
	// cutting a new one. It recovers a worktree deleted from disk.
	Existing bool
}

// CreateResult describes a created worktree.
type CreateResult struct {
	Path       string
	Branch     string
	BaseBranch string
	// Recreated is set when a leftover task branch with no commits ahead
	// of the base was deleted and created again.
	Recreated bool
}

// CreateWorktree creates the task worktree on a fresh task/<taskID> branch.
//
// It fails if the worktree directory already exists, or if the task branch
// exists with commits ahead of the base (that work must be merged or
// discarded first). A leftover task branch with zero commits ahead is
// deleted and recreated from the base.
func (m *Manager) CreateWorktree(taskID string, opts CreateOptions) (*CreateResult, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}

	path := m.WorktreePath(taskID)
	branch := TaskBranch(taskID)
	base := opts.BaseBranch
	if base == "" {
		base = m.CurrentBranch(m.repoDir)
	}
	if base == "" {
		base = m.MainBranch()
	}

	if exists(path) {
		return nil, errors.NewGitError("worktree path is already occupied", errors.ErrWorktreeExists).
			WithWorktree(path).
			WithBranch(branch)
	}
	if !m.BranchExists(base) {
		return nil, errors.NewGitError(fmt.Sprintf("base branch %s does not exist", base), errors.ErrBranchNotFound).
			WithBranch(base)
	}

	result := &CreateResult{Path: path, Branch: branch, BaseBranch: base}

	if opts.Existing {
		if !m.BranchExists(branch) {
			return nil, errors.NewGitError(fmt.Sprintf("branch %s does not exist", branch), errors.ErrBranchNotFound).
				WithBranch(branch)
		}
		_, _ = m.git(m.repoDir, "worktree", "prune")
		if err := m.addWorktree(path, path, branch); err != nil {
			return nil, err
		}
		m.logger.Info("checked out existing task branch", "task_id", taskID, "path", path, "branch", branch)
		return result, nil
	}

	if m.BranchExists(branch) {
		div := m.BranchDivergence(branch, base)
		if div.Ahead > 0 {
			return nil, errors.NewGitError(
				fmt.Sprintf("branch %s has %d commit(s) ahead of %s; merge or delete it first", branch, div.Ahead, base),
				errors.ErrBranchHasCommits,
			).WithBranch(branch)
		}

		// A worktree deleted from disk keeps the branch checked out until pruned.
		_, _ = m.git(m.repoDir, "worktree", "prune")
		if _, err := m.git(m.repoDir, "branch", "-D", branch); err != nil {
			return nil, err
		}
		result.Recreated = true
		m.logger.Info("recreating task branch with no commits", "branch", branch, "base", base)
	}

	if err := m.addWorktree(path, "-b", branch, path, base); err != nil {
		return nil, err
	}

	m.logger.Info("created worktree", "task_id", taskID, "path", path, "branch", branch, "base", base)
	return result, nil
}

// addWorktree prepares the parent of path and runs git worktree add args.
func (m *Manager) addWorktree(path string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewGitError("failed to create worktree root", err).WithWorktree(path)
	}
	if err := m.EnsureExcluded(path); err != nil {
		m.logger.Warn("failed to exclude worktree root from git status", "path", path, "error", err.Error())
	}

	_, err := m.git(m.repoDir, append([]string{"worktree", "add"}, args...)...)
	return err
}

// -----------------------------------------------------------------------------
// Remove / Cleanup
// -----------------------------------------------------------------------------

// RemoveOptions controls RemoveWorktree.
type RemoveOptions struct {
	// Force removes the worktree even with local changes, falling back to
	// deleting the directory and pruning git's metadata.
	Force bool
	// KeepBranch leaves task/<taskID> in place.
	KeepBranch bool
}

// RemoveWorktree removes the task worktree and, unless KeepBranch is set,
// its task branch. Removing an absent worktree is not an error. Branch
// deletion failures are logged and otherwise ignored.
func (m *Manager) RemoveWorktree(taskID string, opts RemoveOptions) error {
	path := m.WorktreePath(taskID)

	if exists(path) {
		args := []string{"worktree", "remove"}
		if opts.Force {
			args = append(args, "--force")
		}
		args = append(args, path)

		if _, err := m.git(m.repoDir, args...); err != nil {
			if !opts.Force {
				return err
			}
			m.logger.Warn("worktree remove failed, deleting directory", "path", path, "error", err.Error())
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return errors.NewGitError("failed to delete worktree directory", rmErr).WithWorktree(path)
			}
		}
	}
	_, _ = m.git(m.repoDir, "worktree", "prune")

	if !opts.KeepBranch {
		if err := m.DeleteBranch(TaskBranch(taskID)); err != nil {
			m.logger.Warn("failed to delete task branch", "branch", TaskBranch(taskID), "error", err.Error())
		}
	}
	return nil
}

// DeleteBranch force-deletes a local branch. Deleting a missing branch is
// not an error.
func (m *Manager) DeleteBranch(branch string) error {
	if !m.BranchExists(branch) {
		return nil
	}
	if _, err := m.git(m.repoDir, "branch", "-D", branch); err != nil {
		return err
	}
	return nil
}

// CleanupOptions controls CleanupWorktree.
type CleanupOptions struct {
	// Remote, when set, also deletes task/<taskID> on that remote.
	Remote string
}

// CleanupResult lists what CleanupWorktree removed and which steps failed.
type CleanupResult struct {
	Removed []string
	Errors  []string
}

// CleanupWorktree removes everything belonging to a task: the worktree
// directory, the local branch, the remote branch (when requested) and
// stale worktree metadata. Every step runs even if an earlier one failed.
func (m *Manager) CleanupWorktree(taskID string, opts CleanupOptions) *CleanupResult {
	result := &CleanupResult{}
	path := m.WorktreePath(taskID)
	branch := TaskBranch(taskID)

	if exists(path) {
		if _, err := m.git(m.repoDir, "worktree", "remove", "--force", path); err != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("worktree %s: %v", path, rmErr))
			} else {
				result.Removed = append(result.Removed, "worktree "+path)
			}
		} else {
			result.Removed = append(result.Removed, "worktree "+path)
		}
	}

	if _, err := m.git(m.repoDir, "worktree", "prune"); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("prune: %v", err))
	}

	if m.BranchExists(branch) {
		if err := m.DeleteBranch(branch); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("branch %s: %v", branch, err))
		} else {
			result.Removed = append(result.Removed, "branch "+branch)
		}
	}

	if opts.Remote != "" {
		if _, err := m.git(m.repoDir, "push", opts.Remote, "--delete", branch); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remote branch %s/%s: %v", opts.Remote, branch, err))
		} else {
			result.Removed = append(result.Removed, "remote branch "+opts.Remote+"/"+branch)
		}
	}

	return result
}

// -----------------------------------------------------------------------------
// List / Prune / Status
// -----------------------------------------------------------------------------

// ListWorktrees returns every worktree registered with the repository,
// including the main checkout.
func (m *Manager) ListWorktrees() ([]WorktreeInfo, error) {
	out, err := m.gitRaw(m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

// ListAgentWorktrees returns the worktrees whose branch follows the
// task/<ID> convention.
func (m *Manager) ListAgentWorktrees() ([]WorktreeInfo, error) {
	all, err := m.ListWorktrees()
	if err != nil {
		return nil, err
	}

	var agents []WorktreeInfo
	for _, wt := range all {
		if wt.IsAgentWorktree() {
			agents = append(agents, wt)
		}
	}
	return agents, nil
}

// PruneWorktrees drops metadata for worktrees whose directories are gone
// and returns git's description of each pruned entry.
func (m *Manager) PruneWorktrees() ([]string, error) {
	out, err := m.git(m.repoDir, "worktree", "prune", "--verbose")
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, line := range splitNonEmpty(out) {
		pruned = append(pruned, strings.TrimPrefix(line, "Removing "))
	}
	return pruned, nil
}

// WorktreeStatus summarizes one task worktree.
type WorktreeStatus struct {
	TaskID        string
	Path          string
	Branch        string
	BaseBranch    string
	CurrentBranch string
	Exists        bool
	Clean         bool
	Conflicts     int
	Ahead         int
	Behind        int
}

// WorktreeStatus reports existence, cleanliness and divergence from base
// for a task worktree. An empty base means the main branch.
func (m *Manager) WorktreeStatus(taskID, base string) *WorktreeStatus {
	if base == "" {
		base = m.MainBranch()
	}
	st := &WorktreeStatus{
		TaskID:     taskID,
		Path:       m.WorktreePath(taskID),
		Branch:     TaskBranch(taskID),
		BaseBranch: base,
		Exists:     m.WorktreeExists(taskID),
	}

	div := m.BranchDivergence(st.Branch, base)
	st.Ahead, st.Behind = div.Ahead, div.Behind

	if st.Exists {
		st.CurrentBranch = m.CurrentBranch(st.Path)
		if status, err := m.Status(st.Path); err == nil {
			st.Clean = status.Clean()
			st.Conflicts = len(status.Conflicts)
		}
	}
	return st
}
