package worktree

import (
	"fmt"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// SyncResult describes one branch sync.
type SyncResult struct {
	Branch   string
	Upstream string
	Strategy Strategy
	// Synced is false when the branch already contained upstream.
	Synced    bool
	Conflicts []string
}

// SyncBranch brings branch up to date with upstream by merging or
// rebasing. The sync happens in the repository root; whatever branch was
// checked out there before is checked out again afterwards, whether the
// sync succeeded or not. A conflicting sync is aborted and returned as
// ErrConflictDetected with the conflicting paths in the result.
func (m *Manager) SyncBranch(branch, upstream string, strategy Strategy) (*SyncResult, error) {
	result := &SyncResult{Branch: branch, Upstream: upstream, Strategy: strategy}

	if strategy != StrategyMerge && strategy != StrategyRebase {
		return result, errors.NewValidationError("sync strategy must be merge or rebase").
			WithField("strategy").WithValue(string(strategy))
	}
	for _, b := range []string{branch, upstream} {
		if !m.BranchExists(b) {
			return result, errors.NewGitError(fmt.Sprintf("branch %s does not exist", b), errors.ErrBranchNotFound).
				WithBranch(b)
		}
	}

	if m.IsAncestor(upstream, branch) {
		return result, nil
	}

	original, originalCommit := m.currentHead()
	if original != branch {
		if _, err := m.git(m.repoDir, "checkout", branch); err != nil {
			return result, err
		}
		defer m.restoreHead(original, originalCommit)
	}

	var err error
	if strategy == StrategyRebase {
		_, err = m.git(m.repoDir, "rebase", upstream)
	} else {
		_, err = m.git(m.repoDir, "merge", "--no-edit", upstream)
	}
	if err != nil {
		result.Conflicts = m.UnmergedFiles(m.repoDir)
		m.abortInProgress(m.repoDir, strategy)
		m.logger.Warn("sync failed, aborted", "branch", branch, "upstream", upstream, "strategy", string(strategy), "conflicts", len(result.Conflicts))
		if len(result.Conflicts) > 0 {
			return result, errors.NewGitError(fmt.Sprintf("syncing %s with %s conflicted", branch, upstream), errors.ErrConflictDetected).
				WithBranch(branch)
		}
		return result, err
	}

	result.Synced = true
	m.logger.Info("synced branch", "branch", branch, "upstream", upstream, "strategy", string(strategy))
	return result, nil
}

// currentHead returns the branch checked out in the repository root, or
// the commit HEAD points at when it is detached.
func (m *Manager) currentHead() (branch, commit string) {
	if branch = m.CurrentBranch(m.repoDir); branch != "" {
		return branch, ""
	}
	commit, err := m.git(m.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", ""
	}
	return "", commit
}

// restoreHead checks out branch in the repository root, or detaches HEAD
// at commit when no branch was checked out. Nothing happens when both are
// empty.
func (m *Manager) restoreHead(branch, commit string) {
	if branch == "" {
		if commit == "" {
			return
		}
		if m.CurrentBranch(m.repoDir) == "" {
			if head, err := m.git(m.repoDir, "rev-parse", "HEAD"); err == nil && head == commit {
				return
			}
		}
		if _, err := m.git(m.repoDir, "checkout", "--detach", commit); err != nil {
			m.logger.Error("failed to restore detached HEAD", "commit", commit, "error", err.Error())
		}
		return
	}
	if m.CurrentBranch(m.repoDir) == branch {
		return
	}
	if _, err := m.git(m.repoDir, "checkout", branch); err != nil {
		m.logger.Error("failed to restore original branch", "branch", branch, "error", err.Error())
	}
}

// abortInProgress aborts a stopped merge or rebase in dir, ignoring errors.
func (m *Manager) abortInProgress(dir string, strategy Strategy) {
	switch strategy {
	case StrategyRebase:
		_, _ = m.git(dir, "rebase", "--abort")
	case StrategySquash:
		_, _ = m.git(dir, "reset", "--merge")
	default:
		if _, err := m.git(dir, "merge", "--abort"); err != nil {
			_, _ = m.git(dir, "reset", "--merge")
		}
	}
}

// SyncReport collects the results of a multi-branch sync.
type SyncReport struct {
	Results []*SyncResult
	// Skipped lists "branch <- upstream" pairs where a branch was missing.
	Skipped []string
	// Err is the first sync failure; later levels are not attempted.
	Err error
}

// SyncParentBranch syncs the task's parent branch with the level directly
// above it. In flat mode the parent is main and nothing is synced.
func (m *Manager) SyncParentBranch(bc BranchingContext, strategy Strategy) *SyncReport {
	chain := m.BranchHierarchy(bc)
	report := &SyncReport{}
	if len(chain) < 2 {
		return report
	}
	m.syncPair(report, chain[len(chain)-1], chain[len(chain)-2], strategy)
	return report
}

// SyncUpwardHierarchy syncs every level of the hierarchy from the top down
// to level, one level at a time: prd from main, then epic from prd. Pairs
// with a missing branch are skipped; a failed sync stops the walk.
func (m *Manager) SyncUpwardHierarchy(level Mode, bc BranchingContext, strategy Strategy) *SyncReport {
	chain := m.BranchHierarchy(bc)
	report := &SyncReport{}

	depth := len(chain)
	switch level {
	case ModePRD:
		depth = min(depth, 2)
	case ModeFlat:
		depth = 1
	}

	for i := 1; i < depth; i++ {
		if !m.syncPair(report, chain[i], chain[i-1], strategy) {
			break
		}
	}
	return report
}

// syncPair syncs branch from upstream into report and reports whether the
// walk may continue.
func (m *Manager) syncPair(report *SyncReport, branch, upstream string, strategy Strategy) bool {
	if !m.BranchExists(branch) || !m.BranchExists(upstream) {
		report.Skipped = append(report.Skipped, branch+" <- "+upstream)
		return true
	}
	res, err := m.SyncBranch(branch, upstream, strategy)
	report.Results = append(report.Results, res)
	if err != nil {
		report.Err = err
		return false
	}
	return true
}
