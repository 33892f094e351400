package worktree

import (
	"os"
	"path/filepath"
)

// The queries in this file never return errors. A failing git command is
// reported as false, zero or empty so that guards and diagnosis can treat
// "cannot tell" the same as "no".

// Divergence counts commits on each side of two refs.
type Divergence struct {
	// Ahead is the number of commits on the branch that are not on the base.
	Ahead int
	// Behind is the number of commits on the base that are not on the branch.
	Behind int
}

// BranchExists reports whether refs/heads/<branch> exists.
func (m *Manager) BranchExists(branch string) bool {
	if branch == "" {
		return false
	}
	return m.gitOK(m.repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (m *Manager) IsAncestor(ancestor, descendant string) bool {
	return m.gitOK(m.repoDir, "merge-base", "--is-ancestor", ancestor, descendant)
}

// BranchDivergence returns how far branch is ahead of and behind base.
// It returns a zero Divergence when either ref cannot be resolved.
func (m *Manager) BranchDivergence(branch, base string) Divergence {
	out, err := m.git(m.repoDir, "rev-list", "--left-right", "--count", base+"..."+branch)
	if err != nil {
		return Divergence{}
	}
	behind, ahead, ok := parseLeftRight(out)
	if !ok {
		return Divergence{}
	}
	return Divergence{Ahead: ahead, Behind: behind}
}

// WorktreeExists reports whether the task's worktree is both registered
// with git and present on disk.
func (m *Manager) WorktreeExists(taskID string) bool {
	path := m.WorktreePath(taskID)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	worktrees, err := m.ListWorktrees()
	if err != nil {
		return false
	}
	for _, wt := range worktrees {
		if samePath(wt.Path, path) {
			return true
		}
	}
	return false
}

// CurrentBranch returns the branch checked out in dir, or "" when HEAD is
// detached or dir is not a checkout.
func (m *Manager) CurrentBranch(dir string) string {
	out, err := m.git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

// IsClean reports whether dir has no staged, unstaged or untracked changes.
// A directory whose status cannot be read is not clean.
func (m *Manager) IsClean(dir string) bool {
	status, err := m.Status(dir)
	return err == nil && status.Clean()
}

// UnmergedFiles lists paths with unresolved conflicts in dir.
func (m *Manager) UnmergedFiles(dir string) []string {
	out, err := m.git(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	return splitNonEmpty(out)
}

// GitDir returns the absolute private git directory for the checkout at dir.
// For a linked worktree this is <repo>/.git/worktrees/<name>.
func (m *Manager) GitDir(dir string) string {
	out, err := m.git(dir, "rev-parse", "--git-dir")
	if err != nil || out == "" {
		return ""
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(dir, out)
	}
	return out
}

// MergeInProgress reports whether a merge is stopped in dir (MERGE_HEAD exists).
func (m *Manager) MergeInProgress(dir string) bool {
	gitDir := m.GitDir(dir)
	return gitDir != "" && exists(filepath.Join(gitDir, "MERGE_HEAD"))
}

// RebaseInProgress reports whether a rebase is stopped in dir.
func (m *Manager) RebaseInProgress(dir string) bool {
	gitDir := m.GitDir(dir)
	if gitDir == "" {
		return false
	}
	return exists(filepath.Join(gitDir, "rebase-merge")) || exists(filepath.Join(gitDir, "rebase-apply"))
}

// Status returns the classified porcelain status of dir. Unlike the other
// queries it reports failures, since callers need to tell "clean" from
// "unreadable".
func (m *Manager) Status(dir string) (*StatusSummary, error) {
	out, err := m.gitRaw(dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParsePorcelain(out), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// samePath compares two paths after cleaning and, when possible, resolving
// symlinks (git reports real paths; temp dirs are often symlinked).
func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
