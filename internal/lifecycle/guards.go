package lifecycle

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/agentree/internal/worktree"
)

// DefaultGuards returns the standard guard registry bound to d.
func DefaultGuards(d *Dependencies) Guards {
	return Guards{
		GuardHasGit: func(c *Context) GuardResult {
			if !d.Worktrees.HasGit() {
				return fail("git executable not found on PATH")
			}
			return pass()
		},

		GuardHasGitRepo: func(c *Context) GuardResult {
			if !d.Worktrees.IsGitRepo() {
				return fail("not inside a git repository")
			}
			return pass()
		},

		GuardNoExistingWorktree: func(c *Context) GuardResult {
			path := d.Worktrees.WorktreePath(c.TaskID)
			if d.Worktrees.WorktreeExists(c.TaskID) {
				return fail(fmt.Sprintf("worktree for %s already exists at %s", c.TaskID, path))
			}
			if _, err := os.Stat(path); err == nil {
				return fail(fmt.Sprintf("worktree path %s is already occupied", path))
			}
			return pass()
		},

		GuardBranchAvailable: func(c *Context) GuardResult {
			branch := worktree.TaskBranch(c.TaskID)
			if !d.Worktrees.BranchExists(branch) {
				return pass()
			}
			base := d.baseBranch(c)
			if div := d.Worktrees.BranchDivergence(branch, base); div.Ahead > 0 {
				return fail(fmt.Sprintf("branch %s has %d commit(s) ahead of %s", branch, div.Ahead, base))
			}
			return pass()
		},

		GuardWorktreeExists: func(c *Context) GuardResult {
			if !d.Worktrees.WorktreeExists(c.TaskID) {
				return fail(fmt.Sprintf("worktree for %s does not exist at %s", c.TaskID, d.worktreePath(c)))
			}
			return pass()
		},

		GuardHasCommits: func(c *Context) GuardResult {
			branch := worktree.TaskBranch(c.TaskID)
			base := d.baseBranch(c)
			if div := d.Worktrees.BranchDivergence(branch, base); div.Ahead < 1 {
				return fail(fmt.Sprintf("branch %s has no commits ahead of %s", branch, base))
			}
			return pass()
		},

		GuardWorktreeClean: func(c *Context) GuardResult {
			path := d.worktreePath(c)
			if !d.Worktrees.IsClean(path) {
				return fail(fmt.Sprintf("worktree %s has uncommitted changes", path))
			}
			return pass()
		},

		GuardConflictResolved: func(c *Context) GuardResult {
			dir := d.worktreePath(c)
			if c.Record != nil && c.Record.Merge != nil && c.Record.Merge.Dir != "" {
				dir = c.Record.Merge.Dir
			}
			if files := d.Worktrees.UnmergedFiles(dir); len(files) > 0 {
				return fail(fmt.Sprintf("%d unresolved file(s) in %s: %s", len(files), dir, strings.Join(files, ", ")))
			}
			return pass()
		},
	}
}
