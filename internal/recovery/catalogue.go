package recovery

// Category names a known failure mode with a recovery recipe.
type Category string

const (
	CategoryWorktreeExists  Category = "worktree_exists"
	CategoryBranchExists    Category = "branch_exists"
	CategoryMergeConflict   Category = "merge_conflict"
	CategoryRebaseConflict  Category = "rebase_conflict"
	CategoryDirtyWorktree   Category = "dirty_worktree"
	CategoryWorktreeMissing Category = "worktree_missing"
	CategoryBranchMissing   Category = "branch_missing"
	CategoryNoGit           Category = "no_git"
	CategoryNotGitRepo      Category = "not_git_repo"
	CategoryLockConflict    Category = "lock_conflict"
	CategoryDetachedHead    Category = "detached_head"
)

// ErrorRecovery is the remediation recipe for one Category.
type ErrorRecovery struct {
	Category    Category
	Description string
	// Actions is the primary sequence of steps, in order.
	Actions []string
	// Alternatives are other ways out when the primary steps do not fit.
	Alternatives []string
	// Commands are command templates; see Render for the placeholders.
	Commands []string
}

// RenderCommands returns the recovery commands with p substituted.
func (r *ErrorRecovery) RenderCommands(p Params) []string {
	return Render(r.Commands, p)
}

var categoryOrder = []Category{
	CategoryWorktreeExists,
	CategoryBranchExists,
	CategoryMergeConflict,
	CategoryRebaseConflict,
	CategoryDirtyWorktree,
	CategoryWorktreeMissing,
	CategoryBranchMissing,
	CategoryNoGit,
	CategoryNotGitRepo,
	CategoryLockConflict,
	CategoryDetachedHead,
}

var errorRecovery = map[Category]ErrorRecovery{
	CategoryWorktreeExists: {
		Description: "A worktree already occupies the task's worktree path.",
		Actions: []string{
			"Check the existing worktree for work that has not been committed",
			"Remove the worktree if it belongs to an abandoned run",
		},
		Alternatives: []string{"Start the agent again in the existing worktree"},
		Commands: []string{
			"git -C {path} status --short",
			"agentree worktree remove {task}",
			"git worktree prune",
		},
	},
	CategoryBranchExists: {
		Description: "The task branch already exists and has commits that are not on {base}.",
		Actions: []string{
			"Review the commits on the existing branch",
			"Merge them or delete the branch before spawning again",
		},
		Alternatives: []string{"Spawn the task under a new task ID"},
		Commands: []string{
			"git log --oneline {base}..{branch}",
			"agentree agent merge {task}",
			"git branch -D {branch}",
		},
	},
	CategoryMergeConflict: {
		Description: "Merging {source} into {target} stopped on conflicting files.",
		Actions: []string{
			"List the conflicting files",
			"Edit each file to remove the conflict markers",
			"Stage the resolved files",
			"Mark the conflict resolved so the merge can finish",
		},
		Alternatives: []string{
			"Abort the merge and return the agent to completed",
			"Reject the task and discard its branch",
		},
		Commands: []string{
			"git -C {path} diff --name-only --diff-filter=U",
			"git -C {path} add -A",
			"agentree agent resolve {task}",
			"agentree agent abort {task}",
		},
	},
	CategoryRebaseConflict: {
		Description: "Rebasing {source} onto {target} stopped on a conflicting commit.",
		Actions: []string{
			"List the conflicting files in the task worktree",
			"Resolve them and stage the result",
			"Continue the rebase",
		},
		Alternatives: []string{"Abort the rebase and merge with the merge strategy instead"},
		Commands: []string{
			"git -C {path} status --short",
			"git -C {path} add -A",
			"agentree agent resolve {task}",
			"agentree agent abort {task}",
		},
	},
	CategoryDirtyWorktree: {
		Description: "The task worktree has uncommitted changes.",
		Actions: []string{
			"Inspect the uncommitted changes",
			"Commit them on the task branch",
		},
		Alternatives: []string{"Stash the changes", "Discard the changes"},
		Commands: []string{
			"git -C {path} status --short",
			`git -C {path} add -A && git -C {path} commit -m "Finish {task}"`,
			"git -C {path} stash --include-untracked",
		},
	},
	CategoryWorktreeMissing: {
		Description: "The recorded worktree for the task is not on disk.",
		Actions: []string{
			"Drop stale worktree metadata",
			"Clean up the task if its work is lost, or create the worktree again",
		},
		Alternatives: []string{"Recreate the worktree from the existing task branch"},
		Commands: []string{
			"git worktree prune",
			"agentree agent cleanup {task}",
			"agentree worktree create --existing {task}",
		},
	},
	CategoryBranchMissing: {
		Description: "Branch {branch} does not exist.",
		Actions: []string{
			"Create the missing branch from {base}",
			"Sync the hierarchy so every level exists",
		},
		Alternatives: []string{"Switch the branching mode to flat"},
		Commands: []string{
			"git branch {branch} {base}",
			"agentree sync parent {task}",
		},
	},
	CategoryNoGit: {
		Description: "The git executable could not be found.",
		Actions: []string{
			"Install git",
			"Make sure git is on PATH",
		},
		Commands: []string{"git --version"},
	},
	CategoryNotGitRepo: {
		Description: "The current directory is not inside a git repository.",
		Actions: []string{
			"Change to the project's repository",
			"Initialize a repository if the project has none",
		},
		Commands: []string{
			"git rev-parse --show-toplevel",
			"git init",
		},
	},
	CategoryLockConflict: {
		Description: "Another git process holds a repository lock.",
		Actions: []string{
			"Wait for the other git process to finish and retry",
			"Remove the lock file only if no git process is running",
		},
		Commands: []string{
			"pgrep -fl git",
			"rm -f .git/index.lock",
		},
	},
	CategoryDetachedHead: {
		Description: "The worktree is not on a branch (detached HEAD).",
		Actions: []string{
			"Switch the worktree back to the task branch",
		},
		Alternatives: []string{"Create the task branch at the current commit"},
		Commands: []string{
			"git -C {path} switch {branch}",
			"git -C {path} switch -c {branch}",
		},
	},
}

// Categories returns every category in a fixed order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

// LookupErrorRecovery returns the recipe for category, or nil and false
// for an unknown category.
func LookupErrorRecovery(category string) (*ErrorRecovery, bool) {
	r, ok := errorRecovery[Category(category)]
	if !ok {
		return nil, false
	}
	r.Category = Category(category)
	return &r, true
}
