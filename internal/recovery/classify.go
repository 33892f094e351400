package recovery

import (
	"slices"
	"strings"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// guardCategories maps a failed guard to the recipe that clears it.
var guardCategories = map[string]Category{
	"hasGit":             CategoryNoGit,
	"hasGitRepo":         CategoryNotGitRepo,
	"noExistingWorktree": CategoryWorktreeExists,
	"branchAvailable":    CategoryBranchExists,
	"worktreeExists":     CategoryWorktreeMissing,
	"worktreeClean":      CategoryDirtyWorktree,
	"conflictResolved":   CategoryMergeConflict,
}

// sentinelCategories is checked in order; the first match wins.
var sentinelCategories = []struct {
	sentinel error
	category Category
}{
	{errors.ErrGitNotFound, CategoryNoGit},
	{errors.ErrNotGitRepository, CategoryNotGitRepo},
	{errors.ErrLockConflict, CategoryLockConflict},
	{errors.ErrWorktreeExists, CategoryWorktreeExists},
	{errors.ErrBranchHasCommits, CategoryBranchExists},
	{errors.ErrBranchExists, CategoryBranchExists},
	{errors.ErrDirtyWorktree, CategoryDirtyWorktree},
	{errors.ErrWorktreeNotFound, CategoryWorktreeMissing},
	{errors.ErrStaleReference, CategoryWorktreeMissing},
	{errors.ErrBranchNotFound, CategoryBranchMissing},
	{errors.ErrDetachedHead, CategoryDetachedHead},
}

// Classify maps an error to the recovery category that addresses it.
// Guard failures are classified by guard name, everything else by the
// sentinel errors in its chain. It reports false when no category applies.
func Classify(err error) (Category, bool) {
	if err == nil {
		return "", false
	}

	var terr *errors.TransitionError
	if errors.As(err, &terr) && terr.Kind == errors.KindGuardFailed {
		c, ok := guardCategories[terr.Guard]
		return c, ok
	}

	if errors.Is(err, errors.ErrConflictDetected) {
		if isRebase(err) {
			return CategoryRebaseConflict, true
		}
		return CategoryMergeConflict, true
	}
	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.sentinel) {
			return sc.category, true
		}
	}
	return "", false
}

// isRebase reports whether a conflict came from a rebase rather than a merge.
func isRebase(err error) bool {
	var gerr *errors.GitError
	if errors.As(err, &gerr) && slices.Contains(gerr.Args, "rebase") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rebase")
}

// Remediation classifies err and renders the matching recovery commands.
// It returns nil when err has no known category.
func Remediation(err error, p Params) (*ErrorRecovery, []string) {
	category, ok := Classify(err)
	if !ok {
		return nil, nil
	}
	r, ok := LookupErrorRecovery(string(category))
	if !ok {
		return nil, nil
	}
	return r, r.RenderCommands(p)
}
