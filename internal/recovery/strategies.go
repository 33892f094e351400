package recovery

import "github.com/Iron-Ham/agentree/internal/worktree"

// MergeStrategy describes how a strategy integrates a source branch into
// a target and what an operator does when it stops on conflicts.
type MergeStrategy struct {
	Name        worktree.Strategy
	Description string
	// Command produces the integrating commit(s), run on the target.
	Command string
	// PreCommand runs first, in the source worktree. Empty for most strategies.
	PreCommand string
	// ConflictCategory selects the ErrorRecovery entry for a stopped merge.
	ConflictCategory Category
	// PreservesHistory is true when the source's individual commits survive.
	PreservesHistory bool
	// MergeCommit is true when a two-parent merge commit is created.
	MergeCommit bool
}

// Commands renders the strategy's commands in execution order.
func (s *MergeStrategy) Commands(p Params) []string {
	templates := []string{"git checkout {target}", s.Command}
	if s.PreCommand != "" {
		templates = append([]string{s.PreCommand}, templates...)
	}
	return Render(templates, p)
}

var strategyOrder = []worktree.Strategy{
	worktree.StrategyMerge,
	worktree.StrategySquash,
	worktree.StrategyRebase,
}

var mergeStrategies = map[worktree.Strategy]MergeStrategy{
	worktree.StrategyMerge: {
		Name:             worktree.StrategyMerge,
		Description:      "Merge the task branch with a merge commit",
		Command:          "git merge --no-edit {source}",
		ConflictCategory: CategoryMergeConflict,
		PreservesHistory: true,
		MergeCommit:      true,
	},
	worktree.StrategySquash: {
		Name:             worktree.StrategySquash,
		Description:      "Collapse the task branch into a single commit on the target",
		Command:          `git merge --squash {source} && git commit --no-verify -m "Merge {source} into {target}"`,
		ConflictCategory: CategoryMergeConflict,
	},
	worktree.StrategyRebase: {
		Name:             worktree.StrategyRebase,
		Description:      "Replay the task commits onto the target and fast-forward",
		PreCommand:       "git -C {path} rebase {target}",
		Command:          "git merge --ff-only {source}",
		ConflictCategory: CategoryRebaseConflict,
		PreservesHistory: true,
	},
}

// MergeStrategies returns every merge strategy in a fixed order.
func MergeStrategies() []MergeStrategy {
	out := make([]MergeStrategy, 0, len(strategyOrder))
	for _, name := range strategyOrder {
		out = append(out, mergeStrategies[name])
	}
	return out
}

// LookupMergeStrategy returns the named strategy, or nil and false for an
// unknown name.
func LookupMergeStrategy(name string) (*MergeStrategy, bool) {
	s, ok := mergeStrategies[worktree.Strategy(name)]
	if !ok {
		return nil, false
	}
	return &s, true
}
