package lifecycle

import (
	"time"

	"github.com/Iron-Ham/agentree/internal/logging"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// GuardResult is the verdict of a guard. Reason explains a failure.
type GuardResult struct {
	Passed bool
	Reason string
}

func pass() GuardResult { return GuardResult{Passed: true} }

func fail(reason string) GuardResult { return GuardResult{Reason: reason} }

// GuardFunc evaluates a precondition. Guards must not mutate anything.
type GuardFunc func(c *Context) GuardResult

// ActionFunc performs one side effect of a transition. Actions must
// tolerate being run again after a later action of the same transition
// failed.
type ActionFunc func(c *Context) error

// Guards is a guard registry.
type Guards map[GuardID]GuardFunc

// Actions is an action registry.
type Actions map[ActionID]ActionFunc

// Dependencies are the collaborators the default guards and actions use.
type Dependencies struct {
	Worktrees  worktree.Operations
	Store      Store
	Supervisor Supervisor

	// Branching is used when neither the Context nor the Record sets one.
	Branching worktree.BranchingContext
	// SyncBeforeSpawn syncs the task's parent branch one level before
	// creating its worktree.
	SyncBeforeSpawn bool
	SyncStrategy    worktree.Strategy
	MergeStrategy   worktree.Strategy

	Logger *logging.Logger
	Now    func() time.Time
}

func (d *Dependencies) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.NopLogger()
	}
	return d.Logger
}

func (d *Dependencies) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// branching resolves the branching context for c.
func (d *Dependencies) branching(c *Context) worktree.BranchingContext {
	if c.Branching.Mode != "" {
		return c.Branching
	}
	if c.Record != nil && c.Record.Branching.Mode != "" {
		return c.Record.Branching
	}
	if d.Branching.Mode == "" {
		bc := d.Branching
		bc.Mode = worktree.ModeFlat
		return bc
	}
	return d.Branching
}

// baseBranch resolves the branch the task is cut from and merged into.
func (d *Dependencies) baseBranch(c *Context) string {
	if c.BaseBranch != "" {
		return c.BaseBranch
	}
	if c.Record != nil && c.Record.BaseBranch != "" {
		return c.Record.BaseBranch
	}
	return d.Worktrees.ParentBranch(d.branching(c))
}

// worktreePath resolves the task worktree directory.
func (d *Dependencies) worktreePath(c *Context) string {
	if c.Record != nil && c.Record.WorktreePath != "" {
		return c.Record.WorktreePath
	}
	return d.Worktrees.WorktreePath(c.TaskID)
}
