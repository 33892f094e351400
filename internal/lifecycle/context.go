package lifecycle

import (
	"time"

	"github.com/Iron-Ham/agentree/internal/worktree"
)

// Context carries the inputs of one Apply call and collects what its
// actions produced.
type Context struct {
	TaskID string
	// Record is the declared record. The updateState action mutates and
	// persists it. Apply creates an idle record when it is nil.
	Record *Record

	// Branching overrides the record's branching context when its Mode is set.
	Branching worktree.BranchingContext
	// BaseBranch overrides the branch the task is cut from and merged into.
	BaseBranch string
	// MergeStrategy overrides the configured merge strategy.
	MergeStrategy worktree.Strategy
	// MergeMessage is used for squash commits.
	MergeMessage string
	// KeepBranch makes deleteBranch a no-op.
	KeepBranch bool

	// Created is set by createWorktree.
	Created *worktree.CreateResult
	// Sync is set by createWorktree when the parent branch was synced.
	Sync *worktree.SyncReport
	// MergeOutcome is set by startMerge. A conflict is reported here, not
	// as an action failure.
	MergeOutcome *worktree.MergeResult
	// PID is set by spawnProcess.
	PID int

	pidKilled bool
	pending   *pendingTransition
}

// pendingTransition is what updateState records once the transition's
// earlier actions succeeded.
type pendingTransition struct {
	id       string
	from     State
	event    Event
	next     State
	worktree *WorktreeChange
	at       time.Time
}

// WorktreeChange is the worktree side of an applied transition.
type WorktreeChange struct {
	// From is the worktree state the record held before the transition.
	From WorktreeState
	To   WorktreeState
	// Drift is set when From did not match the transition's declared
	// source state. The transition is applied anyway.
	Drift bool
}

// Result describes a transition.
type Result struct {
	TransitionID string
	From         State
	Event        Event
	Next         State
	// Worktree is nil when the transition declares no worktree change.
	Worktree *WorktreeChange
	// Actions lists the actions that completed, in order. On an action
	// failure it holds the actions that ran before the failing one.
	Actions []ActionID
}
