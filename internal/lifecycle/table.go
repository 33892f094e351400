package lifecycle

import "sort"

// GuardID names a precondition registered with the machine.
type GuardID string

const (
	GuardHasGit             GuardID = "hasGit"
	GuardHasGitRepo         GuardID = "hasGitRepo"
	GuardNoExistingWorktree GuardID = "noExistingWorktree"
	GuardBranchAvailable    GuardID = "branchAvailable"
	GuardWorktreeExists     GuardID = "worktreeExists"
	GuardHasCommits         GuardID = "hasCommits"
	GuardWorktreeClean      GuardID = "worktreeClean"
	GuardConflictResolved   GuardID = "conflictResolved"
)

// ActionID names a side effect registered with the machine.
type ActionID string

const (
	ActionCreateWorktree   ActionID = "createWorktree"
	ActionSpawnProcess     ActionID = "spawnProcess"
	ActionKillProcess      ActionID = "killProcess"
	ActionRemoveWorktree   ActionID = "removeWorktree"
	ActionDeleteBranch     ActionID = "deleteBranch"
	ActionUpdateState      ActionID = "updateState"
	ActionStartMerge       ActionID = "startMerge"
	ActionAbortMerge       ActionID = "abortMerge"
	ActionCommitResolution ActionID = "commitResolution"
	ActionContinueMerge    ActionID = "continueMerge"
)

// WorktreeMatch is the source side of a worktree transition: either a
// specific state or the wildcard AnyWorktree.
type WorktreeMatch struct {
	any   bool
	state WorktreeState
}

// AnyWorktree matches every worktree state.
var AnyWorktree = WorktreeMatch{any: true}

// WorktreeIs matches exactly s.
func WorktreeIs(s WorktreeState) WorktreeMatch {
	return WorktreeMatch{state: s}
}

// IsAny reports whether m is the wildcard.
func (m WorktreeMatch) IsAny() bool { return m.any }

// State returns the matched state; empty for the wildcard.
func (m WorktreeMatch) State() WorktreeState { return m.state }

// Matches reports whether s satisfies m.
func (m WorktreeMatch) Matches(s WorktreeState) bool {
	return m.any || m.state == s
}

func (m WorktreeMatch) String() string {
	if m.any {
		return "*"
	}
	return string(m.state)
}

// WorktreeTransition is the worktree state change a lifecycle transition
// implies.
type WorktreeTransition struct {
	From WorktreeMatch
	To   WorktreeState
}

// TransitionSpec is one row of the transition table. It is pure data; the
// guard and action names are resolved when a Machine is built.
type TransitionSpec struct {
	Next     State
	Guards   []GuardID
	Actions  []ActionID
	Worktree *WorktreeTransition
}

// Table maps (State, Event) to the transition it triggers. A pair missing
// from the table is an invalid transition.
type Table map[State]map[Event]TransitionSpec

// Lookup returns the transition for (s, e).
func (t Table) Lookup(s State, e Event) (TransitionSpec, bool) {
	spec, ok := t[s][e]
	return spec, ok
}

// Events returns the events s accepts, sorted.
func (t Table) Events(s State) []Event {
	events := make([]Event, 0, len(t[s]))
	for e := range t[s] {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

func wt(from WorktreeMatch, to WorktreeState) *WorktreeTransition {
	return &WorktreeTransition{From: from, To: to}
}

// DefaultTable returns the standard agent lifecycle.
func DefaultTable() Table {
	teardown := []ActionID{ActionRemoveWorktree, ActionDeleteBranch, ActionUpdateState}
	failedTeardown := append([]ActionID{ActionKillProcess}, teardown...)

	return Table{
		StateIdle: {
			EventSpawn: {
				Next:     StateDispatched,
				Guards:   []GuardID{GuardHasGit, GuardHasGitRepo, GuardNoExistingWorktree, GuardBranchAvailable},
				Actions:  []ActionID{ActionCreateWorktree, ActionUpdateState},
				Worktree: wt(WorktreeIs(WorktreeNone), WorktreeClean),
			},
		},
		StateDispatched: {
			EventStart: {
				Next:    StateRunning,
				Guards:  []GuardID{GuardWorktreeExists},
				Actions: []ActionID{ActionSpawnProcess, ActionUpdateState},
			},
			EventKill: {Next: StateKilled, Actions: []ActionID{ActionKillProcess, ActionUpdateState}},
			EventFail: {Next: StateFailed, Actions: []ActionID{ActionUpdateState}},
		},
		StateRunning: {
			EventComplete: {
				Next:     StateCompleted,
				Guards:   []GuardID{GuardWorktreeExists, GuardHasCommits},
				Actions:  []ActionID{ActionUpdateState},
				Worktree: wt(WorktreeIs(WorktreeClean), WorktreeCommitted),
			},
			EventFail: {Next: StateFailed, Actions: []ActionID{ActionKillProcess, ActionUpdateState}},
			EventKill: {Next: StateKilled, Actions: []ActionID{ActionKillProcess, ActionUpdateState}},
		},
		StateCompleted: {
			EventMerge: {
				Next:    StateMerging,
				Guards:  []GuardID{GuardWorktreeExists, GuardWorktreeClean, GuardHasCommits},
				Actions: []ActionID{ActionStartMerge, ActionUpdateState},
			},
			EventReject: {Next: StateRejected, Actions: teardown, Worktree: wt(AnyWorktree, WorktreeRemoved)},
		},
		StateFailed: {
			EventReject:  {Next: StateRejected, Actions: failedTeardown, Worktree: wt(AnyWorktree, WorktreeRemoved)},
			EventCleanup: {Next: StateRejected, Actions: failedTeardown, Worktree: wt(AnyWorktree, WorktreeRemoved)},
		},
		StateKilled: {
			EventReject:  {Next: StateRejected, Actions: teardown, Worktree: wt(AnyWorktree, WorktreeRemoved)},
			EventCleanup: {Next: StateRejected, Actions: teardown, Worktree: wt(AnyWorktree, WorktreeRemoved)},
		},
		StateMerging: {
			EventMergeOK: {
				Next:     StateMerged,
				Actions:  teardown,
				Worktree: wt(WorktreeIs(WorktreeCommitted), WorktreeRemoved),
			},
			EventMergeConflict: {
				Next:     StateConflict,
				Actions:  []ActionID{ActionUpdateState},
				Worktree: wt(WorktreeIs(WorktreeCommitted), WorktreeConflict),
			},
			EventAbort: {Next: StateCompleted, Actions: []ActionID{ActionAbortMerge, ActionUpdateState}},
			EventFail:  {Next: StateError, Actions: []ActionID{ActionAbortMerge, ActionUpdateState}},
		},
		StateConflict: {
			EventResolve: {
				Next:     StateMerging,
				Guards:   []GuardID{GuardConflictResolved},
				Actions:  []ActionID{ActionCommitResolution, ActionContinueMerge, ActionUpdateState},
				Worktree: wt(WorktreeIs(WorktreeConflict), WorktreeCommitted),
			},
			EventAbort: {
				Next:     StateCompleted,
				Actions:  []ActionID{ActionAbortMerge, ActionUpdateState},
				Worktree: wt(WorktreeIs(WorktreeConflict), WorktreeCommitted),
			},
			EventReject: {
				Next:     StateRejected,
				Actions:  []ActionID{ActionAbortMerge, ActionRemoveWorktree, ActionDeleteBranch, ActionUpdateState},
				Worktree: wt(AnyWorktree, WorktreeRemoved),
			},
		},
	}
}
