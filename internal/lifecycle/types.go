// Package lifecycle implements the agent lifecycle state machine: a
// declarative (State, Event) transition table, named guards that gate each
// transition and named actions that carry it out against git, the process
// supervisor and the declared-state store.
//
// The machine is optimistic. It trusts the declared record and never
// inspects git to decide where an agent "really" is; the diagnosis package
// compares the declared record with reality.
package lifecycle

import (
	"fmt"
	"slices"
)

// State is an agent lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateDispatched State = "dispatched"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateKilled     State = "killed"
	StateMerging    State = "merging"
	StateConflict   State = "conflict"
	StateMerged     State = "merged"
	StateRejected   State = "rejected"
	StateError      State = "error"
)

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	return []State{
		StateIdle, StateDispatched, StateRunning, StateCompleted, StateFailed, StateKilled,
		StateMerging, StateConflict, StateMerged, StateRejected, StateError,
	}
}

// IsTerminal reports whether s accepts no further events.
func (s State) IsTerminal() bool {
	switch s {
	case StateMerged, StateRejected, StateError:
		return true
	default:
		return false
	}
}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	if slices.Contains(AllStates(), State(s)) {
		return State(s), nil
	}
	return "", fmt.Errorf("unknown agent state %q", s)
}

// WorktreeState classifies a task worktree.
type WorktreeState string

const (
	WorktreeNone      WorktreeState = "none"
	WorktreeClean     WorktreeState = "clean"
	WorktreeDirty     WorktreeState = "dirty"
	WorktreeCommitted WorktreeState = "committed"
	WorktreeConflict  WorktreeState = "conflict"
	WorktreeRemoved   WorktreeState = "removed"
)

// Event is something that happens to an agent.
type Event string

const (
	EventSpawn         Event = "spawn"
	EventStart         Event = "start"
	EventKill          Event = "kill"
	EventReject        Event = "reject"
	EventComplete      Event = "complete"
	EventFail          Event = "fail"
	EventMerge         Event = "merge"
	EventMergeOK       Event = "merge_ok"
	EventMergeConflict Event = "merge_conflict"
	EventResolve       Event = "resolve"
	EventAbort         Event = "abort"
	EventCleanup       Event = "cleanup"
)

// AllEvents returns every event.
func AllEvents() []Event {
	return []Event{
		EventSpawn, EventStart, EventKill, EventReject, EventComplete, EventFail,
		EventMerge, EventMergeOK, EventMergeConflict, EventResolve, EventAbort, EventCleanup,
	}
}

// ParseEvent validates an event name.
func ParseEvent(s string) (Event, error) {
	if slices.Contains(AllEvents(), Event(s)) {
		return Event(s), nil
	}
	return "", fmt.Errorf("unknown agent event %q", s)
}
