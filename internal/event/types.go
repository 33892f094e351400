// Package event carries lifecycle notifications from the state machine to
// whoever is interested (the CLI renderer, the debug log, the watcher)
// without those components depending on each other.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "agent.transitioned".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeTransitioned     = "agent.transitioned"
	TypeTransitionFailed = "agent.transition_failed"
	TypeWorktreeDrift    = "worktree.drift"
	TypeDiagnosed        = "agent.diagnosed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// TransitionedEvent is published after a transition's actions all succeeded.
type TransitionedEvent struct {
	baseEvent
	TransitionID string
	TaskID       string
	From         string
	Event        string
	To           string
	// WorktreeFrom and WorktreeTo are empty when the transition declares
	// no worktree change.
	WorktreeFrom string
	WorktreeTo   string
	Actions      []string
}

// NewTransitionedEvent creates a TransitionedEvent.
func NewTransitionedEvent(transitionID, taskID, from, ev, to string) TransitionedEvent {
	return TransitionedEvent{
		baseEvent:    newBaseEvent(TypeTransitioned),
		TransitionID: transitionID,
		TaskID:       taskID,
		From:         from,
		Event:        ev,
		To:           to,
	}
}

// TransitionFailedEvent is published when a transition is rejected or an
// action fails part way.
type TransitionFailedEvent struct {
	baseEvent
	TaskID string
	From   string
	Event  string
	// Kind is invalid_transition, guard_failed or action_failed.
	Kind string
	// Step is the failing guard or action name, if any.
	Step string
	Err  error
}

// NewTransitionFailedEvent creates a TransitionFailedEvent.
func NewTransitionFailedEvent(taskID, from, ev, kind, step string, err error) TransitionFailedEvent {
	return TransitionFailedEvent{
		baseEvent: newBaseEvent(TypeTransitionFailed),
		TaskID:    taskID,
		From:      from,
		Event:     ev,
		Kind:      kind,
		Step:      step,
		Err:       err,
	}
}

// WorktreeDriftEvent is published when a transition's declared worktree
// source state did not match the recorded worktree state.
type WorktreeDriftEvent struct {
	baseEvent
	TaskID   string
	Expected string
	Recorded string
}

// NewWorktreeDriftEvent creates a WorktreeDriftEvent.
func NewWorktreeDriftEvent(taskID, expected, recorded string) WorktreeDriftEvent {
	return WorktreeDriftEvent{
		baseEvent: newBaseEvent(TypeWorktreeDrift),
		TaskID:    taskID,
		Expected:  expected,
		Recorded:  recorded,
	}
}

// DiagnosedEvent is published when a diagnosis run finishes for one task.
type DiagnosedEvent struct {
	baseEvent
	TaskID        string
	AgentState    string
	WorktreeState string
	Issues        []string
}

// NewDiagnosedEvent creates a DiagnosedEvent.
func NewDiagnosedEvent(taskID, agentState, worktreeState string, issues []string) DiagnosedEvent {
	return DiagnosedEvent{
		baseEvent:     newBaseEvent(TypeDiagnosed),
		TaskID:        taskID,
		AgentState:    agentState,
		WorktreeState: worktreeState,
		Issues:        issues,
	}
}
