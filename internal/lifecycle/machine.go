package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/event"
	"github.com/Iron-Ham/agentree/internal/logging"
)

// Machine applies events to agent states using a transition table and
// resolved guard and action registries. It is safe for concurrent use as
// long as concurrent calls use different Contexts.
type Machine struct {
	table   Table
	guards  Guards
	actions Actions
	bus     *event.Bus
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Machine.
type Option func(*Machine)

// WithBus publishes transition events on bus.
func WithBus(bus *event.Bus) Option {
	return func(m *Machine) { m.bus = bus }
}

// WithLogger sets the machine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock sets the time source for history entries.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator replaces the transition ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// NewMachine validates table against the registries and returns a Machine.
// It fails if the table names a guard or action that is not registered, if
// a terminal state has outgoing transitions, or if a transition targets an
// unknown state.
func NewMachine(table Table, guards Guards, actions Actions, opts ...Option) (*Machine, error) {
	if err := validateTable(table, guards, actions); err != nil {
		return nil, err
	}

	m := &Machine{
		table:   table,
		guards:  guards,
		actions: actions,
		logger:  logging.NopLogger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("lifecycle")
	return m, nil
}

// NewDefaultMachine builds the standard machine over d.
func NewDefaultMachine(d *Dependencies, opts ...Option) (*Machine, error) {
	if d.Logger != nil {
		opts = append([]Option{WithLogger(d.Logger)}, opts...)
	}
	if d.Now != nil {
		opts = append([]Option{WithClock(d.Now)}, opts...)
	}
	return NewMachine(DefaultTable(), DefaultGuards(d), DefaultActions(d), opts...)
}

func validateTable(table Table, guards Guards, actions Actions) error {
	var errs []error
	for _, from := range sortedStates(table) {
		if _, err := ParseState(string(from)); err != nil {
			errs = append(errs, err)
		}
		events := table[from]
		if from.IsTerminal() && len(events) > 0 {
			errs = append(errs, fmt.Errorf("terminal state %s has outgoing transitions", from))
		}
		for _, ev := range table.Events(from) {
			spec := events[ev]
			if _, err := ParseState(string(spec.Next)); err != nil {
				errs = append(errs, fmt.Errorf("%s --%s-->: %w", from, ev, err))
			}
			for _, g := range spec.Guards {
				if f, ok := guards[g]; !ok || f == nil {
					errs = append(errs, fmt.Errorf("%w %q in %s --%s-->", errors.ErrUnknownGuard, g, from, ev))
				}
			}
			for _, a := range spec.Actions {
				if f, ok := actions[a]; !ok || f == nil {
					errs = append(errs, fmt.Errorf("%w %q in %s --%s-->", errors.ErrUnknownAction, a, from, ev))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Table returns the machine's transition table.
func (m *Machine) Table() Table { return m.table }

// Can reports whether (s, e) is a declared transition. Guards are not
// evaluated.
func (m *Machine) Can(s State, e Event) bool {
	_, ok := m.table.Lookup(s, e)
	return ok
}

// Apply applies ev to current.
//
// An undeclared (current, ev) pair fails with an invalid-transition error.
// Guards run in order and the first failure stops the transition before
// any action runs. Actions run in order; the first failure stops the
// chain and is returned together with a Result listing the actions that
// completed. Completed actions are not rolled back.
func (m *Machine) Apply(current State, ev Event, c *Context) (*Result, error) {
	if c == nil {
		return nil, errors.NewValidationError("transition context is required")
	}
	if c.Record == nil {
		c.Record = NewRecord(c.TaskID, m.now())
	}
	if c.TaskID == "" {
		c.TaskID = c.Record.TaskID
	}
	log := m.logger.WithTask(c.TaskID).WithEvent(string(ev))

	spec, ok := m.table.Lookup(current, ev)
	if !ok {
		err := errors.NewInvalidTransitionError(string(current), string(ev)).WithTask(c.TaskID)
		m.failed(log, c, current, ev, err, "")
		return nil, err
	}

	for _, g := range spec.Guards {
		if res := m.guards[g](c); !res.Passed {
			err := errors.NewGuardFailedError(string(current), string(ev), string(g), res.Reason).WithTask(c.TaskID)
			m.failed(log, c, current, ev, err, string(g))
			return nil, err
		}
	}

	result := &Result{
		TransitionID: m.newID(),
		From:         current,
		Event:        ev,
		Next:         spec.Next,
	}
	if spec.Worktree != nil {
		recorded := c.Record.Worktree
		if recorded == "" {
			recorded = WorktreeNone
		}
		result.Worktree = &WorktreeChange{
			From:  recorded,
			To:    spec.Worktree.To,
			Drift: !spec.Worktree.From.Matches(recorded),
		}
		if result.Worktree.Drift {
			log.Warn("worktree state differs from transition source",
				"expected", spec.Worktree.From.String(), "recorded", string(recorded))
			m.bus.Publish(event.NewWorktreeDriftEvent(c.TaskID, spec.Worktree.From.String(), string(recorded)))
		}
	}

	c.pending = &pendingTransition{
		id:       result.TransitionID,
		from:     current,
		event:    ev,
		next:     spec.Next,
		worktree: result.Worktree,
		at:       m.now(),
	}
	defer func() { c.pending = nil }()

	for _, a := range spec.Actions {
		if err := m.actions[a](c); err != nil {
			terr := errors.NewActionFailedError(string(current), string(ev), string(a), err).WithTask(c.TaskID)
			m.failed(log, c, current, ev, terr, string(a))
			return result, terr
		}
		result.Actions = append(result.Actions, a)
	}

	log.Info("transition applied",
		"transition_id", result.TransitionID,
		"from", string(current),
		"to", string(spec.Next))
	m.bus.Publish(transitionedEvent(c.TaskID, result))
	return result, nil
}

func (m *Machine) failed(log *logging.Logger, c *Context, current State, ev Event, err *errors.TransitionError, step string) {
	log.Warn("transition failed",
		"kind", err.Kind.String(),
		"from", string(current),
		"step", step,
		"error", err.Error())
	m.bus.Publish(event.NewTransitionFailedEvent(c.TaskID, string(current), string(ev), err.Kind.String(), step, err))
}

func transitionedEvent(taskID string, r *Result) event.TransitionedEvent {
	e := event.NewTransitionedEvent(r.TransitionID, taskID, string(r.From), string(r.Event), string(r.Next))
	if r.Worktree != nil {
		e.WorktreeFrom = string(r.Worktree.From)
		e.WorktreeTo = string(r.Worktree.To)
	}
	for _, a := range r.Actions {
		e.Actions = append(e.Actions, string(a))
	}
	return e
}
