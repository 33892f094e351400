// Package errors provides the error taxonomy for agentree: transition errors
// raised by the lifecycle state machine, git errors raised by worktree and
// branch operations, semantic errors shared across packages, and
// classification helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - TransitionError: a rejected or failed lifecycle transition. Its Kind is
//     one of InvalidTransition, GuardFailed or ActionFailed.
//   - GitError: a git subprocess failed (GitCommandFailed). Carries the
//     arguments and captured output.
//
// Semantic errors:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists).
//		WithBranch("task/T001").
//		WithWorktree("/repo/.agentree/worktrees/T001")
//
//	if errors.Is(err, errors.ErrWorktreeExists) { ... }
//
//	var terr *errors.TransitionError
//	if errors.As(err, &terr) && terr.Kind == errors.KindGuardFailed { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lifecycle sentinel errors
var (
	// ErrInvalidTransition indicates that no transition is declared for a
	// (state, event) pair.
	ErrInvalidTransition = New("invalid transition")
	// ErrGuardFailed indicates that a guard rejected a transition.
	ErrGuardFailed = New("guard failed")
	// ErrActionFailed indicates that an action in a transition's chain failed.
	ErrActionFailed = New("action failed")
	// ErrUnknownGuard indicates that a transition names a guard that is not registered.
	ErrUnknownGuard = New("unknown guard")
	// ErrUnknownAction indicates that a transition names an action that is not registered.
	ErrUnknownAction = New("unknown action")
	// ErrRecordNotFound indicates that no declared record exists for a task.
	ErrRecordNotFound = New("record not found")
)

// Git-related sentinel errors
var (
	// ErrGitNotFound indicates that the git executable is not available.
	ErrGitNotFound = New("git executable not found")
	// ErrGitCommandFailed indicates that a git subprocess exited non-zero.
	ErrGitCommandFailed = New("git command failed")
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
	// ErrBranchHasCommits indicates that an existing branch carries commits
	// ahead of its base and cannot be recreated.
	ErrBranchHasCommits = New("branch has commits ahead of base")
	// ErrConflictDetected indicates that a merge or rebase stopped on conflicts.
	ErrConflictDetected = New("conflict detected")
	// ErrDirtyWorktree indicates that the worktree has uncommitted changes.
	ErrDirtyWorktree = New("worktree has uncommitted changes")
	// ErrLockConflict indicates that git could not take one of its lock files.
	ErrLockConflict = New("git lock conflict")
	// ErrStaleReference indicates that declared state points at a worktree,
	// branch or process that no longer exists.
	ErrStaleReference = New("stale reference")
	// ErrDetachedHead indicates that a checkout is not on any branch.
	ErrDetachedHead = New("detached HEAD")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AgentreeError is the base interface for all agentree errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type AgentreeError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Transition Errors
// -----------------------------------------------------------------------------

// Kind identifies why a lifecycle transition did not complete.
type Kind int

const (
	// KindInvalidTransition means the (state, event) pair is not declared.
	KindInvalidTransition Kind = iota
	// KindGuardFailed means a guard rejected the transition before any action ran.
	KindGuardFailed
	// KindActionFailed means an action in the chain failed. Earlier actions
	// are not rolled back.
	KindActionFailed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid_transition"
	case KindGuardFailed:
		return "guard_failed"
	case KindActionFailed:
		return "action_failed"
	default:
		return "unknown"
	}
}

// TransitionError represents a lifecycle transition that was rejected or
// did not complete.
//
// Example:
//
//	err := errors.NewGuardFailedError("running", "complete", "hasCommits", "no commits ahead of epic/E01")
//	fmt.Println(err) // "transition error [state=running, event=complete, guard=hasCommits]: guard failed: no commits ahead of epic/E01"
type TransitionError struct {
	baseError
	Kind   Kind
	TaskID string
	State  string
	Event  string
	Guard  string
	Action string
	Reason string
}

// NewInvalidTransitionError creates an error for an undeclared (state, event) pair.
func NewInvalidTransitionError(state, event string) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:    fmt.Sprintf("no transition for event %q in state %q", event, state),
			cause:      ErrInvalidTransition,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Kind:  KindInvalidTransition,
		State: state,
		Event: event,
	}
}

// NewGuardFailedError creates an error for a guard that rejected a transition.
func NewGuardFailedError(state, event, guard, reason string) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:    "guard failed",
			cause:      ErrGuardFailed,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Kind:   KindGuardFailed,
		State:  state,
		Event:  event,
		Guard:  guard,
		Reason: reason,
	}
}

// NewActionFailedError creates an error for a failed action. The cause is
// the error returned by the action.
func NewActionFailedError(state, event, action string, cause error) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:    "action failed",
			cause:      cause,
			severity:   SeverityError,
			retryable:  IsRetryable(cause),
			userFacing: true,
		},
		Kind:   KindActionFailed,
		State:  state,
		Event:  event,
		Action: action,
	}
}

// WithTask adds a task ID to the error context.
func (e *TransitionError) WithTask(id string) *TransitionError {
	e.TaskID = id
	return e
}

// Error returns the formatted error message.
func (e *TransitionError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}
	if e.Event != "" {
		parts = append(parts, fmt.Sprintf("event=%s", e.Event))
	}
	if e.Guard != "" {
		parts = append(parts, fmt.Sprintf("guard=%s", e.Guard))
	}
	if e.Action != "" {
		parts = append(parts, fmt.Sprintf("action=%s", e.Action))
	}

	prefix := "transition error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("transition error [%s]", strings.Join(parts, ", "))
	}

	switch e.Kind {
	case KindGuardFailed:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s: %s", prefix, e.message, e.Reason)
		}
		return fmt.Sprintf("%s: %s", prefix, e.message)
	case KindActionFailed:
		if e.cause != nil {
			return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
		}
		return fmt.Sprintf("%s: %s", prefix, e.message)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.message)
	}
}

// Is checks if this error matches the target.
func (e *TransitionError) Is(target error) bool {
	if _, ok := target.(*TransitionError); ok {
		return true
	}
	switch e.Kind {
	case KindInvalidTransition:
		if target == ErrInvalidTransition {
			return true
		}
	case KindGuardFailed:
		if target == ErrGuardFailed {
			return true
		}
	case KindActionFailed:
		if target == ErrActionFailed {
			return true
		}
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Git Errors
// -----------------------------------------------------------------------------

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists)
//	err = err.WithBranch("task/T001").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	Args       []string
	GitOutput  string // Captured git command output
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithArgs records the git arguments that failed.
func (e *GitError) WithArgs(args ...string) *GitError {
	e.Args = args
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}

	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("record", "T001")
//	fmt.Println(err) // "record 'T001' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("task ID must start with T")
//	err = err.WithField("taskID").WithValue("X1")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("acquiring state lock", 5*time.Second)
//	fmt.Println(err) // "timeout error: acquiring state lock (timeout: 5s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Git lock conflicts are retryable, but nothing
// in agentree retries them automatically.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var aerr AgentreeError
	if As(err, &aerr) && aerr.IsRetryable() {
		return true
	}

	return Is(err, ErrTimeout) || Is(err, ErrLockConflict)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var aerr AgentreeError
	if As(err, &aerr) {
		return aerr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AgentreeError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var aerr AgentreeError
	if As(err, &aerr) {
		return aerr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to load record")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to load record %s", taskID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
