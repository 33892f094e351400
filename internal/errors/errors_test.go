package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// TransitionError Tests
// -----------------------------------------------------------------------------

func TestTransitionError_Kinds(t *testing.T) {
	cause := NewGitError("worktree add failed", ErrWorktreeExists)

	tests := []struct {
		name     string
		err      *TransitionError
		kind     Kind
		sentinel error
		wantText string
	}{
		{
			name:     "invalid transition",
			err:      NewInvalidTransitionError("merged", "spawn"),
			kind:     KindInvalidTransition,
			sentinel: ErrInvalidTransition,
			wantText: `transition error [state=merged, event=spawn]: no transition for event "spawn" in state "merged"`,
		},
		{
			name:     "guard failed",
			err:      NewGuardFailedError("running", "complete", "hasCommits", "no commits ahead of main"),
			kind:     KindGuardFailed,
			sentinel: ErrGuardFailed,
			wantText: "transition error [state=running, event=complete, guard=hasCommits]: guard failed: no commits ahead of main",
		},
		{
			name:     "action failed",
			err:      NewActionFailedError("idle", "spawn", "createWorktree", cause).WithTask("T001"),
			kind:     KindActionFailed,
			sentinel: ErrActionFailed,
			wantText: "transition error [task=T001, state=idle, event=spawn, action=createWorktree]: action failed: git error: worktree add failed: worktree already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(err, %v) = false, want true", tt.sentinel)
			}
			if got := tt.err.Error(); got != tt.wantText {
				t.Errorf("Error() = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestTransitionError_KindsDoNotCrossMatch(t *testing.T) {
	err := NewGuardFailedError("idle", "spawn", "hasGit", "git not found")
	if errors.Is(err, ErrInvalidTransition) {
		t.Error("guard failure should not match ErrInvalidTransition")
	}
	if errors.Is(err, ErrActionFailed) {
		t.Error("guard failure should not match ErrActionFailed")
	}
}

func TestTransitionError_ActionFailedUnwrapsCause(t *testing.T) {
	gitErr := NewGitError("merge failed", ErrLockConflict).WithRetryable(true)
	err := NewActionFailedError("completed", "merge", "startMerge", gitErr)

	if !errors.Is(err, ErrLockConflict) {
		t.Error("errors.Is(err, ErrLockConflict) = false, want true")
	}
	var ge *GitError
	if !errors.As(err, &ge) {
		t.Fatal("errors.As(err, *GitError) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true for lock conflict cause")
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInvalidTransition, "invalid_transition"},
		{KindGuardFailed, "guard_failed"},
		{KindActionFailed, "action_failed"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

// -----------------------------------------------------------------------------
// GitError Tests
// -----------------------------------------------------------------------------

func TestGitError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *GitError
		want string
	}{
		{
			name: "message only",
			err:  NewGitError("checkout failed", nil),
			want: "git error: checkout failed",
		},
		{
			name: "with context and cause",
			err: NewGitError("checkout failed", ErrBranchNotFound).
				WithBranch("epic/E01").
				WithWorktree("/wt/T001"),
			want: "git error [branch=epic/E01, worktree=/wt/T001]: checkout failed: branch not found",
		},
		{
			name: "with output",
			err: NewGitError("merge failed", ErrGitCommandFailed).
				WithRepository("/repo").
				WithGitOutput("CONFLICT (content)"),
			want: "git error [repo=/repo]: merge failed: git command failed\ngit output: CONFLICT (content)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGitError_Is(t *testing.T) {
	err := NewGitError("worktree add failed", ErrWorktreeExists).WithArgs("worktree", "add")

	if !errors.Is(err, &GitError{}) {
		t.Error("errors.Is(err, *GitError) = false, want true")
	}
	if !errors.Is(err, ErrWorktreeExists) {
		t.Error("errors.Is(err, ErrWorktreeExists) = false, want true")
	}
	if errors.Is(err, ErrBranchExists) {
		t.Error("errors.Is(err, ErrBranchExists) = true, want false")
	}
	if len(err.Args) != 2 || err.Args[0] != "worktree" {
		t.Errorf("Args = %v, want [worktree add]", err.Args)
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("record", "T001")
	if got := err.Error(); got != "record 'T001' not found" {
		t.Errorf("Error() = %q", got)
	}
	err = err.WithCause(ErrRecordNotFound)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Error("errors.Is(err, ErrRecordNotFound) = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("task ID must start with T").WithField("taskID").WithValue("X1")
	want := "validation error [field=taskID, value=X1]: task ID must start with T"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("acquiring state lock", 5*time.Second)
	if got := err.Error(); got != "timeout error: acquiring state lock (timeout: 5s)" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"lock conflict sentinel", fmt.Errorf("wrap: %w", ErrLockConflict), true},
		{"git error with lock cause", NewGitError("commit failed", ErrLockConflict), true},
		{"git error not retryable", NewGitError("commit failed", ErrGitCommandFailed), false},
		{"timeout", ErrTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("IsUserFacing(plain) = true, want false")
	}
	if !IsUserFacing(Wrap(NewInvalidTransitionError("idle", "merge"), "apply")) {
		t.Error("IsUserFacing(wrapped transition error) = false, want true")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", got)
	}
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", got)
	}
	if got := GetSeverity(NewGuardFailedError("a", "b", "c", "d")); got != SeverityWarning {
		t.Errorf("GetSeverity(guard) = %v, want warning", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrStaleReference, "record %s", "T001")
	if !errors.Is(err, ErrStaleReference) {
		t.Error("Wrapf should preserve the chain")
	}
	if !strings.HasPrefix(err.Error(), "record T001: ") {
		t.Errorf("Wrapf() = %q", err.Error())
	}
}
