package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/recovery"
	"github.com/Iron-Ham/agentree/internal/state"
	"github.com/Iron-Ham/agentree/internal/testutil"
)

// setupCLI creates a repository and isolates the user config. The agent
// command exits immediately unless a test overrides it.
func setupCLI(t *testing.T) string {
	t.Helper()
	testutil.SkipIfNoGit(t)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGENTREE_AGENT_COMMAND", "true")
	return testutil.SetupTestRepo(t)
}

// executeCommand runs agentree against repo and returns the combined output.
func executeCommand(t *testing.T, repo string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := New().WithOutput(&buf, &buf).ExecuteWithArgs(context.Background(), append([]string{"-C", repo}, args...))
	return buf.String(), err
}

func mustExecute(t *testing.T, repo string, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, repo, args...)
	if err != nil {
		t.Fatalf("agentree %s error = %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func loadRecord(t *testing.T, repo, taskID string) *lifecycle.Record {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(repo, ".agentree", "state"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	rec, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", taskID, err)
	}
	return rec
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := New().root
	want := []string{"agent", "worktree", "sync", "diagnose", "recover", "diagram", "config"}

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestAgentCommands_MergeFlow(t *testing.T) {
	repo := setupCLI(t)

	out := mustExecute(t, repo, "agent", "spawn", "T001", "--start")
	for _, want := range []string{"idle --spawn--> dispatched", "dispatched --start--> running", "task/T001"} {
		if !strings.Contains(out, want) {
			t.Errorf("spawn output missing %q:\n%s", want, out)
		}
	}

	rec := loadRecord(t, repo, "T001")
	if rec.State != lifecycle.StateRunning {
		t.Fatalf("state = %s, want running", rec.State)
	}
	testutil.CommitFile(t, rec.WorktreePath, "feature.txt", "feature\n", "add feature")

	mustExecute(t, repo, "agent", "complete", "T001")
	out = mustExecute(t, repo, "agent", "merge", "T001")
	if !strings.Contains(out, "merging --merge_ok--> merged") {
		t.Errorf("merge output = %q", out)
	}

	if got := testutil.RunGit(t, repo, "show", "main:feature.txt"); got != "feature" {
		t.Errorf("main:feature.txt = %q", got)
	}
	if _, err := os.Stat(rec.WorktreePath); !os.IsNotExist(err) {
		t.Errorf("worktree %s still exists", rec.WorktreePath)
	}

	out = mustExecute(t, repo, "agent", "show", "T001", "--history")
	if !strings.Contains(out, "merged") || !strings.Contains(out, "history") {
		t.Errorf("show output = %q", out)
	}

	mustExecute(t, repo, "agent", "archive", "T001")
	if _, err := os.Stat(filepath.Join(repo, ".agentree", "state", "T001.yaml")); !os.IsNotExist(err) {
		t.Error("record still present after archive")
	}
}

func TestAgentCommands_ConflictThenResolve(t *testing.T) {
	repo := setupCLI(t)

	mustExecute(t, repo, "agent", "spawn", "T001", "--start")
	rec := loadRecord(t, repo, "T001")
	testutil.CommitFile(t, rec.WorktreePath, "README.md", "# From the agent\n", "agent edit")
	mustExecute(t, repo, "agent", "complete", "T001")
	testutil.CommitFile(t, repo, "README.md", "# From main\n", "diverge main")

	out := mustExecute(t, repo, "agent", "merge", "T001")
	for _, want := range []string{"--merge_conflict--> conflict", "README.md", "$ "} {
		if !strings.Contains(out, want) {
			t.Errorf("merge output missing %q:\n%s", want, out)
		}
	}

	rec = loadRecord(t, repo, "T001")
	if rec.State != lifecycle.StateConflict || rec.Merge == nil {
		t.Fatalf("record = %+v, want conflict with merge spec", rec)
	}

	// Unresolved files block the resolve.
	out, err := executeCommand(t, repo, "agent", "resolve", "T001")
	if err == nil {
		t.Fatalf("resolve with unmerged files succeeded:\n%s", out)
	}
	if !strings.Contains(out, "conflictResolved") {
		t.Errorf("resolve failure output = %q", out)
	}

	testutil.WriteFile(t, rec.Merge.Dir, "README.md", "# Merged\n")
	testutil.RunGit(t, rec.Merge.Dir, "add", "README.md")

	out = mustExecute(t, repo, "agent", "resolve", "T001")
	if !strings.Contains(out, "merging --merge_ok--> merged") {
		t.Errorf("resolve output = %q", out)
	}
	if got := testutil.RunGit(t, repo, "show", "main:README.md"); got != "# Merged" {
		t.Errorf("main:README.md = %q", got)
	}
}

func TestAgentCommands_KillAndCleanup(t *testing.T) {
	repo := setupCLI(t)
	t.Setenv("AGENTREE_AGENT_COMMAND", "sleep 30")

	mustExecute(t, repo, "agent", "spawn", "T001", "--start")
	rec := loadRecord(t, repo, "T001")
	if rec.PID == 0 {
		t.Fatal("running record has no PID")
	}

	mustExecute(t, repo, "agent", "kill", "T001")
	if rec = loadRecord(t, repo, "T001"); rec.State != lifecycle.StateKilled {
		t.Fatalf("state = %s, want killed", rec.State)
	}

	out := mustExecute(t, repo, "agent", "cleanup", "T001")
	if !strings.Contains(out, "killed --cleanup--> rejected") {
		t.Errorf("cleanup output = %q", out)
	}
	if _, err := testutil.TryGit(repo, "rev-parse", "--verify", "task/T001"); err == nil {
		t.Error("task branch survived cleanup")
	}
}

func TestAgentCommands_GuardFailurePrintsRecovery(t *testing.T) {
	repo := setupCLI(t)

	mustExecute(t, repo, "agent", "spawn", "T001")
	rec := loadRecord(t, repo, "T001")
	if err := os.RemoveAll(rec.WorktreePath); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(t, repo, "agent", "start", "T001")
	var terr *errors.TransitionError
	if !errors.As(err, &terr) || terr.Kind != errors.KindGuardFailed {
		t.Fatalf("start error = %v, want guard failure", err)
	}
	for _, want := range []string{
		"guard worktreeExists rejected start",
		"Recovery (worktree_missing)",
		"$ agentree worktree create --existing T001",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Following the recipe gets the agent going again.
	mustExecute(t, repo, "worktree", "prune")
	mustExecute(t, repo, "worktree", "create", "--existing", "T001")
	mustExecute(t, repo, "agent", "start", "T001")
}

func TestAgentCommands_InvalidTransition(t *testing.T) {
	repo := setupCLI(t)

	out, err := executeCommand(t, repo, "agent", "merge", "T001")
	var terr *errors.TransitionError
	if !errors.As(err, &terr) || terr.Kind != errors.KindInvalidTransition {
		t.Fatalf("merge error = %v, want invalid transition", err)
	}
	if !strings.Contains(out, "Error:") {
		t.Errorf("output = %q", out)
	}

	if _, err := executeCommand(t, repo, "agent", "spawn", "../escape"); err == nil {
		t.Error("spawn accepted an invalid task ID")
	}
}

func TestWorktreeCommands(t *testing.T) {
	repo := setupCLI(t)

	out := mustExecute(t, repo, "worktree", "create", "T002")
	if !strings.Contains(out, "created") {
		t.Errorf("create output = %q", out)
	}

	out = mustExecute(t, repo, "worktree", "list")
	if !strings.Contains(out, "T002") || !strings.Contains(out, "task/T002") {
		t.Errorf("list output = %q", out)
	}

	testutil.WriteFile(t, filepath.Join(repo, ".agentree", "worktrees", "T002"), "scratch.txt", "wip\n")
	out = mustExecute(t, repo, "worktree", "status", "T002")
	if !strings.Contains(out, "dirty") || !strings.Contains(out, "0 ahead, 0 behind") {
		t.Errorf("status output = %q", out)
	}

	out = mustExecute(t, repo, "worktree", "cleanup", "T002")
	if !strings.Contains(out, "removed") {
		t.Errorf("cleanup output = %q", out)
	}
	out = mustExecute(t, repo, "worktree", "list")
	if !strings.Contains(out, "No task worktrees.") {
		t.Errorf("list after cleanup = %q", out)
	}
}

func TestSyncCommands(t *testing.T) {
	repo := setupCLI(t)

	out := mustExecute(t, repo, "sync", "parent")
	if !strings.Contains(out, "Nothing to sync") {
		t.Errorf("flat sync output = %q", out)
	}

	testutil.CreateBranch(t, repo, "prd/P1")
	testutil.CheckoutBranch(t, repo, "main")
	testutil.CommitFile(t, repo, "spec.txt", "v2\n", "main moves on")

	out = mustExecute(t, repo, "sync", "up", "--prd", "P1", "--epic", "E1")
	if !strings.Contains(out, "prd/P1 <- main") || !strings.Contains(out, "synced by merge") {
		t.Errorf("sync up output missing prd sync:\n%s", out)
	}
	if !strings.Contains(out, "epic/E1 <- prd/P1") || !strings.Contains(out, "skipped") {
		t.Errorf("sync up output missing skipped epic:\n%s", out)
	}
	if got := testutil.RunGit(t, repo, "show", "prd/P1:spec.txt"); got != "v2" {
		t.Errorf("prd/P1:spec.txt = %q", got)
	}

	if _, err := executeCommand(t, repo, "sync", "parent", "--prd", "P1", "--strategy", "squash"); err == nil {
		t.Error("sync accepted the squash strategy")
	}
}

func TestDiagnoseCommand(t *testing.T) {
	repo := setupCLI(t)

	out := mustExecute(t, repo, "diagnose")
	if !strings.Contains(out, "No agents to diagnose.") {
		t.Errorf("empty diagnose output = %q", out)
	}

	mustExecute(t, repo, "agent", "spawn", "T001")
	mustExecute(t, repo, "agent", "spawn", "T002")
	rec := loadRecord(t, repo, "T002")
	if err := os.RemoveAll(rec.WorktreePath); err != nil {
		t.Fatal(err)
	}

	out = mustExecute(t, repo, "diagnose", "T001")
	if !strings.Contains(out, "T001") || !strings.Contains(out, "ok") {
		t.Errorf("diagnose T001 output = %q", out)
	}

	out = mustExecute(t, repo, "diagnose")
	if !strings.Contains(out, "T002") || !strings.Contains(out, "1 of 2 agents need attention") {
		t.Errorf("diagnose output = %q", out)
	}
}

func TestRecoverCommands(t *testing.T) {
	repo := setupCLI(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "all strategies",
			args: []string{"recover", "strategy"},
			want: []string{"merge", "squash", "rebase", "git merge --no-edit {source}"},
		},
		{
			name: "rebase with params",
			args: []string{"recover", "strategy", "rebase", "--task", "T001", "--target", "main", "--path", "/tmp/wt"},
			want: []string{"$ git -C /tmp/wt rebase main", "$ git merge --ff-only task/T001", "rebase_conflict"},
		},
		{
			name: "category list",
			args: []string{"recover", "error"},
			want: []string{"worktree_exists", "lock_conflict", "detached_head"},
		},
		{
			name: "one category",
			args: []string{"recover", "error", "worktree_missing", "--task", "T007"},
			want: []string{"1. Drop stale worktree metadata", "$ agentree agent cleanup T007"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustExecute(t, repo, tt.args...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}

	_, err := executeCommand(t, repo, "recover", "error", "no_such_category")
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("unknown category error = %v, want ValidationError", err)
	}
}

func TestDiagramCommand(t *testing.T) {
	repo := setupCLI(t)

	out := mustExecute(t, repo, "diagram")
	for _, want := range []string{"idle", "spawn -> dispatched", "merge_conflict -> conflict"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagram missing %q", want)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	repo := setupCLI(t)
	testutil.WriteFile(t, repo, ".agentree.yaml", "merge:\n  strategy: squash\n")

	out := mustExecute(t, repo, "config", "show")
	if !strings.Contains(out, "strategy: squash") {
		t.Errorf("config show did not apply .agentree.yaml:\n%s", out)
	}

	out = mustExecute(t, repo, "config", "path")
	if !strings.Contains(out, filepath.Join(repo, ".agentree", "state")) {
		t.Errorf("config path output = %q", out)
	}

	testutil.WriteFile(t, repo, ".agentree.yaml", "merge:\n  strategy: octopus\n")
	if _, err := executeCommand(t, repo, "config", "show"); err == nil {
		t.Error("invalid merge strategy was accepted")
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"fits", "task/T001", 24, "task/T001"},
		{"exact", "T001", 4, "T001"},
		{"truncated", "task/very-long-branch-name", 12, "task/very..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fit(tt.input, tt.width); got != tt.want {
				t.Errorf("fit(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
		})
	}
}

func TestListRow_AlignsStyledColumns(t *testing.T) {
	rows := []*lifecycle.Record{
		{TaskID: "T001", State: lifecycle.StateDispatched, Worktree: lifecycle.WorktreeCommitted, Branch: "task/T001"},
		{TaskID: "T2", State: lifecycle.StateIdle, Worktree: lifecycle.WorktreeNone, Branch: "task/T2"},
		{TaskID: "T003", State: lifecycle.StateMerged, Worktree: lifecycle.WorktreeRemoved, Branch: "task/T003"},
	}

	col := -1
	for _, r := range rows {
		line := ansi.Strip(listRow(r))
		at := strings.Index(line, r.Branch)
		if at < 0 {
			t.Fatalf("row %q has no branch", line)
		}
		if col >= 0 && at != col {
			t.Errorf("branch of %s starts at column %d, want %d", r.TaskID, at, col)
		}
		col = at
		if !strings.HasPrefix(line, r.TaskID+" ") {
			t.Errorf("row %q should start with the task ID", line)
		}
	}
}

func TestPrintFailure_UserFacing(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint bool
	}{
		{"validation error", errors.NewValidationError("invalid task ID").WithField("task_id"), false},
		{"git error", errors.NewGitError("branch task/T001 does not exist", errors.ErrBranchNotFound), false},
		{"plain error", fmt.Errorf("open /tmp/x: permission denied"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			a := New().WithOutput(&buf, &buf)
			a.printFailure(tt.err, recovery.Params{})

			out := buf.String()
			if !strings.Contains(out, tt.err.Error()) {
				t.Errorf("output %q does not include the error", out)
			}
			if got := strings.Contains(out, unexpectedHint); got != tt.wantHint {
				t.Errorf("hint printed = %v, want %v\n%s", got, tt.wantHint, out)
			}
		})
	}
}

func TestUsageErrorsAreUserFacing(t *testing.T) {
	repo := setupCLI(t)

	for _, args := range [][]string{
		{"agent", "show"},
		{"agent", "list", "--no-such-flag"},
	} {
		out, err := executeCommand(t, repo, args...)
		if err == nil {
			t.Fatalf("agentree %s succeeded, want a usage error", strings.Join(args, " "))
		}
		if !errors.IsUserFacing(err) {
			t.Errorf("agentree %s error %v is not user facing", strings.Join(args, " "), err)
		}
		if strings.Contains(out, unexpectedHint) {
			t.Errorf("usage error printed the unexpected error hint:\n%s", out)
		}
	}
}
