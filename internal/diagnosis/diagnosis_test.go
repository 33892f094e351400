package diagnosis

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/agentree/internal/event"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/testutil"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

type fixture struct {
	repo string
	mgr  *worktree.Manager
	in   *Inspector
	dead map[int]bool
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	testutil.SkipIfNoGit(t)

	f := &fixture{repo: testutil.SetupTestRepo(t), dead: map[int]bool{}}
	mgr, err := worktree.New(f.repo, worktree.WithMainBranch("main"))
	if err != nil {
		t.Fatalf("worktree.New() error = %v", err)
	}
	f.mgr = mgr
	opts = append([]Option{WithLiveness(func(pid int) bool { return !f.dead[pid] })}, opts...)
	f.in = NewInspector(mgr, opts...)
	return f
}

// spawn creates the task worktree and a matching record in state s.
func (f *fixture) spawn(t *testing.T, taskID string, s lifecycle.State) *lifecycle.Record {
	t.Helper()
	res, err := f.mgr.CreateWorktree(taskID, worktree.CreateOptions{BaseBranch: "main"})
	if err != nil {
		t.Fatalf("CreateWorktree(%s) error = %v", taskID, err)
	}
	r := lifecycle.NewRecord(taskID, time.Now())
	r.State = s
	r.Worktree = lifecycle.WorktreeClean
	r.WorktreePath = res.Path
	r.Branch = res.Branch
	r.BaseBranch = res.BaseBranch
	return r
}

func hasIssue(d *Diagnosis, substr string) bool {
	return slices.ContainsFunc(d.Issues, func(is Issue) bool { return strings.Contains(is.Message, substr) })
}

// -----------------------------------------------------------------------------
// DiagnoseWorktreeState
// -----------------------------------------------------------------------------

func TestDiagnoseWorktreeState_None(t *testing.T) {
	f := newFixture(t)

	badPointer := t.TempDir()
	testutil.WriteFile(t, badPointer, ".git", "not a pointer\n")
	danglingPointer := t.TempDir()
	testutil.WriteFile(t, danglingPointer, ".git", "gitdir: /nonexistent/worktrees/T001\n")
	noGit := t.TempDir()

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"empty path", "", "no worktree path"},
		{"missing path", filepath.Join(f.repo, "nope"), "path does not exist"},
		{"no .git", noGit, "no .git pointer"},
		{"invalid pointer", badPointer, "invalid .git pointer"},
		{"dangling pointer", danglingPointer, "missing directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.in.DiagnoseWorktreeState(tt.path, "main")
			if r.State != lifecycle.WorktreeNone {
				t.Errorf("State = %s, want none", r.State)
			}
			if !strings.Contains(r.Reason, tt.reason) {
				t.Errorf("Reason = %q, want it to contain %q", r.Reason, tt.reason)
			}
		})
	}
}

func TestDiagnoseWorktreeState_Progression(t *testing.T) {
	f := newFixture(t)
	r := f.spawn(t, "T001", lifecycle.StateRunning)
	path := r.WorktreePath

	if got := f.in.DiagnoseWorktreeState(path, "main"); got.State != lifecycle.WorktreeClean || got.Branch != "task/T001" {
		t.Errorf("fresh worktree = %+v, want clean on task/T001", got)
	}

	testutil.WriteFile(t, path, "work.txt", "draft\n")
	got := f.in.DiagnoseWorktreeState(path, "main")
	if got.State != lifecycle.WorktreeDirty || !slices.Equal(got.Uncommitted, []string{"work.txt"}) {
		t.Errorf("untracked file = %+v, want dirty", got)
	}

	testutil.RunGit(t, path, "add", "work.txt")
	if got := f.in.DiagnoseWorktreeState(path, "main"); got.State != lifecycle.WorktreeDirty || len(got.Staged) != 1 {
		t.Errorf("staged file = %+v, want dirty", got)
	}

	testutil.RunGit(t, path, "commit", "-m", "work")
	got = f.in.DiagnoseWorktreeState(path, "main")
	if got.State != lifecycle.WorktreeCommitted || got.Ahead != 1 {
		t.Errorf("committed = %+v, want committed with 1 ahead", got)
	}
	// An empty base falls back to the main branch.
	if got := f.in.DiagnoseWorktreeState(path, ""); got.State != lifecycle.WorktreeCommitted {
		t.Errorf("empty base = %s, want committed", got.State)
	}
}

func TestDiagnoseWorktreeState_Conflict(t *testing.T) {
	f := newFixture(t)
	r := f.spawn(t, "T001", lifecycle.StateRunning)
	path := r.WorktreePath

	testutil.CommitFile(t, path, "README.md", "# task\n", "task edit")
	testutil.CommitFile(t, f.repo, "README.md", "# main\n", "main edit")
	if _, err := testutil.TryGit(path, "merge", "main"); err == nil {
		t.Fatal("expected the merge to conflict")
	}

	got := f.in.DiagnoseWorktreeState(path, "main")
	if got.State != lifecycle.WorktreeConflict || !got.MergeInProgress {
		t.Errorf("conflicted merge = %+v, want conflict with MERGE_HEAD", got)
	}
	if !slices.Equal(got.Conflicts, []string{"README.md"}) {
		t.Errorf("Conflicts = %v", got.Conflicts)
	}

	// Conflicts outrank dirt.
	testutil.WriteFile(t, path, "extra.txt", "x\n")
	if got := f.in.DiagnoseWorktreeState(path, "main"); got.State != lifecycle.WorktreeConflict {
		t.Errorf("conflict plus untracked = %s, want conflict", got.State)
	}
}

// -----------------------------------------------------------------------------
// DiagnoseAgentState
// -----------------------------------------------------------------------------

func TestDiagnoseAgentState_Healthy(t *testing.T) {
	f := newFixture(t)
	r := f.spawn(t, "T001", lifecycle.StateRunning)
	r.PID = 1234

	d := f.in.DiagnoseAgentState("T001", r)
	if !d.OK() {
		t.Errorf("Issues = %v, want none", d.Issues)
	}
	if !d.PIDAlive || d.WorktreeState != lifecycle.WorktreeClean {
		t.Errorf("Diagnosis = %+v", d)
	}
}

func TestDiagnoseAgentState_Issues(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) *lifecycle.Record
		want  []string
		kinds []IssueKind
	}{
		{
			name: "recorded worktree missing",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := lifecycle.NewRecord("T001", time.Now())
				r.State = lifecycle.StateDispatched
				r.Worktree = lifecycle.WorktreeClean
				r.WorktreePath = filepath.Join(f.repo, ".agentree", "worktrees", "T001")
				return r
			},
			want:  []string{"missing on disk", "recorded branch task/T001 does not exist"},
			kinds: []IssueKind{IssueWorktreeMissing, IssueBranchMissing},
		},
		{
			name: "orphan worktree",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				f.spawn(t, "T001", lifecycle.StateIdle)
				return lifecycle.NewRecord("T001", time.Now())
			},
			want:  []string{"not recorded for an agent in state idle"},
			kinds: []IssueKind{IssueOrphanWorktree},
		},
		{
			name: "dead process",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := f.spawn(t, "T001", lifecycle.StateRunning)
				r.PID = 4321
				f.dead[4321] = true
				return r
			},
			want:  []string{"process 4321 is not alive"},
			kinds: []IssueKind{IssueDeadProcess},
		},
		{
			name: "running without pid",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				return f.spawn(t, "T001", lifecycle.StateRunning)
			},
			want:  []string{"no process is recorded"},
			kinds: []IssueKind{IssueDeadProcess},
		},
		{
			name: "merging without a merge",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := f.spawn(t, "T001", lifecycle.StateMerging)
				r.Merge = &worktree.MergeSpec{Strategy: worktree.StrategyMerge, Source: "task/T001", Target: "main", Dir: f.repo}
				return r
			},
			want:  []string{"no merge or rebase in progress in " + "REPO"},
			kinds: []IssueKind{IssueNoMerge},
		},
		{
			name: "completed but dirty",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := f.spawn(t, "T001", lifecycle.StateCompleted)
				testutil.WriteFile(t, r.WorktreePath, "forgotten.txt", "x\n")
				return r
			},
			want:  []string{"completed with uncommitted changes"},
			kinds: []IssueKind{IssueDirtyComplete},
		},
		{
			name: "wrong branch",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := f.spawn(t, "T001", lifecycle.StateDispatched)
				testutil.RunGit(t, r.WorktreePath, "checkout", "-b", "scratch")
				return r
			},
			want:  []string{"on branch scratch, expected task/T001"},
			kinds: []IssueKind{IssueWrongBranch},
		},
		{
			name: "detached head",
			setup: func(t *testing.T, f *fixture) *lifecycle.Record {
				r := f.spawn(t, "T001", lifecycle.StateDispatched)
				testutil.RunGit(t, r.WorktreePath, "checkout", "--detach")
				return r
			},
			want:  []string{"detached HEAD"},
			kinds: []IssueKind{IssueDetachedHead},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := tt.setup(t, f)
			d := f.in.DiagnoseAgentState("T001", r)

			if len(d.Issues) != len(tt.want) {
				t.Fatalf("Issues = %q, want %d", d.Issues, len(tt.want))
			}
			for _, w := range tt.want {
				w = strings.ReplaceAll(w, "REPO", f.repo)
				if !hasIssue(d, w) {
					t.Errorf("Issues = %q, want one containing %q", d.Issues, w)
				}
			}
			for n, k := range tt.kinds {
				if d.Issues[n].Kind != k {
					t.Errorf("Issues[%d].Kind = %s, want %s", n, d.Issues[n].Kind, k)
				}
			}
			if len(RecommendedActions(d)) == 0 {
				t.Error("RecommendedActions() is empty for a diagnosis with issues")
			}
		})
	}
}

func TestDiagnoseAgentState_ConflictInMergeDir(t *testing.T) {
	f := newFixture(t)
	r := f.spawn(t, "T001", lifecycle.StateConflict)
	testutil.CommitFile(t, r.WorktreePath, "README.md", "# task\n", "task edit")
	testutil.CommitFile(t, f.repo, "README.md", "# main\n", "main edit")

	res, err := f.mgr.StartMerge(worktree.MergeSpec{Strategy: worktree.StrategyMerge, Source: "task/T001", Target: "main"})
	if err != nil || !res.Conflict {
		t.Fatalf("StartMerge() = %+v, %v; want conflict", res, err)
	}
	r.Worktree = lifecycle.WorktreeConflict
	r.Merge = &res.Spec

	d := f.in.DiagnoseAgentState("T001", r)
	if !d.OK() {
		t.Errorf("Issues = %v, want none", d.Issues)
	}
	if d.WorktreeState != lifecycle.WorktreeConflict || d.Merge == nil || d.Details.State != lifecycle.WorktreeCommitted {
		t.Errorf("Diagnosis = %+v / merge %+v", d, d.Merge)
	}

	steps := RecommendedActions(d)
	want := CommandPrefix + "git -C " + f.repo + " diff --name-only --diff-filter=U"
	if !slices.Contains(steps, want) {
		t.Errorf("RecommendedActions() = %q, want %q", steps, want)
	}
}

// -----------------------------------------------------------------------------
// DiagnoseAll
// -----------------------------------------------------------------------------

func TestDiagnoseAll(t *testing.T) {
	bus := event.NewBus(nil)
	var (
		mu        sync.Mutex
		diagnosed []string
	)
	bus.Subscribe(event.TypeDiagnosed, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		diagnosed = append(diagnosed, e.(event.DiagnosedEvent).TaskID)
	})

	f := newFixture(t, WithParallelism(2))
	f.in.bus = bus

	var records []*lifecycle.Record
	for _, id := range []string{"T003", "T001", "T002"} {
		records = append(records, f.spawn(t, id, lifecycle.StateDispatched))
	}
	f.spawn(t, "T009", lifecycle.StateIdle) // no record

	results, err := f.in.DiagnoseAll(context.Background(), records)
	if err != nil {
		t.Fatalf("DiagnoseAll() error = %v", err)
	}

	var ids []string
	for _, d := range results {
		ids = append(ids, d.TaskID)
	}
	if !slices.Equal(ids, []string{"T003", "T001", "T002", "T009"}) {
		t.Errorf("DiagnoseAll() order = %v", ids)
	}
	for _, d := range results[:3] {
		if !d.OK() {
			t.Errorf("%s issues = %v", d.TaskID, d.Issues)
		}
	}
	if !hasIssue(results[3], "not recorded") {
		t.Errorf("orphan issues = %v", results[3].Issues)
	}
	if len(diagnosed) != 4 {
		t.Errorf("published %d diagnosed events, want 4", len(diagnosed))
	}
}

func TestDiagnoseAll_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.in.DiagnoseAll(ctx, nil); err == nil {
		t.Error("DiagnoseAll() with a cancelled context should fail")
	}
}

func TestResolveGitDir_RelativePointer(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "meta"), 0755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, ".git", "gitdir: meta\n")

	got, err := resolveGitDir(dir)
	if err != nil || got != filepath.Join(dir, "meta") {
		t.Errorf("resolveGitDir() = %q, %v", got, err)
	}
}
