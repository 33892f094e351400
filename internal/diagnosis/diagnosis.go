// Package diagnosis compares what the lifecycle believes about an agent
// with what git, the filesystem and the process table actually show. It
// never changes anything; it reports issues and recommends commands.
package diagnosis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/Iron-Ham/agentree/internal/event"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/logging"
	"github.com/Iron-Ham/agentree/internal/process"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// DefaultParallelism bounds DiagnoseAll.
const DefaultParallelism = 4

// Repository is the read-only view of git that diagnosis needs.
type Repository interface {
	worktree.Querier
	MainBranch() string
	Status(dir string) (*worktree.StatusSummary, error)
	ListAgentWorktrees() ([]worktree.WorktreeInfo, error)
}

// WorktreeReport is the observed state of one checkout.
type WorktreeReport struct {
	Path  string
	State lifecycle.WorktreeState
	// Reason explains a none classification.
	Reason string
	// Branch is empty when HEAD is detached.
	Branch           string
	MergeInProgress  bool
	RebaseInProgress bool
	Conflicts        []string
	Staged           []string
	Uncommitted      []string
	Ahead            int
	Behind           int
}

// Diagnosis is the declared state of an agent next to its observed state.
type Diagnosis struct {
	TaskID string
	// AgentState and DeclaredWorktree come from the record.
	AgentState       lifecycle.State
	DeclaredWorktree lifecycle.WorktreeState
	// WorktreeState is observed. It is conflict when the task worktree or
	// the directory of its in-flight merge has unresolved conflicts.
	WorktreeState lifecycle.WorktreeState
	Branch        string
	BaseBranch    string
	PID           int
	PIDAlive      bool
	Details       *WorktreeReport
	// Merge is the report for the in-flight merge directory when that is
	// not the task worktree.
	Merge  *WorktreeReport
	Issues []Issue
}

// OK reports whether no issues were found.
func (d *Diagnosis) OK() bool { return len(d.Issues) == 0 }

// Messages returns the issue messages in the order they were found.
func (d *Diagnosis) Messages() []string {
	out := make([]string, len(d.Issues))
	for n, is := range d.Issues {
		out[n] = is.Message
	}
	return out
}

// IssueKind classifies a disagreement between the record and what was
// observed. RecommendedActions keys on it.
type IssueKind string

const (
	IssueWorktreeMissing IssueKind = "worktree_missing"
	IssueOrphanWorktree  IssueKind = "orphan_worktree"
	IssueDeadProcess     IssueKind = "dead_process"
	IssueNoMerge         IssueKind = "no_merge"
	IssueDirtyComplete   IssueKind = "dirty_complete"
	IssueBranchMissing   IssueKind = "branch_missing"
	IssueWrongBranch     IssueKind = "wrong_branch"
	IssueDetachedHead    IssueKind = "detached_head"
)

// Issue is one finding of a diagnosis.
type Issue struct {
	Kind    IssueKind
	Message string
}

func (is Issue) String() string { return is.Message }

// Inspector diagnoses agents against a repository.
type Inspector struct {
	repo        Repository
	alive       func(pid int) bool
	parallelism int
	bus         *event.Bus
	logger      *logging.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLiveness replaces the PID liveness check.
func WithLiveness(alive func(pid int) bool) Option {
	return func(i *Inspector) { i.alive = alive }
}

// WithParallelism bounds the number of concurrent diagnoses in DiagnoseAll.
func WithParallelism(n int) Option {
	return func(i *Inspector) {
		if n > 0 {
			i.parallelism = n
		}
	}
}

// WithBus publishes a DiagnosedEvent for every diagnosed agent.
func WithBus(bus *event.Bus) Option {
	return func(i *Inspector) { i.bus = bus }
}

// WithLogger sets the inspector's logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Inspector) { i.logger = l }
}

// NewInspector returns an Inspector over repo.
func NewInspector(repo Repository, opts ...Option) *Inspector {
	i := &Inspector{
		repo:        repo,
		alive:       process.IsAlive,
		parallelism: DefaultParallelism,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.WithComponent("diagnosis")
	return i
}

// DiagnoseWorktreeState classifies the checkout at path. Precedence is
// conflict (unmerged files or a stopped merge or rebase), then dirty
// (staged or unstaged changes, untracked files), then committed (commits
// ahead of base), then clean. A missing path or an invalid .git pointer
// is none. An empty base means the main branch.
func (i *Inspector) DiagnoseWorktreeState(path, base string) *WorktreeReport {
	r := &WorktreeReport{Path: path, State: lifecycle.WorktreeNone}
	if path == "" {
		r.Reason = "no worktree path"
		return r
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		r.Reason = "path does not exist"
		return r
	}

	gitDir, err := resolveGitDir(path)
	if err != nil {
		r.Reason = err.Error()
		return r
	}

	status, err := i.repo.Status(path)
	if err != nil {
		r.Reason = "git status failed"
		return r
	}

	r.Branch = i.repo.CurrentBranch(path)
	r.MergeInProgress = exists(filepath.Join(gitDir, "MERGE_HEAD"))
	r.RebaseInProgress = exists(filepath.Join(gitDir, "rebase-merge")) || exists(filepath.Join(gitDir, "rebase-apply"))
	r.Conflicts = status.Conflicts
	r.Staged = status.Staged
	r.Uncommitted = status.Uncommitted

	if base == "" {
		base = i.repo.MainBranch()
	}
	if r.Branch != "" && r.Branch != base {
		div := i.repo.BranchDivergence(r.Branch, base)
		r.Ahead, r.Behind = div.Ahead, div.Behind
	}

	switch {
	case len(r.Conflicts) > 0 || r.MergeInProgress || r.RebaseInProgress:
		r.State = lifecycle.WorktreeConflict
	case len(r.Staged) > 0 || len(r.Uncommitted) > 0:
		r.State = lifecycle.WorktreeDirty
	case r.Ahead > 0:
		r.State = lifecycle.WorktreeCommitted
	default:
		r.State = lifecycle.WorktreeClean
	}
	return r
}

// resolveGitDir returns the private git directory of the checkout at path.
// A linked worktree has a .git file of the form "gitdir: <dir>"; a main
// checkout has a .git directory.
func resolveGitDir(path string) (string, error) {
	dotGit := filepath.Join(path, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("no .git pointer")
	}
	if info.IsDir() {
		return dotGit, nil
	}

	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", fmt.Errorf("unreadable .git pointer")
	}
	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("invalid .git pointer")
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(path, gitDir)
	}
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf(".git pointer targets missing directory %s", gitDir)
	}
	return gitDir, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DiagnoseAgentState cross-checks the declared record of taskID with the
// repository and process table. A nil record is treated as a task that
// was never spawned.
func (i *Inspector) DiagnoseAgentState(taskID string, declared *lifecycle.Record) *Diagnosis {
	if declared == nil {
		declared = lifecycle.NewRecord(taskID, time.Time{})
	}
	path := declared.WorktreePath
	if path == "" {
		path = i.repo.WorktreePath(taskID)
	}
	branch := declared.Branch
	if branch == "" {
		branch = worktree.TaskBranch(taskID)
	}

	d := &Diagnosis{
		TaskID:           taskID,
		AgentState:       declared.State,
		DeclaredWorktree: declared.Worktree,
		Branch:           branch,
		BaseBranch:       declared.BaseBranch,
		PID:              declared.PID,
	}
	d.Details = i.DiagnoseWorktreeState(path, declared.BaseBranch)
	d.WorktreeState = d.Details.State

	recorded := declared.Worktree != "" && declared.Worktree != lifecycle.WorktreeNone && declared.Worktree != lifecycle.WorktreeRemoved
	present := d.Details.State != lifecycle.WorktreeNone

	switch {
	case recorded && !present:
		d.issue(IssueWorktreeMissing, "worktree recorded at %s is missing on disk (%s)", path, d.Details.Reason)
	case !recorded && present:
		d.issue(IssueOrphanWorktree, "worktree at %s is not recorded for an agent in state %s", path, declared.State)
	}

	if declared.State == lifecycle.StateRunning {
		d.PIDAlive = declared.PID > 0 && i.alive(declared.PID)
		switch {
		case declared.PID <= 0:
			d.issue(IssueDeadProcess, "agent is running but no process is recorded, so it is not alive")
		case !d.PIDAlive:
			d.issue(IssueDeadProcess, "agent is running but process %d is not alive", declared.PID)
		}
	}

	if declared.State == lifecycle.StateMerging || declared.State == lifecycle.StateConflict {
		merge := d.Details
		if declared.Merge != nil && declared.Merge.Dir != "" && declared.Merge.Dir != path {
			d.Merge = i.DiagnoseWorktreeState(declared.Merge.Dir, declared.Merge.Target)
			merge = d.Merge
			if merge.State == lifecycle.WorktreeConflict {
				d.WorktreeState = lifecycle.WorktreeConflict
			}
		}
		active := merge.MergeInProgress || merge.RebaseInProgress || len(merge.Conflicts) > 0
		if declared.State == lifecycle.StateMerging && !active {
			d.issue(IssueNoMerge, "agent is merging but no merge or rebase in progress in %s", merge.Path)
		}
	}

	if declared.State == lifecycle.StateCompleted && d.Details.State == lifecycle.WorktreeDirty {
		d.issue(IssueDirtyComplete, "agent completed with uncommitted changes in %s", path)
	}

	if recorded && !declared.State.IsTerminal() && !i.repo.BranchExists(branch) {
		d.issue(IssueBranchMissing, "recorded branch %s does not exist", branch)
	}

	if present && !d.Details.RebaseInProgress {
		switch {
		case d.Details.Branch == "":
			d.issue(IssueDetachedHead, "worktree %s is on a detached HEAD", path)
		case d.Details.Branch != branch:
			d.issue(IssueWrongBranch, "worktree %s is on branch %s, expected %s", path, d.Details.Branch, branch)
		}
	}

	i.bus.Publish(event.NewDiagnosedEvent(taskID, string(d.AgentState), string(d.WorktreeState), d.Messages()))
	if len(d.Issues) > 0 {
		i.logger.Info("agent diagnosed with issues", "task_id", taskID, "issues", len(d.Issues))
	}
	return d
}

func (d *Diagnosis) issue(kind IssueKind, format string, args ...any) {
	d.Issues = append(d.Issues, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// DiagnoseAll diagnoses every record plus every task worktree on disk
// that has no record. Results keep the order of records, followed by the
// orphans in worktree list order. Diagnoses run concurrently, bounded by
// the inspector's parallelism.
func (i *Inspector) DiagnoseAll(ctx context.Context, records []*lifecycle.Record) ([]*Diagnosis, error) {
	known := make(map[string]bool, len(records))
	targets := make([]*lifecycle.Record, 0, len(records))
	for _, r := range records {
		known[r.TaskID] = true
		targets = append(targets, r)
	}

	worktrees, err := i.repo.ListAgentWorktrees()
	if err != nil {
		return nil, err
	}
	for _, wt := range worktrees {
		if known[wt.TaskID] {
			continue
		}
		known[wt.TaskID] = true
		orphan := lifecycle.NewRecord(wt.TaskID, time.Time{})
		orphan.WorktreePath = wt.Path
		targets = append(targets, orphan)
	}

	mapper := iter.Mapper[*lifecycle.Record, *Diagnosis]{MaxGoroutines: i.parallelism}
	results := mapper.Map(targets, func(r **lifecycle.Record) *Diagnosis {
		if ctx.Err() != nil {
			return nil
		}
		return i.DiagnoseAgentState((*r).TaskID, *r)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
