package lifecycle

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// fakeOps is an in-memory worktree.Operations.
type fakeOps struct {
	root      string
	noGit     bool
	notRepo   bool
	worktrees map[string]bool
	branches  map[string]bool
	ahead     map[string]int
	dirty     map[string]bool
	unmerged  map[string][]string

	mergeConflict bool
	createErr     error
	mergeErr      error
	continueErr   error

	calls []string
}

func newFakeOps(root string) *fakeOps {
	return &fakeOps{
		root:      root,
		worktrees: map[string]bool{},
		branches:  map[string]bool{"main": true},
		ahead:     map[string]int{},
		dirty:     map[string]bool{},
		unmerged:  map[string][]string{},
	}
}

func (f *fakeOps) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeOps) WorktreePath(taskID string) string { return filepath.Join(f.root, taskID) }

func (f *fakeOps) WorktreeExists(taskID string) bool { return f.worktrees[taskID] }

func (f *fakeOps) BranchExists(branch string) bool { return f.branches[branch] }

func (f *fakeOps) IsAncestor(ancestor, descendant string) bool { return false }

func (f *fakeOps) BranchDivergence(branch, base string) worktree.Divergence {
	if !f.branches[branch] {
		return worktree.Divergence{}
	}
	return worktree.Divergence{Ahead: f.ahead[branch]}
}

func (f *fakeOps) CurrentBranch(dir string) string { return "" }

func (f *fakeOps) IsClean(dir string) bool { return !f.dirty[dir] }

func (f *fakeOps) UnmergedFiles(dir string) []string { return f.unmerged[dir] }

func (f *fakeOps) MergeInProgress(dir string) bool { return false }

func (f *fakeOps) RebaseInProgress(dir string) bool { return false }

func (f *fakeOps) HasGit() bool { return !f.noGit }

func (f *fakeOps) IsGitRepo() bool { return !f.notRepo }

func (f *fakeOps) MainBranch() string { return "main" }

func (f *fakeOps) BranchHierarchy(bc worktree.BranchingContext) []string {
	chain := []string{"main"}
	if (bc.Mode == worktree.ModePRD || bc.Mode == worktree.ModeEpic) && bc.PRDID != "" {
		chain = append(chain, worktree.PRDBranch(bc.PRDID))
	}
	if bc.Mode == worktree.ModeEpic && bc.EpicID != "" {
		chain = append(chain, worktree.EpicBranch(bc.EpicID))
	}
	return chain
}

func (f *fakeOps) ParentBranch(bc worktree.BranchingContext) string {
	chain := f.BranchHierarchy(bc)
	return chain[len(chain)-1]
}

func (f *fakeOps) EnsureBranch(branch, base string) (bool, error) {
	f.record("ensureBranch %s %s", branch, base)
	created := !f.branches[branch]
	f.branches[branch] = true
	return created, nil
}

func (f *fakeOps) EnsureBranchHierarchy(bc worktree.BranchingContext) *worktree.HierarchyResult {
	chain := f.BranchHierarchy(bc)
	f.record("ensureHierarchy %v", chain)
	for _, b := range chain {
		f.branches[b] = true
	}
	return &worktree.HierarchyResult{Branches: chain, Errors: map[string]error{}}
}

func (f *fakeOps) SyncBranch(branch, upstream string, strategy worktree.Strategy) (*worktree.SyncResult, error) {
	f.record("sync %s %s", branch, upstream)
	return &worktree.SyncResult{Branch: branch, Upstream: upstream, Strategy: strategy}, nil
}

func (f *fakeOps) SyncParentBranch(bc worktree.BranchingContext, strategy worktree.Strategy) *worktree.SyncReport {
	f.record("syncParent %s", f.ParentBranch(bc))
	return &worktree.SyncReport{}
}

func (f *fakeOps) SyncUpwardHierarchy(level worktree.Mode, bc worktree.BranchingContext, strategy worktree.Strategy) *worktree.SyncReport {
	f.record("syncUp %s", level)
	return &worktree.SyncReport{}
}

func (f *fakeOps) DeleteBranch(branch string) error {
	f.record("deleteBranch %s", branch)
	delete(f.branches, branch)
	return nil
}

func (f *fakeOps) CreateWorktree(taskID string, opts worktree.CreateOptions) (*worktree.CreateResult, error) {
	f.record("createWorktree %s %s", taskID, opts.BaseBranch)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.worktrees[taskID] = true
	f.branches[worktree.TaskBranch(taskID)] = true
	return &worktree.CreateResult{
		Path:       f.WorktreePath(taskID),
		Branch:     worktree.TaskBranch(taskID),
		BaseBranch: opts.BaseBranch,
	}, nil
}

func (f *fakeOps) RemoveWorktree(taskID string, opts worktree.RemoveOptions) error {
	f.record("removeWorktree %s", taskID)
	delete(f.worktrees, taskID)
	return nil
}

func (f *fakeOps) CleanupWorktree(taskID string, opts worktree.CleanupOptions) *worktree.CleanupResult {
	f.record("cleanupWorktree %s", taskID)
	return &worktree.CleanupResult{}
}

func (f *fakeOps) ListWorktrees() ([]worktree.WorktreeInfo, error) { return nil, nil }

func (f *fakeOps) ListAgentWorktrees() ([]worktree.WorktreeInfo, error) { return nil, nil }

func (f *fakeOps) PruneWorktrees() ([]string, error) { return nil, nil }

func (f *fakeOps) WorktreeStatus(taskID, base string) *worktree.WorktreeStatus {
	return &worktree.WorktreeStatus{TaskID: taskID}
}

func (f *fakeOps) StartMerge(spec worktree.MergeSpec) (*worktree.MergeResult, error) {
	f.record("startMerge %s %s %s", spec.Strategy, spec.Source, spec.Target)
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	spec.Dir = f.root
	spec.ReturnBranch = "main"
	res := &worktree.MergeResult{Spec: spec, Conflict: f.mergeConflict}
	if f.mergeConflict {
		res.ConflictFiles = []string{"README.md"}
	}
	return res, nil
}

func (f *fakeOps) AbortMerge(spec worktree.MergeSpec) error {
	f.record("abortMerge %s", spec.Source)
	return nil
}

func (f *fakeOps) CommitResolution(spec worktree.MergeSpec) error {
	f.record("commitResolution %s", spec.Source)
	return nil
}

func (f *fakeOps) ContinueMerge(spec worktree.MergeSpec) error {
	f.record("continueMerge %s", spec.Source)
	return f.continueErr
}

var _ worktree.Operations = (*fakeOps)(nil)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Record
	puts    int
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*Record{}}
}

func (s *memStore) Get(taskID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[taskID]; ok {
		return r.Clone(), nil
	}
	return nil, errors.ErrRecordNotFound
}

func (s *memStore) Put(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.records[r.TaskID] = r.Clone()
	return nil
}

// fakeSupervisor hands out increasing PIDs.
type fakeSupervisor struct {
	nextPID  int
	started  []string
	killed   []int
	startErr error
}

func (s *fakeSupervisor) Start(taskID, dir string) (int, error) {
	if s.startErr != nil {
		return 0, s.startErr
	}
	s.nextPID++
	s.started = append(s.started, taskID+"@"+dir)
	return 1000 + s.nextPID, nil
}

func (s *fakeSupervisor) Kill(pid int) error {
	s.killed = append(s.killed, pid)
	return nil
}
