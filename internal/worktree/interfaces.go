package worktree

// Querier is the read-only view of a repository used by guards and
// diagnosis. Every method reports "no" rather than failing.
type Querier interface {
	WorktreePath(taskID string) string
	WorktreeExists(taskID string) bool
	BranchExists(branch string) bool
	IsAncestor(ancestor, descendant string) bool
	BranchDivergence(branch, base string) Divergence
	CurrentBranch(dir string) string
	IsClean(dir string) bool
	UnmergedFiles(dir string) []string
	MergeInProgress(dir string) bool
	RebaseInProgress(dir string) bool
	HasGit() bool
	IsGitRepo() bool
}

// BranchManager creates, syncs and deletes branches of the hierarchy.
type BranchManager interface {
	MainBranch() string
	BranchHierarchy(bc BranchingContext) []string
	ParentBranch(bc BranchingContext) string
	EnsureBranch(branch, base string) (bool, error)
	EnsureBranchHierarchy(bc BranchingContext) *HierarchyResult
	SyncBranch(branch, upstream string, strategy Strategy) (*SyncResult, error)
	SyncParentBranch(bc BranchingContext, strategy Strategy) *SyncReport
	SyncUpwardHierarchy(level Mode, bc BranchingContext, strategy Strategy) *SyncReport
	DeleteBranch(branch string) error
}

// WorktreeManager creates and removes task worktrees.
type WorktreeManager interface {
	CreateWorktree(taskID string, opts CreateOptions) (*CreateResult, error)
	RemoveWorktree(taskID string, opts RemoveOptions) error
	CleanupWorktree(taskID string, opts CleanupOptions) *CleanupResult
	ListWorktrees() ([]WorktreeInfo, error)
	ListAgentWorktrees() ([]WorktreeInfo, error)
	PruneWorktrees() ([]string, error)
	WorktreeStatus(taskID, base string) *WorktreeStatus
}

// Merger runs task merges that may stop on conflicts across commands.
type Merger interface {
	StartMerge(spec MergeSpec) (*MergeResult, error)
	AbortMerge(spec MergeSpec) error
	CommitResolution(spec MergeSpec) error
	ContinueMerge(spec MergeSpec) error
}

// Operations is everything the lifecycle needs from a repository.
type Operations interface {
	Querier
	BranchManager
	WorktreeManager
	Merger
}

// Compile-time interface compliance check.
var _ Operations = (*Manager)(nil)
