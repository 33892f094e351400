package lifecycle

import (
	"slices"
	"time"

	"github.com/Iron-Ham/agentree/internal/worktree"
)

// Record is the declared state of one agent: what the lifecycle believes
// happened, as opposed to what diagnosis observes.
type Record struct {
	TaskID       string                    `yaml:"task_id"`
	State        State                     `yaml:"state"`
	Worktree     WorktreeState             `yaml:"worktree"`
	WorktreePath string                    `yaml:"worktree_path,omitempty"`
	Branch       string                    `yaml:"branch,omitempty"`
	BaseBranch   string                    `yaml:"base_branch,omitempty"`
	PID          int                       `yaml:"pid,omitempty"`
	Branching    worktree.BranchingContext `yaml:"branching,omitempty"`
	// Merge is set while a merge is in flight (merging or conflict).
	Merge     *worktree.MergeSpec `yaml:"merge,omitempty"`
	History   []HistoryEntry      `yaml:"history,omitempty"`
	CreatedAt time.Time           `yaml:"created_at"`
	UpdatedAt time.Time           `yaml:"updated_at"`
}

// HistoryEntry is one applied transition.
type HistoryEntry struct {
	ID           string        `yaml:"id"`
	From         State         `yaml:"from"`
	Event        Event         `yaml:"event"`
	To           State         `yaml:"to"`
	WorktreeFrom WorktreeState `yaml:"worktree_from,omitempty"`
	WorktreeTo   WorktreeState `yaml:"worktree_to,omitempty"`
	Drift        bool          `yaml:"drift,omitempty"`
	At           time.Time     `yaml:"at"`
}

// NewRecord returns the implicit starting record of a task.
func NewRecord(taskID string, now time.Time) *Record {
	return &Record{
		TaskID:    taskID,
		State:     StateIdle,
		Worktree:  WorktreeNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Merge != nil {
		m := *r.Merge
		c.Merge = &m
	}
	c.History = slices.Clone(r.History)
	return &c
}

// LastTransition returns the most recent history entry, or nil.
func (r *Record) LastTransition() *HistoryEntry {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// Store persists declared records. Get returns a fresh idle record for a
// task it has never seen.
type Store interface {
	Get(taskID string) (*Record, error)
	Put(r *Record) error
}

// Supervisor starts and stops agent work processes.
type Supervisor interface {
	// Start launches the agent for taskID with dir as working directory
	// and returns its PID.
	Start(taskID, dir string) (int, error)
	// Kill stops the process (group) pid. Killing a process that is
	// already gone is not an error.
	Kill(pid int) error
}
