package lifecycle

import (
	"fmt"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// DefaultActions returns the standard action registry bound to d.
func DefaultActions(d *Dependencies) Actions {
	return Actions{
		ActionCreateWorktree:   d.createWorktree,
		ActionSpawnProcess:     d.spawnProcess,
		ActionKillProcess:      d.killProcess,
		ActionRemoveWorktree:   d.removeWorktree,
		ActionDeleteBranch:     d.deleteBranch,
		ActionUpdateState:      d.updateState,
		ActionStartMerge:       d.startMerge,
		ActionAbortMerge:       d.abortMerge,
		ActionCommitResolution: d.commitResolution,
		ActionContinueMerge:    d.continueMerge,
	}
}

// createWorktree ensures the branch hierarchy, optionally syncs the task's
// parent one level, and creates the task worktree from the parent. A
// worktree left behind by an earlier attempt of the same transition is
// reused.
func (d *Dependencies) createWorktree(c *Context) error {
	log := d.logger().WithTask(c.TaskID)
	bc := d.branching(c)

	if bc.Mode != worktree.ModeFlat {
		if res := d.Worktrees.EnsureBranchHierarchy(bc); !res.OK() {
			return res.Err()
		}
	}

	if d.SyncBeforeSpawn {
		strategy := d.SyncStrategy
		if strategy == "" {
			strategy = worktree.StrategyMerge
		}
		c.Sync = d.Worktrees.SyncParentBranch(bc, strategy)
		if c.Sync.Err != nil {
			log.Warn("parent branch sync failed, spawning from unsynced parent", "error", c.Sync.Err.Error())
		}
	}

	base := c.BaseBranch
	if base == "" {
		base = d.Worktrees.ParentBranch(bc)
	}
	c.BaseBranch = base
	c.Branching = bc

	if d.Worktrees.WorktreeExists(c.TaskID) {
		c.Created = &worktree.CreateResult{
			Path:       d.Worktrees.WorktreePath(c.TaskID),
			Branch:     worktree.TaskBranch(c.TaskID),
			BaseBranch: base,
		}
		log.Info("reusing existing worktree", "path", c.Created.Path)
		return nil
	}

	res, err := d.Worktrees.CreateWorktree(c.TaskID, worktree.CreateOptions{BaseBranch: base})
	if err != nil {
		return err
	}
	c.Created = res
	return nil
}

func (d *Dependencies) spawnProcess(c *Context) error {
	if d.Supervisor == nil {
		return fmt.Errorf("no process supervisor configured")
	}
	if c.PID != 0 {
		return nil
	}
	pid, err := d.Supervisor.Start(c.TaskID, d.worktreePath(c))
	if err != nil {
		return err
	}
	c.PID = pid
	d.logger().WithTask(c.TaskID).Info("agent process started", "pid", pid)
	return nil
}

func (d *Dependencies) killProcess(c *Context) error {
	pid := c.PID
	if pid == 0 && c.Record != nil {
		pid = c.Record.PID
	}
	if pid == 0 {
		c.pidKilled = true
		return nil
	}
	if d.Supervisor == nil {
		return fmt.Errorf("no process supervisor configured")
	}
	if err := d.Supervisor.Kill(pid); err != nil {
		return err
	}
	c.PID = 0
	c.pidKilled = true
	d.logger().WithTask(c.TaskID).Info("agent process killed", "pid", pid)
	return nil
}

// removeWorktree force-removes the task worktree. The branch is left to
// deleteBranch.
func (d *Dependencies) removeWorktree(c *Context) error {
	return d.Worktrees.RemoveWorktree(c.TaskID, worktree.RemoveOptions{Force: true, KeepBranch: true})
}

// deleteBranch deletes the task branch unless the caller asked to keep it.
// Failures are logged, not returned.
func (d *Dependencies) deleteBranch(c *Context) error {
	if c.KeepBranch {
		return nil
	}
	branch := worktree.TaskBranch(c.TaskID)
	if err := d.Worktrees.DeleteBranch(branch); err != nil {
		d.logger().WithTask(c.TaskID).Warn("failed to delete task branch", "branch", branch, "error", err.Error())
	}
	return nil
}

// updateState records the transition on the declared record and persists it.
func (d *Dependencies) updateState(c *Context) error {
	p := c.pending
	if p == nil {
		return fmt.Errorf("updateState outside of a transition")
	}
	r := c.Record

	r.State = p.next
	if p.worktree != nil {
		r.Worktree = p.worktree.To
	}

	if c.Created != nil {
		r.WorktreePath = c.Created.Path
		r.Branch = c.Created.Branch
		r.BaseBranch = c.Created.BaseBranch
		r.Branching = c.Branching
	}
	if c.PID != 0 {
		r.PID = c.PID
	} else if c.pidKilled {
		r.PID = 0
	}

	switch {
	case c.MergeOutcome != nil:
		spec := c.MergeOutcome.Spec
		r.Merge = &spec
	case p.next == StateCompleted || p.next.IsTerminal():
		r.Merge = nil
	}

	entry := HistoryEntry{ID: p.id, From: p.from, Event: p.event, To: p.next, At: p.at}
	if p.worktree != nil {
		entry.WorktreeFrom = p.worktree.From
		entry.WorktreeTo = p.worktree.To
		entry.Drift = p.worktree.Drift
	}
	r.History = append(r.History, entry)
	r.UpdatedAt = p.at

	if d.Store == nil {
		return nil
	}
	return d.Store.Put(r)
}

func (d *Dependencies) startMerge(c *Context) error {
	strategy := c.MergeStrategy
	if strategy == "" {
		strategy = d.MergeStrategy
	}
	if strategy == "" {
		strategy = worktree.StrategyMerge
	}

	res, err := d.Worktrees.StartMerge(worktree.MergeSpec{
		Strategy:     strategy,
		Source:       worktree.TaskBranch(c.TaskID),
		Target:       d.baseBranch(c),
		WorktreePath: d.worktreePath(c),
		Message:      c.MergeMessage,
	})
	if err != nil {
		return err
	}
	c.MergeOutcome = res
	return nil
}

// mergeSpec returns the in-flight merge recorded on the task.
func mergeSpec(c *Context) (worktree.MergeSpec, error) {
	if c.Record == nil || c.Record.Merge == nil {
		return worktree.MergeSpec{}, errors.Wrapf(errors.ErrStaleReference, "task %s has no merge in progress", c.TaskID)
	}
	return *c.Record.Merge, nil
}

// abortMerge abandons the in-flight merge. Without a recorded merge there
// is nothing to abort.
func (d *Dependencies) abortMerge(c *Context) error {
	if c.Record == nil || c.Record.Merge == nil {
		return nil
	}
	return d.Worktrees.AbortMerge(*c.Record.Merge)
}

func (d *Dependencies) commitResolution(c *Context) error {
	spec, err := mergeSpec(c)
	if err != nil {
		return err
	}
	return d.Worktrees.CommitResolution(spec)
}

func (d *Dependencies) continueMerge(c *Context) error {
	spec, err := mergeSpec(c)
	if err != nil {
		return err
	}
	return d.Worktrees.ContinueMerge(spec)
}
