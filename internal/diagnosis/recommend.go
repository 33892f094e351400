package diagnosis

import (
	"slices"

	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/recovery"
)

// CommandPrefix marks a recommended step that is a command to run.
const CommandPrefix = "$ "

// RecommendedActions returns the next steps for d, in order, without
// duplicates. Steps come from the issues first, then from the observed
// state when it calls for action on its own. It has no side effects.
func RecommendedActions(d *Diagnosis) []string {
	if d == nil {
		return nil
	}
	p := d.params()
	var steps []string
	add := func(s ...string) { steps = append(steps, s...) }
	render := func(tmpl string) string { return recovery.Render([]string{tmpl}, p)[0] }
	recipe := func(c recovery.Category, params recovery.Params) {
		r, ok := recovery.LookupErrorRecovery(string(c))
		if !ok {
			return
		}
		add(recovery.Render(r.Actions, params)...)
		for _, cmd := range r.RenderCommands(params) {
			add(CommandPrefix + cmd)
		}
	}

	for _, issue := range d.Issues {
		switch issue.Kind {
		case IssueWorktreeMissing:
			recipe(recovery.CategoryWorktreeMissing, p)
		case IssueOrphanWorktree:
			recipe(recovery.CategoryWorktreeExists, p)
		case IssueDeadProcess:
			add("Record that the agent stopped without finishing",
				CommandPrefix+render("agentree agent fail {task}"))
		case IssueNoMerge:
			add(render("Check whether {branch} is already merged into {base}"),
				CommandPrefix+render("git log --oneline {base}..{branch}"),
				CommandPrefix+render("agentree agent abort {task}"))
		case IssueDirtyComplete:
			recipe(recovery.CategoryDirtyWorktree, p)
		case IssueBranchMissing:
			recipe(recovery.CategoryBranchMissing, p)
		case IssueDetachedHead, IssueWrongBranch:
			recipe(recovery.CategoryDetachedHead, p)
		}
	}

	switch {
	case d.WorktreeState == lifecycle.WorktreeConflict:
		recipe(d.conflictCategory(), d.conflictParams())
	case d.OK() && d.AgentState == lifecycle.StateCompleted && d.WorktreeState == lifecycle.WorktreeCommitted:
		add("Merge the finished task", CommandPrefix+render("agentree agent merge {task}"))
	case d.OK() && d.AgentState == lifecycle.StateRunning && d.WorktreeState == lifecycle.WorktreeDirty:
		add("Wait for the agent to commit its work")
	}

	return dedupe(steps)
}

func (d *Diagnosis) params() recovery.Params {
	p := recovery.Params{Task: d.TaskID, Branch: d.Branch, Base: d.BaseBranch, Source: d.Branch, Target: d.BaseBranch}
	if d.Details != nil {
		p.Path = d.Details.Path
	}
	return p
}

// conflictParams points {path} at the directory holding the conflict.
func (d *Diagnosis) conflictParams() recovery.Params {
	p := d.params()
	if d.Merge != nil && d.Merge.State == lifecycle.WorktreeConflict {
		p.Path = d.Merge.Path
	}
	return p
}

func (d *Diagnosis) conflictCategory() recovery.Category {
	for _, r := range []*WorktreeReport{d.Merge, d.Details} {
		if r != nil && r.RebaseInProgress {
			return recovery.CategoryRebaseConflict
		}
	}
	return recovery.CategoryMergeConflict
}

// dedupe drops repeated steps, keeping the first occurrence.
func dedupe(steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
