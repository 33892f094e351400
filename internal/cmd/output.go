package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/agentree/internal/diagnosis"
	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/recovery"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// unexpectedHint follows errors that agentree did not raise itself, whose
// message may come straight from the OS or a library.
const unexpectedHint = "unexpected error; rerun with --log-level debug for details"

// printFailure prints err, the failing guard or action, and the recovery
// recipe for its category when there is one.
func (a *App) printFailure(err error, p recovery.Params) {
	w := a.stderr
	label := errorStyle
	if errors.GetSeverity(err) < errors.SeverityError {
		label = warnStyle.Bold(true)
	}
	fmt.Fprintf(w, "%s %s\n", label.Render("Error:"), err.Error())
	if !errors.IsUserFacing(err) {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(unexpectedHint))
	}
	if errors.IsRetryable(err) {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render("this is usually transient; running the command again may succeed"))
	}

	var terr *errors.TransitionError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case errors.KindGuardFailed:
			fmt.Fprintf(w, "  guard %s rejected %s in state %s: %s\n", terr.Guard, terr.Event, terr.State, terr.Reason)
		case errors.KindActionFailed:
			fmt.Fprintf(w, "  action %s failed during %s; earlier actions were not rolled back\n", terr.Action, terr.Event)
		}
		if p.Task == "" {
			p.Task = terr.TaskID
		}
	}
	if p.Task != "" && p.Branch == "" {
		p.Branch = worktree.TaskBranch(p.Task)
		p.Source = p.Branch
	}

	r, commands := recovery.Remediation(err, p)
	if r == nil {
		return
	}
	fmt.Fprintf(w, "\n%s %s\n", titleStyle.Render("Recovery ("+string(r.Category)+"):"),
		recovery.Render([]string{r.Description}, p)[0])
	for _, step := range recovery.Render(r.Actions, p) {
		fmt.Fprintf(w, "  - %s\n", step)
	}
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", commandStyle.Render(diagnosis.CommandPrefix+c))
	}
	for _, alt := range recovery.Render(r.Alternatives, p) {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("or:"), alt)
	}
}

// failWith prints err with remediation rendered for rec and marks it shown.
func (a *App) failWith(err error, taskID string, rec *lifecycle.Record) error {
	p := recovery.Params{Task: taskID}
	if taskID != "" {
		p.Branch = worktree.TaskBranch(taskID)
		p.Source = p.Branch
	}
	if rec != nil {
		p.Path = rec.WorktreePath
		p.Base = rec.BaseBranch
		p.Target = rec.BaseBranch
		if rec.Merge != nil && rec.Merge.Dir != "" {
			p.Path = rec.Merge.Dir
		}
	}
	a.printFailure(err, p)
	return &shownError{err: err}
}

func printTransition(w io.Writer, taskID string, r *lifecycle.Result) {
	fmt.Fprintf(w, "%s: %s --%s--> %s", taskID,
		stateStyle(r.From).Render(string(r.From)), r.Event,
		stateStyle(r.Next).Render(string(r.Next)))
	if r.Worktree != nil {
		fmt.Fprintf(w, "  worktree %s -> %s", r.Worktree.From, worktreeStyle(r.Worktree.To).Render(string(r.Worktree.To)))
		if r.Worktree.Drift {
			fmt.Fprintf(w, " %s", warnStyle.Render("(drift)"))
		}
	}
	fmt.Fprintln(w)
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
}

func printRecord(w io.Writer, r *lifecycle.Record, history bool) {
	fmt.Fprintln(w, titleStyle.Render(r.TaskID))
	printField(w, "state", stateStyle(r.State).Render(string(r.State)))
	printField(w, "worktree", worktreeStyle(r.Worktree).Render(string(r.Worktree)))
	printField(w, "path", r.WorktreePath)
	printField(w, "branch", r.Branch)
	printField(w, "base", r.BaseBranch)
	if r.Branching.Mode != "" {
		printField(w, "branching", string(r.Branching.Mode))
	}
	if r.PID != 0 {
		printField(w, "pid", fmt.Sprint(r.PID))
	}
	if r.Merge != nil {
		printField(w, "merge", fmt.Sprintf("%s %s -> %s in %s", r.Merge.Strategy, r.Merge.Source, r.Merge.Target, r.Merge.Dir))
	}
	if !r.UpdatedAt.IsZero() {
		printField(w, "updated", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	if !history || len(r.History) == 0 {
		return
	}
	fmt.Fprintln(w, mutedStyle.Render("history"))
	for _, h := range r.History {
		line := fmt.Sprintf("  %s  %s --%s--> %s", h.At.Format("2006-01-02 15:04:05"), h.From, h.Event, h.To)
		if h.WorktreeTo != "" {
			line += fmt.Sprintf("  worktree %s -> %s", h.WorktreeFrom, h.WorktreeTo)
		}
		if h.Drift {
			line += " (drift)"
		}
		fmt.Fprintln(w, line)
	}
}

func printDiagnosis(w io.Writer, d *diagnosis.Diagnosis) {
	status := successStyle.Render("ok")
	if !d.OK() {
		status = warnStyle.Render(fmt.Sprintf("%d issue(s)", len(d.Issues)))
	}
	fmt.Fprintf(w, "%s  %s  agent %s, worktree %s (declared %s)\n",
		titleStyle.Render(d.TaskID), status,
		stateStyle(d.AgentState).Render(string(d.AgentState)),
		worktreeStyle(d.WorktreeState).Render(string(d.WorktreeState)),
		d.DeclaredWorktree)

	if r := d.Details; r != nil && r.State != lifecycle.WorktreeNone {
		var facts []string
		if r.Branch != "" {
			facts = append(facts, "on "+r.Branch)
		}
		if r.Ahead > 0 || r.Behind > 0 {
			facts = append(facts, fmt.Sprintf("%d ahead, %d behind", r.Ahead, r.Behind))
		}
		if n := len(r.Staged) + len(r.Uncommitted); n > 0 {
			facts = append(facts, fmt.Sprintf("%d changed", n))
		}
		if len(r.Conflicts) > 0 {
			facts = append(facts, "conflicts: "+strings.Join(r.Conflicts, ", "))
		}
		if len(facts) > 0 {
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render(strings.Join(facts, "; ")))
		}
	}
	if d.Merge != nil && len(d.Merge.Conflicts) > 0 {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render("merge conflicts in "+d.Merge.Path+": "+strings.Join(d.Merge.Conflicts, ", ")))
	}

	for _, issue := range d.Issues {
		fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("!"), issue.Message)
	}
	for _, step := range diagnosis.RecommendedActions(d) {
		if strings.HasPrefix(step, diagnosis.CommandPrefix) {
			fmt.Fprintf(w, "    %s\n", commandStyle.Render(step))
		} else {
			fmt.Fprintf(w, "  - %s\n", step)
		}
	}
}
