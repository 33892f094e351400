package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/recovery"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

func (a *App) newRecoverCmd() *cobra.Command {
	p := &recovery.Params{}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Look up merge strategies and recovery recipes",
		Long: `Recover prints the static remediation knowledge agentree uses when a
transition fails. Placeholders such as {task} and {target} are filled
from the flags; the ones left empty are printed as written.`,
	}
	cmd.PersistentFlags().StringVar(&p.Task, "task", "", "Task ID for {task}")
	cmd.PersistentFlags().StringVar(&p.Path, "path", "", "Worktree path for {path}")
	cmd.PersistentFlags().StringVar(&p.Source, "source", "", "Source branch for {source}")
	cmd.PersistentFlags().StringVar(&p.Target, "target", "", "Target branch for {target}")

	strategy := &cobra.Command{
		Use:   "strategy [name]",
		Short: "Describe the merge strategies, or one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := a.recoverParams(*p)
			if len(args) == 0 {
				for _, s := range recovery.MergeStrategies() {
					a.printStrategy(&s, params)
				}
				return nil
			}
			s, ok := recovery.LookupMergeStrategy(args[0])
			if !ok {
				return errors.NewValidationError("unknown merge strategy").WithField("strategy").WithValue(args[0])
			}
			a.printStrategy(s, params)
			return nil
		},
	}

	category := &cobra.Command{
		Use:   "error [category]",
		Short: "Show the recovery recipe for a failure category, or list them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, c := range recovery.Categories() {
					r, _ := recovery.LookupErrorRecovery(string(c))
					fmt.Fprintf(a.stdout, "%-18s %s\n", c, mutedStyle.Render(r.Description))
				}
				return nil
			}
			r, ok := recovery.LookupErrorRecovery(args[0])
			if !ok {
				return errors.NewValidationError("unknown error category").WithField("category").WithValue(args[0])
			}
			a.printRecovery(r, a.recoverParams(*p))
			return nil
		},
	}

	cmd.AddCommand(strategy, category)
	return cmd
}

// recoverParams derives the branch placeholders from the task when only
// the task was given.
func (a *App) recoverParams(p recovery.Params) recovery.Params {
	if p.Task != "" {
		p.Branch = worktree.TaskBranch(p.Task)
		if p.Source == "" {
			p.Source = p.Branch
		}
	}
	p.Base = p.Target
	return p
}

func (a *App) printStrategy(s *recovery.MergeStrategy, p recovery.Params) {
	w := a.stdout
	fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(string(s.Name)), s.Description)
	printField(w, "history", yesNo(s.PreservesHistory, "preserved", "collapsed"))
	printField(w, "commit", yesNo(s.MergeCommit, "merge commit", "no merge commit"))
	printField(w, "conflicts", string(s.ConflictCategory))
	for _, c := range s.Commands(p) {
		fmt.Fprintf(w, "  %s\n", commandStyle.Render("$ "+c))
	}
	fmt.Fprintln(w)
}

func (a *App) printRecovery(r *recovery.ErrorRecovery, p recovery.Params) {
	w := a.stdout
	fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(string(r.Category)), recovery.Render([]string{r.Description}, p)[0])
	for i, step := range recovery.Render(r.Actions, p) {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
	for _, c := range r.RenderCommands(p) {
		fmt.Fprintf(w, "  %s\n", commandStyle.Render("$ "+c))
	}
	for _, alt := range recovery.Render(r.Alternatives, p) {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("or:"), alt)
	}
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
