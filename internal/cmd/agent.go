package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/recovery"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

func (a *App) newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Drive an agent through its lifecycle",
		Long: `Each subcommand applies one lifecycle event to the agent working on
<task>. The declared record is loaded and saved under the state lock, so
concurrent agentree processes never interleave their updates.

  idle --spawn--> dispatched --start--> running --complete--> completed
  completed --merge--> merged, or conflict --resolve--> merged

Run "agentree diagram" for the full transition table.`,
	}

	cmd.AddCommand(
		a.newSpawnCmd(),
		a.newEventCmd(lifecycle.EventStart, "Start the agent process in its worktree"),
		a.newEventCmd(lifecycle.EventKill, "Stop the agent process"),
		a.newEventCmd(lifecycle.EventComplete, "Mark the agent's work as finished"),
		a.newEventCmd(lifecycle.EventFail, "Record that the agent failed"),
		a.newMergeCmd(),
		a.newResolveCmd(),
		a.newEventCmd(lifecycle.EventAbort, "Abort an in-flight merge and return to completed"),
		a.newTeardownCmd(lifecycle.EventReject, "Discard the agent's work, worktree and branch"),
		a.newTeardownCmd(lifecycle.EventCleanup, "Remove the worktree and branch of a failed or killed agent"),
		a.newShowCmd(),
		a.newListCmd(),
		a.newArchiveCmd(),
	)
	return cmd
}

// runEvent applies ev to taskID and prints every transition it caused.
func (a *App) runEvent(taskID string, ev lifecycle.Event, c *lifecycle.Context) (*lifecycle.Record, error) {
	e, err := a.openEnv()
	if err != nil {
		return nil, err
	}
	defer e.Close()
	e.warnDrift(a.stderr)

	results, rec, err := e.apply(taskID, ev, c)
	for _, r := range results {
		printTransition(a.stdout, taskID, r)
	}
	if err != nil {
		return rec, a.failWith(err, taskID, rec)
	}
	return rec, nil
}

func (a *App) newEventCmd(ev lifecycle.Event, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(ev) + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.runEvent(args[0], ev, &lifecycle.Context{})
			return err
		},
	}
}

func (a *App) newTeardownCmd(ev lifecycle.Event, short string) *cobra.Command {
	var keepBranch bool
	cmd := &cobra.Command{
		Use:   string(ev) + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.runEvent(args[0], ev, &lifecycle.Context{KeepBranch: keepBranch})
			return err
		},
	}
	cmd.Flags().BoolVar(&keepBranch, "keep-branch", false, "Keep the task branch")
	return cmd
}

type spawnOptions struct {
	mode   string
	prdID  string
	epicID string
	base   string
	start  bool
}

func (a *App) newSpawnCmd() *cobra.Command {
	opts := &spawnOptions{}
	cmd := &cobra.Command{
		Use:   "spawn <task>",
		Short: "Create the task worktree and branch",
		Long: `Spawn creates task/<task> in its own worktree, cut from the task's parent
branch: main in flat mode, prd/<prd> in prd mode, epic/<epic> in epic mode.
Missing hierarchy branches are created first and, unless sync.before_spawn
is off, the parent is brought up to date with the level above it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &lifecycle.Context{BaseBranch: opts.base}
			if opts.mode != "" || opts.prdID != "" || opts.epicID != "" {
				mode, err := worktree.ParseMode(opts.mode)
				if err != nil {
					return err
				}
				if opts.mode == "" {
					mode = inferMode(opts.prdID, opts.epicID)
				}
				c.Branching = worktree.BranchingContext{Mode: mode, PRDID: opts.prdID, EpicID: opts.epicID}
			}

			rec, err := a.runEvent(args[0], lifecycle.EventSpawn, c)
			if err != nil {
				return err
			}
			printField(a.stdout, "path", rec.WorktreePath)
			printField(a.stdout, "branch", rec.Branch)
			printField(a.stdout, "base", rec.BaseBranch)

			if !opts.start {
				return nil
			}
			_, err = a.runEvent(args[0], lifecycle.EventStart, &lifecycle.Context{})
			return err
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Branching mode: flat, prd or epic (default from config)")
	cmd.Flags().StringVar(&opts.prdID, "prd", "", "PRD ID for prd and epic mode")
	cmd.Flags().StringVar(&opts.epicID, "epic", "", "Epic ID for epic mode")
	cmd.Flags().StringVar(&opts.base, "base", "", "Branch to cut the task from, overriding the hierarchy")
	cmd.Flags().BoolVar(&opts.start, "start", false, "Start the agent process right away")
	return cmd
}

// inferMode picks the deepest mode the given IDs allow.
func inferMode(prdID, epicID string) worktree.Mode {
	switch {
	case epicID != "":
		return worktree.ModeEpic
	case prdID != "":
		return worktree.ModePRD
	default:
		return worktree.ModeFlat
	}
}

func (a *App) newMergeCmd() *cobra.Command {
	var strategy, message string
	cmd := &cobra.Command{
		Use:   "merge <task>",
		Short: "Merge the task branch into its parent",
		Long: `Merge integrates task/<task> into the branch it was cut from. When git
stops on conflicts the agent moves to the conflict state and the merge is
left in place: resolve the files, then run "agentree agent resolve", or
"agentree agent abort" to give up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &lifecycle.Context{MergeMessage: message}
			if strategy != "" {
				s, err := worktree.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				c.MergeStrategy = s
			}

			rec, err := a.runEvent(args[0], lifecycle.EventMerge, c)
			if err != nil {
				return err
			}
			if rec.State == lifecycle.StateConflict && rec.Merge != nil {
				a.printConflict(args[0], rec, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "Merge strategy: merge, squash or rebase (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message for squash merges")
	return cmd
}

// printConflict lists the conflicting files and the commands that get the
// merge unstuck.
func (a *App) printConflict(taskID string, rec *lifecycle.Record, c *lifecycle.Context) {
	w := a.stdout
	fmt.Fprintf(w, "\n%s merge of %s into %s stopped in %s\n",
		warnStyle.Render("conflict:"), rec.Merge.Source, rec.Merge.Target, rec.Merge.Dir)
	if c.MergeOutcome != nil {
		for _, f := range c.MergeOutcome.ConflictFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}

	category := recovery.CategoryMergeConflict
	if s, ok := recovery.LookupMergeStrategy(string(rec.Merge.Strategy)); ok {
		category = s.ConflictCategory
	}
	r, ok := recovery.LookupErrorRecovery(string(category))
	if !ok {
		return
	}
	p := recovery.Params{
		Task: taskID, Path: rec.Merge.Dir, Branch: rec.Branch,
		Base: rec.BaseBranch, Source: rec.Merge.Source, Target: rec.Merge.Target,
	}
	fmt.Fprintln(w)
	for _, cmd := range r.RenderCommands(p) {
		fmt.Fprintf(w, "  %s\n", commandStyle.Render("$ "+cmd))
	}
}

func (a *App) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <task>",
		Short: "Finish a merge whose conflicts were resolved",
		Long: `Resolve commits the resolution (or continues the rebase) once no file is
left unmerged and no conflict markers remain, then completes the merge.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.runEvent(args[0], lifecycle.EventResolve, &lifecycle.Context{})
			return err
		},
	}
}

func (a *App) newShowCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "show <task>",
		Short: "Show the declared record of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.store.Exists(args[0]) {
				return errors.NewNotFoundError("agent record", args[0]).WithCause(errors.ErrRecordNotFound)
			}
			rec, err := e.store.Get(args[0])
			if err != nil {
				return err
			}
			printRecord(a.stdout, rec, history)
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Include the transition history")
	return cmd
}

// listRow formats r as one line of the agent list. Columns are padded by
// lipgloss so the escape codes of styled cells do not count as width.
func listRow(r *lifecycle.Record) string {
	return lipgloss.NewStyle().Width(11).Render(fit(r.TaskID, 10)) +
		stateStyle(r.State).Width(13).Render(string(r.State)) +
		worktreeStyle(r.Worktree).Width(11).Render(string(r.Worktree)) +
		mutedStyle.Render(r.Branch)
}

func (a *App) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every agent with a declared record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.store.List()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.stdout, "No agents recorded.")
				return nil
			}
			for _, r := range records {
				fmt.Fprintln(a.stdout, listRow(r))
			}
			return nil
		},
	}
}

func (a *App) newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <task>",
		Short: "Move the record of a finished agent to the archive",
		Long: `Archive moves the record of a merged, rejected or errored agent to
<state_dir>/archive so the task ID can be spawned again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			path, err := e.store.Archive(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s archived to %s\n", args[0], path)
			return nil
		},
	}
}
