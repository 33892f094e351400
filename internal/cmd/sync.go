package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

type syncOptions struct {
	prdID    string
	epicID   string
	strategy string
	level    string
}

func (a *App) newSyncCmd() *cobra.Command {
	opts := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring hierarchy branches up to date with their parents",
		Long: `Sync integrates each hierarchy branch with the level above it:
prd/<prd> from main, epic/<epic> from prd/<prd>. Branches that do not
exist are skipped; a conflicting sync is aborted and reported.`,
	}
	cmd.PersistentFlags().StringVar(&opts.prdID, "prd", "", "PRD ID (default: branching.prd_id)")
	cmd.PersistentFlags().StringVar(&opts.epicID, "epic", "", "Epic ID (default: branching.epic_id)")
	cmd.PersistentFlags().StringVar(&opts.strategy, "strategy", "", "merge or rebase (default: sync.strategy)")

	parent := &cobra.Command{
		Use:   "parent [task]",
		Short: "Sync a task's parent branch with the level above it",
		Long: `Parent syncs the branch a task is cut from with its own parent. With a
task, the hierarchy recorded for that task is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				bc, strategy, err := a.syncTarget(e, opts, args)
				if err != nil {
					return err
				}
				return a.printSync(e.repo.SyncParentBranch(bc, strategy))
			})
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Sync every level of the hierarchy from the top down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				bc, strategy, err := a.syncTarget(e, opts, nil)
				if err != nil {
					return err
				}
				level, err := worktree.ParseMode(opts.level)
				if err != nil {
					return err
				}
				if opts.level == "" {
					level = worktree.ModeEpic
				}
				return a.printSync(e.repo.SyncUpwardHierarchy(level, bc, strategy))
			})
		},
	}
	up.Flags().StringVar(&opts.level, "level", "", "Deepest level to sync: prd or epic (default: epic)")

	cmd.AddCommand(parent, up)
	return cmd
}

// syncTarget resolves the hierarchy and strategy from flags, the task's
// record and the configuration, in that order.
func (a *App) syncTarget(e *env, opts *syncOptions, args []string) (worktree.BranchingContext, worktree.Strategy, error) {
	bc := e.deps.Branching
	if len(args) == 1 {
		rec, err := e.store.Get(args[0])
		if err != nil {
			return bc, "", err
		}
		if rec.Branching.Mode != "" {
			bc = rec.Branching
		}
	}
	if opts.prdID != "" {
		bc.PRDID = opts.prdID
		if bc.Mode == worktree.ModeFlat || bc.Mode == "" {
			bc.Mode = worktree.ModePRD
		}
	}
	if opts.epicID != "" {
		bc.EpicID = opts.epicID
		bc.Mode = worktree.ModeEpic
	}

	strategy := e.deps.SyncStrategy
	if opts.strategy != "" {
		s, err := worktree.ParseStrategy(opts.strategy)
		if err != nil {
			return bc, "", err
		}
		strategy = s
	}
	if strategy == worktree.StrategySquash {
		return bc, "", errors.NewValidationError("sync strategy must be merge or rebase").
			WithField("strategy").WithValue(string(strategy))
	}
	return bc, strategy, nil
}

func (a *App) printSync(report *worktree.SyncReport) error {
	for _, r := range report.Results {
		status := mutedStyle.Render("up to date")
		if r.Synced {
			status = successStyle.Render("synced by " + string(r.Strategy))
		}
		if len(r.Conflicts) > 0 {
			status = warnStyle.Render("conflict, aborted")
		}
		fmt.Fprintf(a.stdout, "%s <- %s  %s\n", r.Branch, r.Upstream, status)
		for _, f := range r.Conflicts {
			fmt.Fprintf(a.stdout, "  %s\n", f)
		}
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(a.stdout, "%s  %s\n", s, mutedStyle.Render("skipped, branch missing"))
	}
	if len(report.Results) == 0 && len(report.Skipped) == 0 && report.Err == nil {
		fmt.Fprintln(a.stdout, "Nothing to sync in flat mode.")
	}
	if report.Err != nil {
		return a.failWith(report.Err, "", nil)
	}
	return nil
}
