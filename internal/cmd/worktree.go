package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/worktree"
)

func (a *App) newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Inspect and repair task worktrees directly",
		Long: `The worktree subcommands operate on git without touching the declared
agent records. They are meant for inspection and for recovery when a
record and the repository disagree; use "agentree agent" for normal work.`,
	}
	cmd.AddCommand(
		a.newWorktreeListCmd(),
		a.newWorktreeStatusCmd(),
		a.newWorktreeCreateCmd(),
		a.newWorktreeRemoveCmd(),
		a.newWorktreeCleanupCmd(),
		a.newWorktreePruneCmd(),
	)
	return cmd
}

// withRepo opens the environment for a command that only needs git.
func (a *App) withRepo(fn func(e *env) error) error {
	e, err := a.openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func (a *App) newWorktreeListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task worktrees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				list := e.repo.ListAgentWorktrees
				if all {
					list = e.repo.ListWorktrees
				}
				infos, err := list()
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Fprintln(a.stdout, "No task worktrees.")
					return nil
				}
				for _, wt := range infos {
					branch := wt.Branch
					if wt.Detached {
						branch = "(detached " + shortHead(wt.Head) + ")"
					}
					task := wt.TaskID
					if task == "" {
						task = "-"
					}
					line := fmt.Sprintf("%-10s %-24s %s", fit(task, 10), fit(branch, 24), mutedStyle.Render(wt.Path))
					if wt.Prunable {
						line += " " + warnStyle.Render("(prunable)")
					}
					fmt.Fprintln(a.stdout, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include the main checkout and worktrees not owned by a task")
	return cmd
}

func shortHead(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func (a *App) newWorktreeStatusCmd() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "status <task>",
		Short: "Show existence, cleanliness and divergence of a task worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				if base == "" {
					if rec, err := e.store.Get(args[0]); err == nil {
						base = rec.BaseBranch
					}
				}
				st := e.repo.WorktreeStatus(args[0], base)

				fmt.Fprintln(a.stdout, titleStyle.Render(st.TaskID))
				printField(a.stdout, "path", st.Path)
				printField(a.stdout, "branch", st.Branch)
				printField(a.stdout, "base", st.BaseBranch)
				if !st.Exists {
					printField(a.stdout, "worktree", warnStyle.Render("missing"))
				} else {
					clean := successStyle.Render("clean")
					if !st.Clean {
						clean = warnStyle.Render("dirty")
					}
					printField(a.stdout, "worktree", clean)
					if st.CurrentBranch != st.Branch {
						printField(a.stdout, "checked out", warnStyle.Render(orDetached(st.CurrentBranch)))
					}
					if st.Conflicts > 0 {
						printField(a.stdout, "conflicts", fmt.Sprint(st.Conflicts))
					}
				}
				printField(a.stdout, "divergence", fmt.Sprintf("%d ahead, %d behind", st.Ahead, st.Behind))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Branch to compare against (default: the recorded base, else main)")
	return cmd
}

func orDetached(branch string) string {
	if branch == "" {
		return "detached HEAD"
	}
	return branch
}

func (a *App) newWorktreeCreateCmd() *cobra.Command {
	var (
		base     string
		existing bool
	)
	cmd := &cobra.Command{
		Use:   "create <task>",
		Short: "Create a task worktree without recording a transition",
		Long: `Create cuts task/<task> from --base and checks it out in the task's
worktree. A leftover task branch with no commits is recreated; one with
commits is refused. Pass --existing to check out the existing task branch
as it is, which recovers a worktree deleted from disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				if err := worktree.ValidateTaskID(args[0]); err != nil {
					return err
				}
				if base == "" {
					if rec, err := e.store.Get(args[0]); err == nil {
						base = rec.BaseBranch
					}
				}
				res, err := e.repo.CreateWorktree(args[0], worktree.CreateOptions{BaseBranch: base, Existing: existing})
				if err != nil {
					return a.failWith(err, args[0], nil)
				}
				fmt.Fprintf(a.stdout, "%s %s\n", successStyle.Render("created"), res.Path)
				printField(a.stdout, "branch", res.Branch)
				printField(a.stdout, "base", res.BaseBranch)
				if res.Recreated {
					fmt.Fprintln(a.stdout, mutedStyle.Render("an empty leftover task branch was recreated"))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Branch to cut the task branch from (default: the recorded base, else the current branch)")
	cmd.Flags().BoolVar(&existing, "existing", false, "Check out the existing task branch instead of cutting a new one")
	return cmd
}

func (a *App) newWorktreeRemoveCmd() *cobra.Command {
	opts := worktree.RemoveOptions{}
	cmd := &cobra.Command{
		Use:   "remove <task>",
		Short: "Remove a task worktree and its branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				if err := e.repo.RemoveWorktree(args[0], opts); err != nil {
					return a.failWith(err, args[0], nil)
				}
				fmt.Fprintf(a.stdout, "%s %s\n", successStyle.Render("removed"), e.repo.WorktreePath(args[0]))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Remove even with local changes")
	cmd.Flags().BoolVar(&opts.KeepBranch, "keep-branch", false, "Keep the task branch")
	return cmd
}

func (a *App) newWorktreeCleanupCmd() *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "cleanup <task>",
		Short: "Remove everything a task left behind, continuing past failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				if remote == "" {
					remote = e.cfg.Merge.Remote
				}
				res := e.repo.CleanupWorktree(args[0], worktree.CleanupOptions{Remote: remote})
				for _, r := range res.Removed {
					fmt.Fprintf(a.stdout, "%s %s\n", successStyle.Render("removed"), r)
				}
				for _, msg := range res.Errors {
					fmt.Fprintf(a.stderr, "%s %s\n", errorStyle.Render("failed"), msg)
				}
				if len(res.Removed) == 0 && len(res.Errors) == 0 {
					fmt.Fprintln(a.stdout, "Nothing to clean up.")
				}
				if len(res.Errors) > 0 {
					return &shownError{err: fmt.Errorf("cleanup of %s finished with %d error(s)", args[0], len(res.Errors))}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "Also delete the task branch on this remote (default: merge.remote)")
	return cmd
}

func (a *App) newWorktreePruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop git metadata for worktrees missing from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRepo(func(e *env) error {
				pruned, err := e.repo.PruneWorktrees()
				if err != nil {
					return err
				}
				if len(pruned) == 0 {
					fmt.Fprintln(a.stdout, "Nothing to prune.")
					return nil
				}
				for _, p := range pruned {
					fmt.Fprintf(a.stdout, "%s %s\n", successStyle.Render("pruned"), p)
				}
				return nil
			})
		},
	}
}
