package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/diagnosis"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/watch"
)

func (a *App) newDiagnoseCmd() *cobra.Command {
	var all, watchMode bool
	cmd := &cobra.Command{
		Use:   "diagnose [task]",
		Short: "Compare declared agent state with what git and the OS report",
		Long: `Diagnose observes each agent's worktree, branch and process and lists
where they disagree with the declared record, followed by the steps that
reconcile them. Without a task every recorded agent is diagnosed, along
with task worktrees that have no record.

With --watch the diagnosis is repeated whenever a worktree or record
changes, until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 1 && !all {
				if err := a.diagnoseOne(e, args[0]); err != nil {
					return err
				}
			} else if err := a.diagnoseAll(cmd.Context(), e); err != nil {
				return err
			}

			if !watchMode {
				return nil
			}
			return a.watchDiagnose(cmd.Context(), e, args)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Diagnose every agent even when a task is given")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Diagnose again whenever a worktree or record changes")
	return cmd
}

func (a *App) diagnoseOne(e *env, taskID string) error {
	rec, err := e.store.Get(taskID)
	if err != nil {
		return err
	}
	printDiagnosis(a.stdout, e.inspector().DiagnoseAgentState(taskID, rec))
	return nil
}

func (a *App) diagnoseAll(ctx context.Context, e *env) error {
	records, err := e.store.List()
	if err != nil {
		return err
	}
	results, err := e.inspector().DiagnoseAll(ctx, records)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(a.stdout, "No agents to diagnose.")
		return nil
	}
	for _, d := range results {
		printDiagnosis(a.stdout, d)
	}
	if n := diagnosisCount(results); n > 0 {
		fmt.Fprintf(a.stdout, "\n%s\n", warnStyle.Render(fmt.Sprintf("%d of %d agents need attention", n, len(results))))
	}
	return nil
}

// watchDiagnose re-diagnoses the tasks whose worktree or record changed.
// With a task only that task is followed.
func (a *App) watchDiagnose(ctx context.Context, e *env, args []string) error {
	var only string
	if len(args) == 1 {
		only = args[0]
	}
	inspector := e.inspector()

	var w *watch.Watcher
	follow := func(rec *lifecycle.Record) {
		if rec.WorktreePath == "" {
			return
		}
		if err := w.Add(rec.TaskID, rec.WorktreePath, e.repo.GitDir(rec.WorktreePath)); err != nil {
			e.logger.Warn("failed to watch worktree", "task_id", rec.TaskID, "error", err.Error())
		}
	}

	onChange := func(ids []string) {
		fmt.Fprintf(a.stdout, "\n%s\n", mutedStyle.Render(time.Now().Format("15:04:05")))
		for _, id := range ids {
			if only != "" && id != only {
				continue
			}
			rec, err := e.store.Get(id)
			if err != nil {
				fmt.Fprintf(a.stderr, "%s %s: %v\n", errorStyle.Render("Error:"), id, err)
				continue
			}
			if rec.State == lifecycle.StateIdle && !e.store.Exists(id) {
				w.Remove(id)
				fmt.Fprintf(a.stdout, "%s %s\n", id, mutedStyle.Render("record removed"))
				continue
			}
			follow(rec)
			printDiagnosis(a.stdout, inspector.DiagnoseAgentState(id, rec))
		}
	}

	w, err := watch.New(onChange,
		watch.WithDebounce(e.cfg.Diagnose.WatchDebounce),
		watch.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	records, err := e.store.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if only == "" || rec.TaskID == only {
			follow(rec)
		}
	}
	if err := w.WatchRecords(e.store.Dir()); err != nil {
		return err
	}

	fmt.Fprintln(a.stderr, mutedStyle.Render("watching for changes, press Ctrl+C to stop"))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// diagnosisCount reports how many diagnoses found issues.
func diagnosisCount(results []*diagnosis.Diagnosis) int {
	n := 0
	for _, d := range results {
		if !d.OK() {
			n++
		}
	}
	return n
}
