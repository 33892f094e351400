package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/agentree/internal/config"
	"github.com/Iron-Ham/agentree/internal/diagnosis"
	"github.com/Iron-Ham/agentree/internal/event"
	"github.com/Iron-Ham/agentree/internal/lifecycle"
	"github.com/Iron-Ham/agentree/internal/logging"
	"github.com/Iron-Ham/agentree/internal/process"
	"github.com/Iron-Ham/agentree/internal/state"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

// env is everything a command needs for one repository.
type env struct {
	cfg      *config.Config
	v        *viper.Viper
	root     string
	stateDir string

	logger  *logging.Logger
	repo    *worktree.Manager
	store   *state.FileStore
	bus     *event.Bus
	deps    *lifecycle.Dependencies
	machine *lifecycle.Machine
}

// openEnv discovers the repository, loads configuration and wires the
// lifecycle machine over git, the file store and the process supervisor.
func (a *App) openEnv() (*env, error) {
	root, err := a.repoRoot()
	if err != nil {
		return nil, err
	}

	cfg, v, err := a.loadConfig(root)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, v: v, root: root, stateDir: cfg.Paths.ResolveStateDir(root)}

	e.logger = logging.NopLogger()
	if cfg.Logging.Enabled {
		e.logger, err = logging.NewLoggerWithRotation(e.stateDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log: %w", err)
		}
	}

	worktreeDir := cfg.Paths.ResolveWorktreeDir(root)
	opts := []worktree.Option{worktree.WithWorktreeRoot(worktreeDir), worktree.WithLogger(e.logger)}
	if cfg.Branching.MainBranch != "" {
		opts = append(opts, worktree.WithMainBranch(cfg.Branching.MainBranch))
	}
	e.repo = worktree.NewWithExecutor(root, worktree.NewCLICommandExecutor(), opts...)
	for _, dir := range []string{worktreeDir, e.stateDir} {
		if err := e.repo.EnsureExcluded(dir); err != nil {
			e.logger.Warn("failed to exclude agentree directory", "path", dir, "error", err.Error())
		}
	}

	e.store, err = state.NewFileStore(e.stateDir,
		state.WithLockTimeout(cfg.State.LockTimeout),
		state.WithLockRetries(cfg.State.LockRetries),
		state.WithLogger(e.logger))
	if err != nil {
		e.Close()
		return nil, err
	}

	mode, err := worktree.ParseMode(cfg.Branching.Mode)
	if err != nil {
		e.Close()
		return nil, err
	}
	syncStrategy, err := worktree.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		e.Close()
		return nil, err
	}
	mergeStrategy, err := worktree.ParseStrategy(cfg.Merge.Strategy)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.bus = event.NewBus(e.logger)
	e.deps = &lifecycle.Dependencies{
		Worktrees: e.repo,
		Store:     e.store,
		Supervisor: process.NewSupervisor(cfg.Agent.Command,
			process.WithLogDir(filepath.Join(e.stateDir, "logs")),
			process.WithLogger(e.logger)),
		Branching: worktree.BranchingContext{
			Mode:       mode,
			PRDID:      cfg.Branching.PRDID,
			EpicID:     cfg.Branching.EpicID,
			MainBranch: cfg.Branching.MainBranch,
		},
		SyncBeforeSpawn: cfg.Sync.BeforeSpawn,
		SyncStrategy:    syncStrategy,
		MergeStrategy:   mergeStrategy,
		Logger:          e.logger,
	}
	e.machine, err = lifecycle.NewDefaultMachine(e.deps, lifecycle.WithBus(e.bus))
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close flushes the debug log.
func (e *env) Close() {
	_ = e.logger.Close()
}

// warnDrift prints a warning for every transition whose worktree source
// state did not match the record.
func (e *env) warnDrift(w io.Writer) {
	e.bus.Subscribe(event.TypeWorktreeDrift, func(ev event.Event) {
		d, ok := ev.(event.WorktreeDriftEvent)
		if !ok {
			return
		}
		fmt.Fprintf(w, "%s %s: recorded worktree %s, transition expects %s\n",
			warnStyle.Render("drift"), d.TaskID, d.Recorded, d.Expected)
	})
}

// inspector returns a diagnosis inspector over the repository.
func (e *env) inspector() *diagnosis.Inspector {
	return diagnosis.NewInspector(e.repo,
		diagnosis.WithParallelism(e.cfg.Diagnose.Parallelism),
		diagnosis.WithBus(e.bus),
		diagnosis.WithLogger(e.logger))
}

// apply loads the record of taskID under the store lock and applies ev.
// A merge is followed by merge_ok or merge_conflict depending on its
// outcome, and a resolve by merge_ok, so one command finishes what git
// could finish. It returns every applied transition and the final record.
func (e *env) apply(taskID string, ev lifecycle.Event, c *lifecycle.Context) ([]*lifecycle.Result, *lifecycle.Record, error) {
	if err := worktree.ValidateTaskID(taskID); err != nil {
		return nil, nil, err
	}
	release, err := e.store.Lock()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = release() }()

	rec, err := e.store.Get(taskID)
	if err != nil {
		return nil, nil, err
	}
	c.TaskID = taskID
	c.Record = rec

	var results []*lifecycle.Result
	res, err := e.machine.Apply(rec.State, ev, c)
	if res != nil && err == nil {
		results = append(results, res)
	}
	if err != nil {
		return results, c.Record, err
	}

	next, ok := followUp(ev, c)
	if !ok {
		return results, c.Record, nil
	}
	fc := &lifecycle.Context{TaskID: taskID, Record: c.Record, KeepBranch: c.KeepBranch}
	res, err = e.machine.Apply(c.Record.State, next, fc)
	if err != nil {
		return results, fc.Record, err
	}
	return append(results, res), fc.Record, nil
}

func followUp(ev lifecycle.Event, c *lifecycle.Context) (lifecycle.Event, bool) {
	switch ev {
	case lifecycle.EventMerge:
		if c.MergeOutcome != nil && c.MergeOutcome.Conflict {
			return lifecycle.EventMergeConflict, true
		}
		return lifecycle.EventMergeOK, true
	case lifecycle.EventResolve:
		return lifecycle.EventMergeOK, true
	}
	return "", false
}
