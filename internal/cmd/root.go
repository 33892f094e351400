// Package cmd implements the agentree command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/agentree/internal/config"
	"github.com/Iron-Ham/agentree/internal/errors"
	"github.com/Iron-Ham/agentree/internal/recovery"
)

// App is the agentree command tree together with its global flags.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	cfgFile  string
	repoDir  string
	logLevel string
}

// New builds the command tree.
func New() *App {
	a := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	a.root = &cobra.Command{
		Use:   "agentree",
		Short: "Agent lifecycle and git worktree orchestration",
		Long: `agentree drives coding agents through a lifecycle (spawn, run, complete,
merge) where every agent works in its own git worktree on its own task
branch, cut from a flat, PRD or epic branch hierarchy.

The declared state of each agent lives under .agentree/state. Use
"agentree diagnose" to compare it with what git and the process table
actually show, and "agentree recover" for remediation recipes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := a.root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is $HOME/.config/agentree/config.yaml)")
	pf.StringVarP(&a.repoDir, "repo", "C", "", "repository to operate on (default is the current directory)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	a.root.AddCommand(
		a.newAgentCmd(),
		a.newWorktreeCmd(),
		a.newSyncCmd(),
		a.newDiagnoseCmd(),
		a.newRecoverCmd(),
		a.newDiagramCmd(),
		a.newConfigCmd(),
	)
	a.root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.NewValidationError(err.Error())
	})
	validateArgsAsUsage(a.root)
	return a
}

// validateArgsAsUsage reports positional argument mistakes as validation
// errors, so they print like any other usage error.
func validateArgsAsUsage(c *cobra.Command) {
	if check := c.Args; check != nil {
		c.Args = func(cmd *cobra.Command, args []string) error {
			if err := check(cmd, args); err != nil {
				return errors.NewValidationError(err.Error())
			}
			return nil
		}
	}
	for _, sub := range c.Commands() {
		validateArgsAsUsage(sub)
	}
}

// WithOutput sets the writers commands print to.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the command line until it finishes or is interrupted.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.report(a.root.ExecuteContext(ctx))
}

// ExecuteWithArgs runs the command line with args instead of os.Args.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.report(a.root.ExecuteContext(ctx))
}

// Execute runs agentree with the process arguments.
func Execute() error {
	return New().Execute(context.Background())
}

// shownError is an error whose details a command already printed.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

func (a *App) report(err error) error {
	if err == nil {
		return nil
	}
	var shown *shownError
	if !errors.As(err, &shown) {
		a.printFailure(err, recovery.Params{})
	}
	return err
}

// loadConfig reads the user config file, then the repository's
// .agentree.yaml on top of it, then AGENTREE_* environment overrides.
func (a *App) loadConfig(repoDir string) (*config.Config, *viper.Viper, error) {
	v := config.NewViper()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", a.cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(config.ConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("failed to read config: %w", err)
			}
		}

		project := filepath.Join(repoDir, config.ProjectFileName)
		if _, err := os.Stat(project); err == nil {
			v.SetConfigFile(project)
			if err := v.MergeInConfig(); err != nil {
				return nil, nil, fmt.Errorf("failed to read %s: %w", project, err)
			}
		}
	}

	if a.logLevel != "" {
		v.Set("logging.level", a.logLevel)
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// startDir is where repository discovery starts.
func (a *App) startDir() (string, error) {
	if a.repoDir != "" {
		return a.repoDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}
