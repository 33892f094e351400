package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/agentree/internal/config"
	"github.com/Iron-Ham/agentree/internal/worktree"
)

func (a *App) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Long: `Show prints the configuration agentree would use in this repository:
defaults, the user config file, .agentree.yaml and AGENTREE_* environment
variables, merged in that order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}
			_, v, err := a.loadConfig(root)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(v.AllSettings())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print where configuration and state are read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}
			cfg, _, err := a.loadConfig(root)
			if err != nil {
				return err
			}
			userFile := config.ConfigFile()
			if a.cfgFile != "" {
				userFile = a.cfgFile
			}
			printField(a.stdout, "user", withPresence(userFile))
			printField(a.stdout, "project", withPresence(filepath.Join(root, config.ProjectFileName)))
			printField(a.stdout, "worktrees", cfg.Paths.ResolveWorktreeDir(root))
			printField(a.stdout, "state", cfg.Paths.ResolveStateDir(root))
			return nil
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}

// repoRoot finds the repository the command operates on.
func (a *App) repoRoot() (string, error) {
	start, err := a.startDir()
	if err != nil {
		return "", err
	}
	return worktree.FindGitRoot(start)
}

func withPresence(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path + " " + mutedStyle.Render("(not found)")
	}
	return path
}
