package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentree/internal/lifecycle"
)

func (a *App) newDiagramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagram",
		Short: "Print the lifecycle transition table",
		Long: `Diagram prints every state with the events it accepts, the guards and
actions each transition runs and the worktree state change it declares.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(a.stdout, lifecycle.Diagram(lifecycle.DefaultTable()))
			return nil
		},
	}
}
