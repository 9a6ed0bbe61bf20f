package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/svcgate/svcgate/internal/engine"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print whether the firewall engine is running",
	Long:  `Print ACTIVE or INACTIVE for the firewall engine itself.`,
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	return runQuery(func(ctx context.Context, eng *engine.Engine) (string, error) {
		state, err := eng.FirewallState(ctx)
		if err != nil {
			return "", err
		}
		return state.String(), nil
	})
}
