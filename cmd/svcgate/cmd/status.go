package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/svcgate/svcgate/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the managed service's rule state",
	Long: `Print the classified rule state of the managed service: ALLOW, DENY or
PARTIAL, or INACTIVE when the firewall engine is not running.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runQuery(func(ctx context.Context, eng *engine.Engine) (string, error) {
		state, err := eng.RuleState(ctx)
		if err != nil {
			return "", err
		}
		return state.String(), nil
	})
}
