package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/svcgate/svcgate/internal/engine"
	"github.com/svcgate/svcgate/internal/rulestate"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Allow inbound access to the managed service",
	Long: `Transition the managed service to ALLOW, enabling the firewall first if
needed. Allowing an already-allowed service is a successful no-op.`,
	Args: cobra.NoArgs,
	RunE: runAllow,
}

func init() {
	rootCmd.AddCommand(allowCmd)
}

func runAllow(cmd *cobra.Command, args []string) error {
	return runMutation(rulestate.Allow, func(ctx context.Context, eng *engine.Engine) (engine.Outcome, error) {
		return eng.Allow(ctx)
	})
}
