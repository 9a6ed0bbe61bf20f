package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/svcgate/svcgate/internal/engine"
	"github.com/svcgate/svcgate/internal/rulestate"
)

var denyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Deny inbound access to the managed service",
	Long: `Transition the managed service to DENY, removing every matching rule.
Denying an already-denied service, or one behind an inactive firewall, is a
successful no-op.`,
	Args: cobra.NoArgs,
	RunE: runDeny,
}

func init() {
	rootCmd.AddCommand(denyCmd)
}

func runDeny(cmd *cobra.Command, args []string) error {
	return runMutation(rulestate.Deny, func(ctx context.Context, eng *engine.Engine) (engine.Outcome, error) {
		return eng.Deny(ctx)
	})
}
