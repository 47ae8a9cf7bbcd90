package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/knowhow-portal/internal/config"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show effective poll policies",
	Long: `Show the poll policy of every task kind: base and maximum poll interval,
attempts before a task is declared unreachable, the staleness ceiling and the
maximum runtime. Overrides are read from $KNOWHOW_POLICY_FILE.

Examples:
  knowhow-tasks policies
  KNOWHOW_POLICY_FILE=./policies.yaml knowhow-tasks policies`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := config.LoadPolicies(cfg.PolicyFile)
		if err != nil {
			return err
		}
		printPolicies(cmd.OutOrStdout(), policies)
		return nil
	},
}
