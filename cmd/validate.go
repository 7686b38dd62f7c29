package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/internal/validate"
)

var expectedVersion string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a post-update system validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{}
		if expectedVersion != "" {
			body["expected_version"] = expectedVersion
		}

		var result validate.Result
		if err := newAPIClient().post("/validate", body, &result); err != nil {
			return err
		}

		rendered, err := prettyPrint(result)
		if err != nil {
			return err
		}
		cmd.Println(rendered)

		if result.NeedsRollback {
			cmd.Println("Validation FAILED, rollback recommended.")
		} else {
			cmd.Println("Validation passed.")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&expectedVersion, "expected-version", "", "version the system is expected to run")
}
