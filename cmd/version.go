package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.FleetwardVersion())
	},
}
