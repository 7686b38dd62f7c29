package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/internal/updater"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the update scheduler status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status updater.Status
		if err := newAPIClient().get("/status", &status); err != nil {
			return err
		}

		cmd.Printf("Active:         %v\n", status.Active)
		cmd.Printf("Next check:     %s\n", status.NextCheck.Format(time.RFC1123))
		cmd.Printf("Backoff factor: %d\n", status.BackoffFactor)
		if status.PendingUpdate != nil {
			cmd.Printf("Pending update: %s\n", status.PendingUpdate.Version)
		} else {
			cmd.Printf("Pending update: none\n")
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for an update now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result updater.CheckResult
		if err := newAPIClient().post("/check", nil, &result); err != nil {
			return err
		}

		if result.UpdateAvailable {
			cmd.Printf("Update %s available. Run \"fleetward apply\" to install it.\n", result.Version)
		} else {
			cmd.Println("No update available.")
		}
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the pending update",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result updater.ApplyResult
		if err := newAPIClient().post("/update", nil, &result); err != nil {
			return err
		}

		cmd.Printf("Update %s applied.\n", result.Version)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the last backup snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient().post("/rollback", nil, nil); err != nil {
			return err
		}
		cmd.Println("Backup restored.")
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent update checks and installs",
	RunE: func(cmd *cobra.Command, args []string) error {
		var records []historyRecord
		if err := newAPIClient().get(fmt.Sprintf("/history?limit=%d", historyLimit), &records); err != nil {
			return err
		}

		if len(records) == 0 {
			cmd.Println("No history yet.")
			return nil
		}
		for _, r := range records {
			outcome := "ok"
			if !r.Success {
				outcome = "failed: " + r.ErrorMessage
			}
			verb := "check"
			if r.UpdateExecuted {
				verb = "update"
			}
			v := r.Version
			if v == "" {
				v = "-"
			}
			cmd.Printf("%s  %-9s %-6s %-8s %s\n",
				r.Timestamp.Format(time.RFC3339), r.CheckType, verb, v, outcome)
		}
		return nil
	},
}

type historyRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	CheckType       string    `json:"check_type"`
	UpdateAvailable bool      `json:"update_available"`
	UpdateExecuted  bool      `json:"update_executed"`
	Version         string    `json:"version"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message"`
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of records to show")
}
