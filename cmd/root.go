package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/internal"
)

const (
	defaultLogFileDir = "/var/log/fleetward/"
	defaultLogFile    = defaultLogFileDir + "daemon.log"
)

var (
	configPath string
	logLevel   string
	logFile    string
	daemonAddr string
	apiKey     string

	rootCmd = &cobra.Command{
		Use:          "fleetward",
		Short:        "Fleetward OTA update daemon",
		Long:         "Fleetward keeps an embedded device up to date: it periodically checks for releases, applies them, validates the result and rolls back when the system comes up unhealthy.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", internal.DefaultConfigPath, "daemon config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets the daemon log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "console", "sets the log output, \"console\" or a file path")
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "daemon-addr", "http://"+internal.DefaultAPIAddress, "address of the running daemon's API")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "k", "", "API key for the daemon's API")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serviceCmd)
}

// SetupCloseHandler returns a context cancelled on SIGINT/SIGTERM.
func SetupCloseHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-termCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	return ctx
}
