package cmd

import (
	"context"
	"runtime"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the fleetward system service",
}

var serviceName string

type program struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func init() {
	defaultServiceName := "fleetward"
	if runtime.GOOS == "windows" {
		defaultServiceName = "Fleetward"
	}
	serviceCmd.PersistentFlags().StringVarP(&serviceName, "service", "s", defaultServiceName, "fleetward system service name")

	serviceCmd.AddCommand(runCmd, startCmd, stopCmd, restartCmd, installCmd, uninstallCmd)
}

func newSVCConfig() *service.Config {
	config := &service.Config{
		Name:        serviceName,
		DisplayName: "Fleetward",
		Description: "Fleetward OTA update daemon",
		Option:      make(service.KeyValue),
	}

	if runtime.GOOS == "linux" {
		// Respected only by systemd systems
		config.Dependencies = []string{"After=network.target syslog.target"}
	}

	return config
}

func newSVC(prg *program, conf *service.Config) (service.Service, error) {
	return service.New(prg, conf)
}
