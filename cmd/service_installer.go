package cmd

import (
	"github.com/spf13/cobra"
)

func buildServiceArguments() []string {
	args := []string{
		"service",
		"run",
		"--log-level",
		logLevel,
	}

	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if logFile != "console" {
		args = append(args, "--log-file", logFile)
	}

	return args
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "installs fleetward as a system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcConfig := newSVCConfig()
		svcConfig.Arguments = buildServiceArguments()

		s, err := newSVC(&program{}, svcConfig)
		if err != nil {
			return err
		}
		if err := s.Install(); err != nil {
			return err
		}
		cmd.Println("Fleetward service has been installed")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "uninstalls the fleetward system service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSVC(&program{}, newSVCConfig())
		if err != nil {
			return err
		}
		if err := s.Uninstall(); err != nil {
			return err
		}
		cmd.Println("Fleetward service has been uninstalled")
		return nil
	},
}
