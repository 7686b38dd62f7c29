package cmd

import (
	"context"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/util"
)

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	log.Info("starting service")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := runDaemon(ctx); err != nil {
			log.Errorf("daemon exited: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	log.Info("service stopped")
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs fleetward as a service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logFile == "console" {
			logFile = defaultLogFile
		}
		if err := util.InitLog(logLevel, logFile); err != nil {
			return err
		}

		s, err := newSVC(&program{}, newSVCConfig())
		if err != nil {
			return err
		}
		return s.Run()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "starts the fleetward service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSVC(&program{}, newSVCConfig())
		if err != nil {
			return err
		}
		if err := s.Start(); err != nil {
			return err
		}
		cmd.Println("Fleetward service has been started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stops the fleetward service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSVC(&program{}, newSVCConfig())
		if err != nil {
			return err
		}
		if err := s.Stop(); err != nil {
			return err
		}
		cmd.Println("Fleetward service has been stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "restarts the fleetward service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSVC(&program{}, newSVCConfig())
		if err != nil {
			return err
		}
		if err := s.Restart(); err != nil {
			return err
		}
		cmd.Println("Fleetward service has been restarted")
		return nil
	},
}
