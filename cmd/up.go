package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleetward/fleetward/internal"
	"github.com/fleetward/fleetward/internal/backup"
	"github.com/fleetward/fleetward/internal/detect"
	"github.com/fleetward/fleetward/internal/execute"
	"github.com/fleetward/fleetward/internal/store"
	"github.com/fleetward/fleetward/internal/updater"
	"github.com/fleetward/fleetward/internal/validate"
	"github.com/fleetward/fleetward/server"
	"github.com/fleetward/fleetward/util"
	"github.com/fleetward/fleetward/version"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the update daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("init log: %w", err)
		}
		return runDaemon(SetupCloseHandler())
	},
}

// runDaemon is the composition root: it constructs the store, collaborators,
// orchestrator and API server, starts them and blocks until ctx is done.
func runDaemon(ctx context.Context) error {
	config, err := internal.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if config.Detection.ManifestURL == "" {
		return fmt.Errorf("detection.manifest_url is not configured")
	}

	if err := os.MkdirAll(config.Storage.DataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sqlStore, err := store.NewSqliteStore(config.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := sqlStore.Close(); err != nil {
			log.Warnf("error closing store: %v", err)
		}
	}()

	validator := validate.NewValidator(config.Product.Type, config.Validation)
	detector := detect.NewManifestDetector(config.Detection.ManifestURL, config.Product.Type, func() string {
		return currentVersion(config)
	})
	executor := execute.NewArtifactExecutor(config.Execution.InstallCommand)
	restorer := backup.NewDirRestorer(config.Backup.SnapshotDir, config.Backup.InstallRoot)

	orchestrator := updater.New(updater.Config{
		ProductType:  config.Product.Type,
		MaxBackoff:   config.Scheduler.MaxBackoff,
		HistoryLimit: config.Storage.HistoryLimit,
		CheckHour:    config.Scheduler.CheckHour,
		CheckMinute:  config.Scheduler.CheckMinute,
		RollbackRef:  config.Backup.RollbackRef,
	}, sqlStore, detector, executor, restorer, validator, updater.NewDefaultScheduler())

	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	defer orchestrator.Stop()

	accessKeys := make(map[string]server.AccessKey, len(config.API.Keys))
	for id, key := range config.API.Keys {
		accessKeys[id] = server.AccessKey{Key: key.Key, Permissions: key.Permissions}
	}

	apiServer := server.NewServer(config.API.ListenAddress, accessKeys, orchestrator, validator)
	apiServer.Start(ctx)
	defer apiServer.Stop()

	log.Infof("fleetward %s up, product %s", version.FleetwardVersion(), config.Product.Type)
	<-ctx.Done()
	return nil
}

// currentVersion prefers the product version marker and falls back to the
// daemon's own build version.
func currentVersion(config *internal.Config) string {
	if bs, err := os.ReadFile(config.Product.VersionFile); err == nil {
		if v := strings.TrimSpace(string(bs)); v != "" {
			return v
		}
	}
	return version.FleetwardVersion()
}
