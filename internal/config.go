// Package internal holds the daemon configuration: typed fields with
// defaults, loaded from a JSON file and resolved once at startup.
package internal

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/validate"
	"github.com/fleetward/fleetward/util"
)

const (
	// DefaultConfigPath is where the daemon looks for its configuration.
	DefaultConfigPath = "/etc/fleetward/config.json"
	// DefaultAPIAddress is the local address of the daemon's REST API.
	DefaultAPIAddress = "127.0.0.1:8723"

	defaultProductType = "robot-ai-standard"
	defaultVersionFile = "/etc/fleetward/version"
	defaultDataDir     = "/var/lib/fleetward"
	defaultSnapshotDir = "/var/lib/fleetward/backups"
)

// ProductConfig identifies the product variant this device runs.
type ProductConfig struct {
	Type        string `json:"type"`
	VersionFile string `json:"version_file"`
}

// StorageConfig locates the durable store.
type StorageConfig struct {
	DataDir      string `json:"data_dir"`
	HistoryLimit int    `json:"history_limit,omitempty"`
}

// DetectionConfig points at the release endpoint.
type DetectionConfig struct {
	ManifestURL string `json:"manifest_url"`
}

// ExecutionConfig describes how a staged artifact gets installed.
type ExecutionConfig struct {
	InstallCommand []string `json:"install_command,omitempty"`
}

// BackupConfig locates rollback snapshots.
type BackupConfig struct {
	SnapshotDir string `json:"snapshot_dir"`
	InstallRoot string `json:"install_root"`
	RollbackRef string `json:"rollback_ref,omitempty"`
}

// SchedulerConfig tunes the recurring check job.
type SchedulerConfig struct {
	MaxBackoff int `json:"max_backoff,omitempty"`
	// CheckHour/CheckMinute pin the daily check slot; -1 picks a random one.
	CheckHour   int `json:"check_hour"`
	CheckMinute int `json:"check_minute"`
}

// APIKeyConfig grants one caller an API key and the permissions it carries
// (status, check, apply). No permissions means status-only.
type APIKeyConfig struct {
	Key         string   `json:"key"`
	Permissions []string `json:"permissions,omitempty"`
}

// APIConfig configures the local REST/websocket surface. Keys maps a caller
// id to its access key; with no keys configured the daemon generates one at
// startup and logs it.
type APIConfig struct {
	ListenAddress string                  `json:"listen_address"`
	Keys          map[string]APIKeyConfig `json:"keys,omitempty"`
}

// Config is the root daemon configuration.
type Config struct {
	Product   ProductConfig   `json:"product"`
	Storage   StorageConfig   `json:"storage"`
	Detection DetectionConfig `json:"detection"`
	Execution ExecutionConfig `json:"execution"`
	Backup    BackupConfig    `json:"backup"`
	Scheduler SchedulerConfig `json:"scheduler"`
	API       APIConfig       `json:"api"`

	// Validation holds the base rule set; Products holds per-variant
	// overlays merged on top of it at load time.
	Validation validate.Rules            `json:"validation"`
	Products   map[string]validate.Rules `json:"products,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		Product: ProductConfig{
			Type:        defaultProductType,
			VersionFile: defaultVersionFile,
		},
		Storage: StorageConfig{DataDir: defaultDataDir},
		Backup: BackupConfig{
			SnapshotDir: defaultSnapshotDir,
			InstallRoot: "/",
		},
		Scheduler: SchedulerConfig{CheckHour: -1, CheckMinute: -1},
		API:       APIConfig{ListenAddress: DefaultAPIAddress},
	}
}

// ReadConfig loads the config file, creating it with defaults when missing,
// and resolves the validation rules for the configured product.
func ReadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Infof("config file %s not found, creating it with defaults", path)
		if err := util.WriteJson(path, config); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		config.resolve()
		return config, nil
	}

	if _, err := util.ReadJson(path, config); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	config.applyDefaults()
	config.resolve()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Product.Type == "" {
		c.Product.Type = defaultProductType
	}
	if c.Product.VersionFile == "" {
		c.Product.VersionFile = defaultVersionFile
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.Backup.SnapshotDir == "" {
		c.Backup.SnapshotDir = defaultSnapshotDir
	}
	if c.Backup.InstallRoot == "" {
		c.Backup.InstallRoot = "/"
	}
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = DefaultAPIAddress
	}
}

// resolve merges the product-specific validation overlay into the base rules
// and pins the version file, so validation never inspects raw config again.
func (c *Config) resolve() {
	if overlay, ok := c.Products[c.Product.Type]; ok {
		c.Validation.Merge(overlay)
	}
	if c.Validation.VersionFile == "" {
		c.Validation.VersionFile = c.Product.VersionFile
	}

	log.Infof("loaded validation rules for product %s: %d services, %d files, %d configs",
		c.Product.Type, len(c.Validation.Services), len(c.Validation.Files), len(c.Validation.Configs))
}
