package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetward/fleetward/internal/validate"
)

func TestReadConfig_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	config, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "robot-ai-standard", config.Product.Type)
	assert.Equal(t, "/etc/fleetward/version", config.Product.VersionFile)
	assert.Equal(t, "/var/lib/fleetward", config.Storage.DataDir)
	assert.Equal(t, DefaultAPIAddress, config.API.ListenAddress)
	assert.Equal(t, -1, config.Scheduler.CheckHour)
	// base rules fall back to the product version file
	assert.Equal(t, "/etc/fleetward/version", config.Validation.VersionFile)

	// the file was written out so the next boot sees the same settings
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.Product, again.Product)
}

func TestReadConfig_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"product": {"type": "robot-ai-lite"},
		"detection": {"manifest_url": "https://releases.local/manifest.json"}
	}`), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "robot-ai-lite", config.Product.Type)
	assert.Equal(t, "https://releases.local/manifest.json", config.Detection.ManifestURL)
	// everything left unset keeps the defaults
	assert.Equal(t, "/etc/fleetward/version", config.Product.VersionFile)
	assert.Equal(t, "/var/lib/fleetward", config.Storage.DataDir)
	assert.Equal(t, "/", config.Backup.InstallRoot)
	assert.Equal(t, DefaultAPIAddress, config.API.ListenAddress)
}

func TestReadConfig_ProductOverlayMerged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"product": {"type": "robot-ai-vision", "version_file": "/etc/vision/version"},
		"validation": {
			"critical_services": ["core.service"],
			"critical_files": ["/usr/bin/core"]
		},
		"products": {
			"robot-ai-vision": {
				"critical_services": [{"name": "vision-pipeline", "type": "process"}],
				"config_files": ["/etc/vision/camera.yaml"]
			},
			"robot-ai-lite": {
				"critical_services": ["unrelated.service"]
			}
		}
	}`), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)

	// base rules plus the matching overlay only
	require.Len(t, config.Validation.Services, 2)
	assert.Equal(t, validate.ServiceRule{Name: "core.service", Type: validate.ServiceSystemd},
		config.Validation.Services[0])
	assert.Equal(t, validate.ServiceRule{Name: "vision-pipeline", Type: validate.ServiceProcess},
		config.Validation.Services[1])
	require.Len(t, config.Validation.Configs, 1)
	assert.Equal(t, "yaml", config.Validation.Configs[0].Format)

	// rules version file pinned from the product section
	assert.Equal(t, "/etc/vision/version", config.Validation.VersionFile)
}

func TestReadConfig_ExplicitRulesVersionFileWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"product": {"version_file": "/etc/product/version"},
		"validation": {"version_file": "/opt/app/version"}
	}`), 0644))

	config, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/app/version", config.Validation.VersionFile)
}

func TestReadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := ReadConfig(path)
	require.Error(t, err)
}
