package validate

import "time"

// FileDetail is the per-file outcome of the files domain.
type FileDetail struct {
	Exists             bool `json:"exists"`
	CorrectPermissions bool `json:"correct_permissions"`
}

// FileResult aggregates the files domain.
type FileResult struct {
	Success          bool                  `json:"success"`
	MissingFiles     []string              `json:"missing_files"`
	PermissionErrors []string              `json:"permission_errors"`
	Details          map[string]FileDetail `json:"details"`
}

// ServiceDetail is the per-service outcome of the services domain.
type ServiceDetail struct {
	Name    string           `json:"name"`
	Type    ServiceCheckType `json:"type"`
	Running bool             `json:"running"`
}

// ServiceResult aggregates the services domain.
type ServiceResult struct {
	Success        bool                     `json:"success"`
	FailedServices []string                 `json:"failed_services"`
	Details        map[string]ServiceDetail `json:"details"`
}

// VersionResult aggregates the version domain. A missing version file fails
// the domain even when no expected version was supplied.
type VersionResult struct {
	Success           bool   `json:"success"`
	VersionFileExists bool   `json:"version_file_exists"`
	CurrentVersion    string `json:"current_version,omitempty"`
	ExpectedVersion   string `json:"expected_version,omitempty"`
	VersionMatch      bool   `json:"version_match"`
}

// ConfigDetail is the per-file outcome of the configs domain.
type ConfigDetail struct {
	Exists bool   `json:"exists"`
	Valid  bool   `json:"valid"`
	Format string `json:"format"`
}

// ConfigResult aggregates the configs domain.
type ConfigResult struct {
	Success        bool                    `json:"success"`
	MissingConfigs []string                `json:"missing_configs"`
	InvalidConfigs []string                `json:"invalid_configs"`
	Details        map[string]ConfigDetail `json:"details"`
}

// Result is the full outcome of one validation run. Success is the AND of
// all four domains; NeedsRollback is its negation.
type Result struct {
	Timestamp       time.Time     `json:"timestamp"`
	Success         bool          `json:"success"`
	NeedsRollback   bool          `json:"needs_rollback"`
	Duration        time.Duration `json:"validation_time"`
	ProductType     string        `json:"product_type,omitempty"`
	CurrentVersion  string        `json:"version,omitempty"`
	ExpectedVersion string        `json:"expected_version,omitempty"`

	Files    FileResult    `json:"file_validation"`
	Services ServiceResult `json:"service_validation"`
	Version  VersionResult `json:"version_validation"`
	Configs  ConfigResult  `json:"config_validation"`
}
