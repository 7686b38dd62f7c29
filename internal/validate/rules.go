// Package validate decides whether the system is healthy after an update has
// been applied. It runs four independent check domains (files, services,
// version, configs) and folds them into a single rollback verdict.
package validate

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// ServiceCheckType selects the probe used for a critical service.
type ServiceCheckType string

const (
	// ServiceSystemd queries the systemd manager over D-Bus for an active unit.
	ServiceSystemd ServiceCheckType = "systemd"
	// ServiceProcess scans the process table for a matching command line.
	ServiceProcess ServiceCheckType = "process"
	// ServiceSocket dials a host:port pair over TCP.
	ServiceSocket ServiceCheckType = "socket"
)

// ServiceRule names a critical service and how to probe it. For
// ServiceSocket the Name field carries a host:port pair.
type ServiceRule struct {
	Name string           `json:"name"`
	Type ServiceCheckType `json:"type"`
}

// UnmarshalJSON accepts both the short form ("sshd") and the object form
// ({"name": "sshd", "type": "systemd"}). The short form is a systemd unit.
func (r *ServiceRule) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		r.Type = ServiceSystemd
		return nil
	}

	type plain ServiceRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Type == "" {
		p.Type = ServiceSystemd
	}
	*r = ServiceRule(p)
	return nil
}

// FileRule names a critical file and, optionally, the octal permission bits
// it must carry (e.g. "644"). An empty Permission skips the permission check.
type FileRule struct {
	Path       string `json:"path"`
	Permission string `json:"permission,omitempty"`
}

// UnmarshalJSON accepts both a bare path string and the object form.
func (r *FileRule) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		r.Path = path
		return nil
	}

	type plain FileRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = FileRule(p)
	return nil
}

// ConfigRule names a config file whose structure must parse after an update.
// An empty Format is inferred from the file extension at load time.
type ConfigRule struct {
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
}

// UnmarshalJSON accepts both a bare path string and the object form.
func (r *ConfigRule) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		r.Path = path
		r.Format = inferFormat(path)
		return nil
	}

	type plain ConfigRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Format == "" {
		p.Format = inferFormat(p.Path)
	}
	*r = ConfigRule(p)
	return nil
}

func inferFormat(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "unknown"
	}
	return ext
}

// Rules enumerates everything the validator checks for one product variant.
type Rules struct {
	Services    []ServiceRule `json:"critical_services,omitempty"`
	Files       []FileRule    `json:"critical_files,omitempty"`
	Configs     []ConfigRule  `json:"config_files,omitempty"`
	VersionFile string        `json:"version_file,omitempty"`
}

// Merge appends another rule set (e.g. a product-specific overlay) onto r.
// A non-empty overlay version file wins.
func (r *Rules) Merge(other Rules) {
	r.Services = append(r.Services, other.Services...)
	r.Files = append(r.Files, other.Files...)
	r.Configs = append(r.Configs, other.Configs...)
	if other.VersionFile != "" {
		r.VersionFile = other.VersionFile
	}
}
