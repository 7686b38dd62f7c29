package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Validator checks system integrity after an update. It is stateless: every
// ValidateSystem call produces a fresh Result and persists nothing.
type Validator struct {
	rules       Rules
	productType string
	probes      Probes
}

// NewValidator creates a validator for the given product rule set using the
// default system probes.
func NewValidator(productType string, rules Rules) *Validator {
	return NewValidatorWithProbes(productType, rules, SystemProbes())
}

// NewValidatorWithProbes creates a validator with custom probes. Used by
// tests and by callers that need to stub out the environment.
func NewValidatorWithProbes(productType string, rules Rules, probes Probes) *Validator {
	return &Validator{
		rules:       rules,
		productType: productType,
		probes:      probes,
	}
}

// ValidateFiles checks existence and permission bits of every critical file.
func (v *Validator) ValidateFiles(ctx context.Context) FileResult {
	result := FileResult{
		Success:          true,
		MissingFiles:     []string{},
		PermissionErrors: []string{},
		Details:          map[string]FileDetail{},
	}

	for _, rule := range v.rules.Files {
		if rule.Path == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		detail := FileDetail{}
		info, err := os.Stat(rule.Path)
		if err != nil {
			result.MissingFiles = append(result.MissingFiles, rule.Path)
			result.Success = false
			result.Details[rule.Path] = detail
			continue
		}

		detail.Exists = true
		detail.CorrectPermissions = permissionMatches(info.Mode(), rule.Permission)
		if !detail.CorrectPermissions {
			result.PermissionErrors = append(result.PermissionErrors, rule.Path)
			result.Success = false
		}
		result.Details[rule.Path] = detail
	}

	if !result.Success {
		log.Errorf("file validation failed, missing: %v, wrong permissions: %v",
			result.MissingFiles, result.PermissionErrors)
	}
	return result
}

func permissionMatches(mode os.FileMode, expected string) bool {
	if expected == "" {
		return true
	}
	want, err := strconv.ParseUint(expected, 8, 32)
	if err != nil {
		log.Warnf("invalid expected permission %q: %v", expected, err)
		return false
	}
	return uint32(mode.Perm()) == uint32(want)
}

// ValidateServices probes every critical service with its declared check type.
func (v *Validator) ValidateServices(ctx context.Context) ServiceResult {
	result := ServiceResult{
		Success:        true,
		FailedServices: []string{},
		Details:        map[string]ServiceDetail{},
	}

	for _, rule := range v.rules.Services {
		if rule.Name == "" {
			continue
		}

		detail := ServiceDetail{Name: rule.Name, Type: rule.Type}
		switch rule.Type {
		case ServiceSystemd:
			detail.Running = v.probes.Systemd(ctx, rule.Name)
		case ServiceProcess:
			detail.Running = v.probes.Process(ctx, rule.Name)
		case ServiceSocket:
			detail.Running = v.probeSocket(ctx, rule.Name)
		default:
			log.Warnf("unknown service check type %q for %s", rule.Type, rule.Name)
		}

		if !detail.Running {
			result.FailedServices = append(result.FailedServices, rule.Name)
			result.Success = false
		}
		result.Details[rule.Name] = detail
	}

	if !result.Success {
		log.Errorf("service validation failed: %v", result.FailedServices)
	}
	return result
}

// probeSocket splits a host:port target and dials it. A malformed target is
// a failed probe, not an error.
func (v *Validator) probeSocket(ctx context.Context, target string) bool {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		log.Warnf("malformed socket target %q: %v", target, err)
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		log.Warnf("malformed socket port in %q", target)
		return false
	}
	return v.probes.Socket(ctx, host, port)
}

// ValidateVersion reads the version marker file and compares it against the
// expected version, when one is supplied. A missing marker fails the domain
// outright.
func (v *Validator) ValidateVersion(_ context.Context, expectedVersion string) VersionResult {
	result := VersionResult{
		Success:         true,
		ExpectedVersion: expectedVersion,
	}

	bs, err := os.ReadFile(v.rules.VersionFile)
	if err != nil {
		log.Errorf("version file %s not readable: %v", v.rules.VersionFile, err)
		result.Success = false
		return result
	}

	result.VersionFileExists = true
	result.CurrentVersion = strings.TrimSpace(string(bs))

	if expectedVersion != "" {
		result.VersionMatch = result.CurrentVersion == expectedVersion
		result.Success = result.VersionMatch
		if !result.VersionMatch {
			log.Errorf("version mismatch: current %s, expected %s", result.CurrentVersion, expectedVersion)
		}
	}

	return result
}

// ValidateConfigs checks that every declared config file exists and parses
// in its declared or inferred format. Unrecognized formats get an
// existence-only check.
func (v *Validator) ValidateConfigs(ctx context.Context) ConfigResult {
	result := ConfigResult{
		Success:        true,
		MissingConfigs: []string{},
		InvalidConfigs: []string{},
		Details:        map[string]ConfigDetail{},
	}

	for _, rule := range v.rules.Configs {
		if rule.Path == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		detail := ConfigDetail{Format: rule.Format}
		bs, err := os.ReadFile(rule.Path)
		if err != nil {
			result.MissingConfigs = append(result.MissingConfigs, rule.Path)
			result.Success = false
			result.Details[rule.Path] = detail
			continue
		}
		detail.Exists = true

		switch rule.Format {
		case "json":
			detail.Valid = json.Unmarshal(bs, new(any)) == nil
		case "yaml", "yml":
			var out any
			detail.Valid = yaml.Unmarshal(bs, &out) == nil
		default:
			detail.Valid = true
		}

		if !detail.Valid {
			result.InvalidConfigs = append(result.InvalidConfigs, rule.Path)
			result.Success = false
		}
		result.Details[rule.Path] = detail
	}

	if !result.Success {
		log.Errorf("config validation failed, missing: %v, invalid: %v",
			result.MissingConfigs, result.InvalidConfigs)
	}
	return result
}

// ValidateSystem runs all four domains and folds them into a verdict. All
// domains are always evaluated so a single report surfaces every failure
// class at once. Probe-level faults are absorbed into the result; the method
// never fails for them.
func (v *Validator) ValidateSystem(ctx context.Context, expectedVersion string) *Result {
	start := time.Now()

	files := v.ValidateFiles(ctx)
	services := v.ValidateServices(ctx)
	version := v.ValidateVersion(ctx, expectedVersion)
	configs := v.ValidateConfigs(ctx)

	success := files.Success && services.Success && version.Success && configs.Success

	result := &Result{
		Timestamp:       start,
		Success:         success,
		NeedsRollback:   !success,
		Duration:        time.Since(start),
		ProductType:     v.productType,
		CurrentVersion:  version.CurrentVersion,
		ExpectedVersion: expectedVersion,
		Files:           files,
		Services:        services,
		Version:         version,
		Configs:         configs,
	}

	if success {
		log.Infof("system validation successful in %s", result.Duration)
	} else {
		log.Errorf("system validation failed in %s, rollback recommended: %s",
			result.Duration, result.failureSummary())
	}
	return result
}

func (r *Result) failureSummary() string {
	var parts []string
	if !r.Files.Success {
		parts = append(parts, fmt.Sprintf("files (missing %d, permissions %d)",
			len(r.Files.MissingFiles), len(r.Files.PermissionErrors)))
	}
	if !r.Services.Success {
		parts = append(parts, fmt.Sprintf("services (%v)", r.Services.FailedServices))
	}
	if !r.Version.Success {
		parts = append(parts, fmt.Sprintf("version (current %q, expected %q)",
			r.Version.CurrentVersion, r.Version.ExpectedVersion))
	}
	if !r.Configs.Success {
		parts = append(parts, fmt.Sprintf("configs (missing %d, invalid %d)",
			len(r.Configs.MissingConfigs), len(r.Configs.InvalidConfigs)))
	}
	return strings.Join(parts, ", ")
}
