package version

import goversion "github.com/hashicorp/go-version"

// set at build time with -ldflags "-X github.com/fleetward/fleetward/version.version=..."
var version = "development"

// FleetwardVersion returns the daemon version set at build time.
func FleetwardVersion() string {
	return version
}

// Normalized returns the build version as a parsed semantic version.
// A version string that does not parse (e.g. "development") maps to 0.0.0
// so callers can always compare.
func Normalized() *goversion.Version {
	v, err := goversion.NewVersion(version)
	if err != nil {
		v, _ = goversion.NewVersion("0.0.0")
	}
	return v
}
