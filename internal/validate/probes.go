package validate

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const (
	systemdDest                 = "org.freedesktop.systemd1"
	systemdObjectPath           = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdGetUnitMethod        = "org.freedesktop.systemd1.Manager.GetUnit"
	systemdUnitActiveStateProp  = "org.freedesktop.systemd1.Unit.ActiveState"
	systemdUnitActiveStateValue = "active"

	dbusDefaultFlag = 0
	probeTimeout    = 5 * time.Second
)

// Probes holds the primitive health checks the validator dispatches to.
// Each probe returns whether the target is healthy; internal probe errors
// are absorbed into a false result, never propagated.
type Probes struct {
	Systemd func(ctx context.Context, unit string) bool
	Process func(ctx context.Context, pattern string) bool
	Socket  func(ctx context.Context, host string, port int) bool
}

// SystemProbes returns the default probe set backed by D-Bus, the process
// table and TCP dialing.
func SystemProbes() Probes {
	return Probes{
		Systemd: systemdUnitActive,
		Process: processRunning,
		Socket:  socketReachable,
	}
}

// systemdUnitActive asks the systemd manager over the system bus whether the
// unit's ActiveState is "active". A unit that is not loaded, a missing bus or
// any call error all count as not running.
func systemdUnitActive(ctx context.Context, unit string) bool {
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		log.Tracef("error connecting to system bus: %s", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	obj := conn.Object(systemdDest, systemdObjectPath)

	var unitPath dbus.ObjectPath
	if err = obj.CallWithContext(ctx, systemdGetUnitMethod, dbusDefaultFlag, unit).Store(&unitPath); err != nil {
		log.Tracef("unit %s not known to systemd: %s", unit, err)
		return false
	}

	variant, err := conn.Object(systemdDest, unitPath).GetProperty(systemdUnitActiveStateProp)
	if err != nil {
		log.Tracef("error reading ActiveState of %s: %s", unit, err)
		return false
	}

	state, ok := variant.Value().(string)
	return ok && state == systemdUnitActiveStateValue
}

// processRunning reports whether any process name or command line contains
// the given pattern, mirroring pgrep -f semantics.
func processRunning(ctx context.Context, pattern string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		log.Tracef("error listing processes: %s", err)
		return false
	}

	for _, p := range processes {
		if name, err := p.NameWithContext(ctx); err == nil && strings.Contains(name, pattern) {
			return true
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil && strings.Contains(cmdline, pattern) {
			return true
		}
	}
	return false
}

// socketReachable dials host:port over TCP within the probe timeout.
func socketReachable(ctx context.Context, host string, port int) bool {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		log.Tracef("socket probe %s:%d failed: %s", host, port, err)
		return false
	}
	if err := conn.Close(); err != nil {
		log.Tracef("error closing probe connection: %s", err)
	}
	return true
}
