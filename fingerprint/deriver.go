package fingerprint

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/guardian-os/device-provisioning/interfaces"
)

// signalSeparator joins individual signal values before hashing.
const signalSeparator = "|"

// DefaultFallbackPath is where a generated machine id is kept, relative to the installation root.
const DefaultFallbackPath = "var/lib/guardian/machine-id.fallback"

// Deriver implements interfaces.FingerprintDeriver over an ordered list of
// signal sources. The order of Sources is part of the fingerprint.
type Deriver struct {
	Sources []SignalSource
	log     *slog.Logger
}

// NewDeriver creates a deriver over explicit sources, mostly for tests.
func NewDeriver(log *slog.Logger, sources ...SignalSource) *Deriver {
	return &Deriver{
		Sources: sources,
		log:     log,
	}
}

// NewHostDeriver creates the production deriver: CPU model, Ethernet MACs,
// then machine id. root is the installation root the fallback id is
// persisted under; its own machine id is preferred over the running system's.
func NewHostDeriver(root string, log *slog.Logger) *Deriver {
	machineIDPaths := []string{filepath.Join(root, "etc/machine-id")}
	if filepath.Clean(root) != "/" {
		machineIDPaths = append(machineIDPaths, "/etc/machine-id")
	}
	machineIDPaths = append(machineIDPaths, "/var/lib/dbus/machine-id")

	return NewDeriver(log,
		CPUModelSource{ProcRoot: "/proc"},
		EthernetMACSource{SysRoot: "/sys"},
		MachineIDSource{
			Paths:        machineIDPaths,
			FallbackPath: filepath.Join(root, DefaultFallbackPath),
			Log:          log,
		},
	)
}

// Derive hashes every available signal into a DeviceFingerprint.
// It never fails: with no signals at all the digest covers the empty string
// and the identity is logged as low confidence.
func (d *Deriver) Derive() interfaces.DeviceFingerprint {
	var components []string
	var missing []string
	for _, source := range d.Sources {
		values, ok := source.Collect()
		if !ok {
			missing = append(missing, source.Name())
			continue
		}
		components = append(components, values...)
	}

	fp := interfaces.NewDeviceFingerprint([]byte(strings.Join(components, signalSeparator)))

	if len(components) == 0 {
		d.log.Warn("No hardware signals available, device fingerprint is low confidence",
			slog.String("fingerprint", fp.String()))
	} else if len(missing) > 0 {
		d.log.Debug("Some hardware signals unavailable",
			slog.Any("missing", missing),
			slog.Int("signals", len(components)))
	}

	return fp
}
