package fingerprint

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/guardian-os/device-provisioning/storage"
)

// arphrdEther is the sysfs link type of Ethernet-family interfaces (wired and wireless).
const arphrdEther = "1"

// SignalSource yields one hardware signal. A source that has nothing to
// report returns ok == false; absence is expected and never an error.
type SignalSource interface {
	Name() string
	Collect() (values []string, ok bool)
}

// CPUModelSource reads the first "model name" line of cpuinfo.
type CPUModelSource struct {
	ProcRoot string
}

func (s CPUModelSource) Name() string { return "cpu_model" }

func (s CPUModelSource) Collect() ([]string, bool) {
	file, err := os.Open(filepath.Join(s.ProcRoot, "cpuinfo"))
	if err != nil {
		return nil, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if model := strings.TrimSpace(parts[1]); model != "" {
					return []string{model}, true
				}
			}
		}
	}
	return nil, false
}

// EthernetMACSource lists the MAC address of every Ethernet-family network
// interface in kernel enumeration order (ascending ifindex).
type EthernetMACSource struct {
	SysRoot string
}

func (s EthernetMACSource) Name() string { return "ethernet_macs" }

func (s EthernetMACSource) Collect() ([]string, bool) {
	netDir := filepath.Join(s.SysRoot, "class/net")
	entries, err := os.ReadDir(netDir)
	if err != nil {
		return nil, false
	}

	type link struct {
		index int
		name  string
		mac   string
	}
	var links []link
	for _, entry := range entries {
		interfaceDir := filepath.Join(netDir, entry.Name())
		if readSysfsString(filepath.Join(interfaceDir, "type")) != arphrdEther {
			continue
		}
		mac := strings.ToLower(readSysfsString(filepath.Join(interfaceDir, "address")))
		if mac == "" {
			continue
		}
		index, err := strconv.Atoi(readSysfsString(filepath.Join(interfaceDir, "ifindex")))
		if err != nil {
			index = int(^uint(0) >> 1)
		}
		links = append(links, link{index: index, name: entry.Name(), mac: mac})
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].index != links[j].index {
			return links[i].index < links[j].index
		}
		return links[i].name < links[j].name
	})

	macs := make([]string, 0, len(links))
	for _, l := range links {
		macs = append(macs, l.mac)
	}
	return macs, len(macs) > 0
}

// MachineIDSource returns the persistent machine identifier. When the host
// has none, a random identifier is generated once and persisted at
// FallbackPath so later runs derive the same fingerprint.
//
// If the fallback file is lost the fingerprint changes. That is a known
// limitation of hosts without a machine id, not something to hide.
type MachineIDSource struct {
	Paths        []string
	FallbackPath string

	// NewID generates the fallback identifier. Defaults to a random UUID.
	NewID func() string

	Log *slog.Logger
}

func (s MachineIDSource) Name() string { return "machine_id" }

func (s MachineIDSource) Collect() ([]string, bool) {
	for _, path := range s.Paths {
		if id := readSysfsString(path); id != "" {
			return []string{id}, true
		}
	}

	if s.FallbackPath == "" {
		return nil, false
	}
	if id := readSysfsString(s.FallbackPath); id != "" {
		return []string{id}, true
	}

	newID := s.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	id := newID()

	if err := s.persist(id); err != nil && s.Log != nil {
		s.Log.Warn("Could not persist fallback machine id, fingerprint will change on next run",
			slog.String("path", s.FallbackPath), "err", err)
	}
	return []string{id}, true
}

func (s MachineIDSource) persist(id string) error {
	if err := storage.EnsurePrivateDir(filepath.Dir(s.FallbackPath)); err != nil {
		return err
	}
	return storage.WriteFileAtomic(s.FallbackPath, []byte(id+"\n"), 0600)
}

// readSysfsString reads a small text file and trims surrounding whitespace.
// Missing or unreadable files yield an empty string.
func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
