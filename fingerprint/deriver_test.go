package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource is a mocked hardware signal.
type staticSource struct {
	name   string
	values []string
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Collect() ([]string, bool) {
	return s.values, len(s.values) > 0
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func mockedSources(cpu string, macs []string, machineID string) []SignalSource {
	return []SignalSource{
		staticSource{name: "cpu_model", values: []string{cpu}},
		staticSource{name: "ethernet_macs", values: macs},
		staticSource{name: "machine_id", values: []string{machineID}},
	}
}

func TestDeriver_Deterministic(t *testing.T) {
	sources := mockedSources("AMD Ryzen 7 5800X", []string{"52:54:00:aa:bb:cc", "52:54:00:dd:ee:ff"}, "4f2c9e")
	deriver := NewDeriver(discardLogger(), sources...)

	first := deriver.Derive()
	second := deriver.Derive()
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first.String(), interfaces.FingerprintPrefix))
	assert.NoError(t, first.Validate())

	expected := sha256.Sum256([]byte("AMD Ryzen 7 5800X|52:54:00:aa:bb:cc|52:54:00:dd:ee:ff|4f2c9e"))
	assert.Equal(t, "sha256:"+hex.EncodeToString(expected[:]), first.String())
}

func TestDeriver_EachSignalChangesDigest(t *testing.T) {
	base := NewDeriver(discardLogger(), mockedSources("cpu", []string{"52:54:00:aa:bb:cc"}, "machine")...).Derive()

	variants := []*Deriver{
		NewDeriver(discardLogger(), mockedSources("other cpu", []string{"52:54:00:aa:bb:cc"}, "machine")...),
		NewDeriver(discardLogger(), mockedSources("cpu", []string{"52:54:00:aa:bb:cd"}, "machine")...),
		NewDeriver(discardLogger(), mockedSources("cpu", []string{"52:54:00:aa:bb:cc"}, "machine2")...),
		NewDeriver(discardLogger(), mockedSources("cpu", []string{"52:54:00:aa:bb:cc", "52:54:00:00:00:01"}, "machine")...),
	}
	for i, variant := range variants {
		assert.NotEqual(t, base, variant.Derive(), "variant %d", i)
	}
}

func TestDeriver_NoSignalsStillValid(t *testing.T) {
	deriver := NewDeriver(discardLogger(),
		staticSource{name: "cpu_model"},
		staticSource{name: "ethernet_macs"},
		staticSource{name: "machine_id"},
	)

	fp := deriver.Derive()
	assert.NoError(t, fp.Validate())
	empty := sha256.Sum256(nil)
	assert.Equal(t, "sha256:"+hex.EncodeToString(empty[:]), fp.String())
}

func TestCPUModelSource(t *testing.T) {
	procRoot := t.TempDir()
	writeFile(t, filepath.Join(procRoot, "cpuinfo"), "processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Core(TM) i5-8250U CPU @ 1.60GHz\nprocessor\t: 1\nmodel name\t: Intel(R) Core(TM) i5-8250U CPU @ 1.60GHz\n")

	values, ok := CPUModelSource{ProcRoot: procRoot}.Collect()
	require.True(t, ok)
	assert.Equal(t, []string{"Intel(R) Core(TM) i5-8250U CPU @ 1.60GHz"}, values)

	_, ok = CPUModelSource{ProcRoot: t.TempDir()}.Collect()
	assert.False(t, ok)
}

func TestEthernetMACSource_OrderAndFiltering(t *testing.T) {
	sysRoot := t.TempDir()
	link := func(name, linkType, index, mac string) {
		dir := filepath.Join(sysRoot, "class/net", name)
		writeFile(t, filepath.Join(dir, "type"), linkType+"\n")
		writeFile(t, filepath.Join(dir, "ifindex"), index+"\n")
		writeFile(t, filepath.Join(dir, "address"), mac+"\n")
	}
	link("lo", "772", "1", "00:00:00:00:00:00")
	link("wlp2s0", "1", "3", "A4:C3:F0:11:22:33")
	link("enp1s0", "1", "2", "52:54:00:aa:bb:cc")
	link("wwan0", "519", "4", "")

	values, ok := EthernetMACSource{SysRoot: sysRoot}.Collect()
	require.True(t, ok)
	assert.Equal(t, []string{"52:54:00:aa:bb:cc", "a4:c3:f0:11:22:33"}, values)

	_, ok = EthernetMACSource{SysRoot: t.TempDir()}.Collect()
	assert.False(t, ok)
}

func TestMachineIDSource_PrefersMachineID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "etc/machine-id"), "0123456789abcdef0123456789abcdef\n")

	source := MachineIDSource{
		Paths:        []string{filepath.Join(dir, "etc/machine-id")},
		FallbackPath: filepath.Join(dir, DefaultFallbackPath),
		NewID:        func() string { t.Fatal("fallback must not be generated"); return "" },
	}
	values, ok := source.Collect()
	require.True(t, ok)
	assert.Equal(t, []string{"0123456789abcdef0123456789abcdef"}, values)

	_, err := os.Stat(source.FallbackPath)
	assert.True(t, os.IsNotExist(err))
}

func TestMachineIDSource_FallbackIsPersisted(t *testing.T) {
	dir := t.TempDir()
	generated := 0
	source := MachineIDSource{
		Paths:        []string{filepath.Join(dir, "etc/machine-id")},
		FallbackPath: filepath.Join(dir, DefaultFallbackPath),
		NewID: func() string {
			generated++
			return "f47ac10b-58cc-4372-a567-0e02b2c3d479"
		},
		Log: discardLogger(),
	}

	first, ok := source.Collect()
	require.True(t, ok)
	second, ok := source.Collect()
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, generated)

	info, err := os.Stat(source.FallbackPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestMachineIDSource_LostFallbackChangesFingerprint(t *testing.T) {
	dir := t.TempDir()
	ids := []string{"first-id", "second-id"}
	source := MachineIDSource{
		FallbackPath: filepath.Join(dir, DefaultFallbackPath),
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
		Log: discardLogger(),
	}
	deriver := NewDeriver(discardLogger(), source)

	before := deriver.Derive()
	require.NoError(t, os.Remove(source.FallbackPath))
	after := deriver.Derive()

	assert.NotEqual(t, before, after)
}

func TestHostDeriver_StableAcrossRuns(t *testing.T) {
	root := t.TempDir()

	first := NewHostDeriver(root, discardLogger()).Derive()
	second := NewHostDeriver(root, discardLogger()).Derive()

	assert.Equal(t, first, second)
	assert.NoError(t, first.Validate())
}
