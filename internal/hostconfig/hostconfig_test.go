package hostconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mculink/hostbench/internal/hostconfig"
)

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRosterDefaultsCapacityAndEndianness(t *testing.T) {
	path := writeRoster(t, `
links:
  - name: elevator-1
    device: /dev/ttyUSB0
`)

	r, err := hostconfig.LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, r.Links, 1)
	assert.Equal(t, 16, r.Links[0].Capacity)
	require.NotNil(t, r.Links[0].LittleEndian)
	assert.True(t, *r.Links[0].LittleEndian)
}

func TestLoadRosterRejectsDuplicateNames(t *testing.T) {
	path := writeRoster(t, `
links:
  - name: a
    device: /dev/ttyUSB0
  - name: a
    device: /dev/ttyUSB1
`)

	_, err := hostconfig.LoadRoster(path)
	assert.Error(t, err)
}

func TestLoadRosterRejectsEmptyDevice(t *testing.T) {
	path := writeRoster(t, `
links:
  - name: a
    device: ""
`)

	_, err := hostconfig.LoadRoster(path)
	assert.Error(t, err)
}

func TestLoadRosterRejectsNoLinks(t *testing.T) {
	path := writeRoster(t, `links: []`)

	_, err := hostconfig.LoadRoster(path)
	assert.Error(t, err)
}

func TestParseFlagsDefaults(t *testing.T) {
	f, err := hostconfig.ParseFlags([]string{})
	require.NoError(t, err)
	assert.Equal(t, "roster.yaml", f.RosterFile)
	assert.False(t, f.Verbose)
}

func TestParseFlagsOverride(t *testing.T) {
	f, err := hostconfig.ParseFlags([]string{"--roster", "custom.yaml", "-v"})
	require.NoError(t, err)
	assert.Equal(t, "custom.yaml", f.RosterFile)
	assert.True(t, f.Verbose)
}
