package pathing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirsFollowEnvironment(t *testing.T) {
	base := t.TempDir()
	t.Setenv(EnvConfigDir, filepath.Join(base, "etc"))
	t.Setenv(EnvDataDir, filepath.Join(base, "lib"))

	require.NoError(t, EnsureDirs())
	for _, dir := range []string{GetConfigDir(), GetDataDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(base, "lib", "iec-meter.db"), GetMeterDbPath())
}

func TestDefaultDirs(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	t.Setenv(EnvDataDir, "")
	assert.Equal(t, "/etc/iec_meter_reader", GetConfigDir())
	assert.Equal(t, "/var/lib/iec_meter_reader", GetDataDir())
}
