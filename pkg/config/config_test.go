package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("PATH_TRUNCATE", "")

	cfg, err := NewAppConfig("vprocd", "v0", "deadbeef", "2026-01-01", "test", false)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.RuntimeConfig.FdTableInitialCapacity)
	assert.Equal(t, 256, cfg.RuntimeConfig.MaxPtys)
	assert.Equal(t, "", cfg.PathTruncate)
}

func TestApplyEnvironmentPicksUpOverrides(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("PATH_TRUNCATE", "/tmp/sandbox-root")
	t.Setenv("PSCALI_SYSFILES_ROOT", "/opt/sysfiles")

	cfg, err := NewAppConfig("vprocd", "v0", "", "", "", false)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sandbox-root", cfg.PathTruncate)
	assert.Equal(t, "/opt/sysfiles", cfg.SysFilesRoot)
}

func TestWriteToRuntimeConfigRoundTrips(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())

	cfg, err := NewAppConfig("vprocd", "v0", "", "", "", false)
	require.NoError(t, err)

	err = cfg.WriteToRuntimeConfig(func(rc *RuntimeConfig) error {
		rc.MaxPtys = 4
		return nil
	})
	require.NoError(t, err)

	content, err := os.ReadFile(cfg.ConfigFilename())
	require.NoError(t, err)
	assert.Contains(t, string(content), "maxPtys: 4")
}

func TestValidateFillsZeroValues(t *testing.T) {
	rc := RuntimeConfig{}
	require.NoError(t, rc.Validate())
	assert.Equal(t, GetDefaultRuntimeConfig(), rc)
}

func TestValidateRejectsInsaneCapacity(t *testing.T) {
	rc := RuntimeConfig{FdTableInitialCapacity: 1 << 30}
	err := rc.Validate()
	require.Error(t, err)
}
