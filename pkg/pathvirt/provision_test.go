package pathvirt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnvironmentProvisionsTmpAndDev(t *testing.T) {
	prefix := t.TempDir()
	tr := New()
	tr.ApplyEnvironment(prefix, nil)

	assert.DirExists(t, filepath.Join(prefix, "tmp"))
	assert.DirExists(t, filepath.Join(prefix, "var", "tmp"))
	assert.DirExists(t, filepath.Join(prefix, "dev", "pts"))

	info, err := os.Lstat(filepath.Join(prefix, "dev", "null"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)

	assert.FileExists(t, filepath.Join(prefix, "dev", "pts", "ptmx"))
}

func TestApplyEnvironmentEmptyPrefixDisables(t *testing.T) {
	prefix := t.TempDir()
	tr := New()
	tr.ApplyEnvironment(prefix, nil)

	tr.ApplyEnvironment("", nil)
	assert.False(t, tr.Enabled())
}

func TestSlaveProvisionerCreatesAndRemovesPlaceholder(t *testing.T) {
	prefix := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "dev", "pts"), 0o755))

	prov := SlaveProvisioner{Prefix: prefix}
	require.NoError(t, prov.ProvisionSlave(3))

	path := filepath.Join(prefix, "dev", "pts", "3")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o620), info.Mode().Perm())

	require.NoError(t, prov.RemoveSlave(3))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSlaveProvisionerRemoveIsIdempotent(t *testing.T) {
	prefix := t.TempDir()
	prov := SlaveProvisioner{Prefix: prefix}
	require.NoError(t, prov.RemoveSlave(99))
}
