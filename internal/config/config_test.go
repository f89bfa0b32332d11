package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points the home directory at an empty temp dir so a developer's
// ~/.arkmcp.kdl never leaks into the tests.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, key := range []string{
		"ARKMCP_INPUT", "ARKMCP_DISASSEMBLY", "ARKMCP_SNAPSHOT", "ARKMCP_EXTRACT_DIR",
		"ARKMCP_DISASM", "ARKMCP_SNAPSHOT_COMPRESSION", "ARKMCP_EAGER_INIT", "ARKMCP_WATCH",
		"ARKMCP_DISASM_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadWithRoot_DefaultConfigFallback(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()

	cfg, err := LoadWithRoot("", root)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Project.Root)
	assert.Equal(t, filepath.Join(root, DefaultPackageName), cfg.Input.Package)
	assert.Equal(t, filepath.Join(root, DefaultSnapshotName), cfg.Snapshot.Path)
	assert.Equal(t, filepath.Join(root, DefaultExtractDirName), cfg.Extract.Dir)
	assert.Equal(t, filepath.Join(root, DefaultDisasmPath), cfg.Toolchain.Disasm)
}

func TestLoadWithRoot_ProjectOverridesGlobal(t *testing.T) {
	home := isolateHome(t)
	root := t.TempDir()

	global := `
toolchain {
    disasm "/opt/ark/ark_disasm"
}
resolve {
    suggestions 7
}
`
	project := `
resolve {
    suggestions 1
}
`
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte(global), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte(project), 0644))

	cfg, err := LoadWithRoot("", root)
	require.NoError(t, err)

	assert.Equal(t, "/opt/ark/ark_disasm", cfg.Toolchain.Disasm, "global value should survive")
	assert.Equal(t, 1, cfg.Resolve.Suggestions, "project value should win")
}

func TestLoadWithRoot_ExplicitMissingFile(t *testing.T) {
	isolateHome(t)
	_, err := LoadWithRoot("does-not-exist.kdl", t.TempDir())
	assert.Error(t, err)
}

func TestLoadWithRoot_EnvOverrides(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()

	t.Setenv("ARKMCP_INPUT", filepath.Join(root, "other.hap"))
	t.Setenv("ARKMCP_SNAPSHOT_COMPRESSION", "LZ4")
	t.Setenv("ARKMCP_EAGER_INIT", "true")
	t.Setenv("ARKMCP_DISASM_TIMEOUT", "42")

	cfg, err := LoadWithRoot("", root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "other.hap"), cfg.Input.Package)
	assert.Equal(t, CompressionLZ4, cfg.Snapshot.Compression)
	assert.True(t, cfg.Server.EagerInit)
	assert.Equal(t, 42, cfg.Toolchain.TimeoutSec)
}

func TestLoadWithRoot_DotEnvFile(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()
	os.Unsetenv("ARKMCP_WATCH")
	t.Cleanup(func() { os.Unsetenv("ARKMCP_WATCH") })

	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("ARKMCP_WATCH=true\n"), 0644))

	cfg, err := LoadWithRoot("", root)
	require.NoError(t, err)
	assert.True(t, cfg.FileTree.Watch)
}
