package toolchain_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokifish/VulnerMCP/internal/toolchain"
	"github.com/kokifish/VulnerMCP/testhelpers"
)

func TestZipExtractor_Extract(t *testing.T) {
	dir := t.TempDir()
	hap := testhelpers.WriteHap(t, dir, testhelpers.SampleFiles())
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	require.NoError(t, toolchain.ZipExtractor{}.Extract(context.Background(), hap, dest))

	for name, want := range testhelpers.SampleFiles() {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestZipExtractor_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	hap := filepath.Join(dir, "evil.hap")
	require.NoError(t, os.WriteFile(hap, testhelpers.ZipBytes(t, map[string][]byte{
		"../../escaped.txt": []byte("boom"),
	}), 0644))
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	err := toolchain.ZipExtractor{}.Extract(context.Background(), hap, dest)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "..", "escaped.txt"))
}

func TestZipExtractor_NotAZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.hap")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

	assert.Error(t, toolchain.ZipExtractor{}.Extract(context.Background(), path, dir))
}
