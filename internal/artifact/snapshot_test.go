package artifact_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	"github.com/kokifish/VulnerMCP/testhelpers"
)

func snapshotFixture() *artifact.Artifact {
	a := testhelpers.ArtifactOf("A.foo", "A.bar", "B.foo", testhelpers.HttpRequest)
	a.Source = artifact.SourceInfo{Kind: artifact.SourceRawPackage, Path: "/work/main.hap", Size: 42, Fingerprint: 0xfeed}
	a.BuiltAt = time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	a.BuildID = "0.2.0+test"
	return a
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, comp := range []artifact.Compression{artifact.CompressionNone, artifact.CompressionLZ4, artifact.CompressionZstd} {
		t.Run(comp.String(), func(t *testing.T) {
			want := snapshotFixture()
			data, err := artifact.EncodeSnapshot(want, comp)
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(data, []byte(artifact.SnapshotMagic)))

			got, err := artifact.DecodeSnapshot(data)
			require.NoError(t, err)
			assert.Equal(t, want.Modules, got.Modules)
			assert.Equal(t, want.Source, got.Source)
			assert.Equal(t, want.BuildID, got.BuildID)
			assert.True(t, want.BuiltAt.Equal(got.BuiltAt))
		})
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	a, err := artifact.EncodeSnapshot(snapshotFixture(), artifact.CompressionNone)
	require.NoError(t, err)
	b, err := artifact.EncodeSnapshot(snapshotFixture(), artifact.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSnapshot_UntrustedIsAbsent(t *testing.T) {
	valid, err := artifact.EncodeSnapshot(snapshotFixture(), artifact.CompressionNone)
	require.NoError(t, err)
	tagOffset := len(artifact.SnapshotMagic) + 2 + 2

	mutate := func(fn func(b []byte) []byte) []byte {
		c := append([]byte(nil), valid...)
		return fn(c)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not a snapshot")},
		{"magic only", []byte(artifact.SnapshotMagic)},
		{"truncated payload", valid[:len(valid)-7]},
		{"truncated header", valid[:tagOffset+3]},
		{"wrong version", mutate(func(b []byte) []byte { b[len(artifact.SnapshotMagic)+1]++; return b })},
		{"wrong type tag", mutate(func(b []byte) []byte { b[tagOffset] = 'X'; return b })},
		{"checksum mismatch", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b })},
		{"unknown compression", mutate(func(b []byte) []byte { b[tagOffset+len(artifact.SnapshotTypeTag)] = 9; return b })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := artifact.DecodeSnapshot(tt.data)
			assert.Nil(t, a)
			assert.ErrorIs(t, err, artifact.ErrSnapshotAbsent)
		})
	}
}

func TestSnapshot_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "main_pandare.snap")

	require.NoError(t, artifact.SaveSnapshot(path, snapshotFixture(), artifact.CompressionZstd))

	got, err := artifact.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 4, got.MethodCount())

	// the temp file is renamed away
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshot_LoadMissing(t *testing.T) {
	_, err := artifact.LoadSnapshot(filepath.Join(t.TempDir(), "nope.snap"))
	assert.ErrorIs(t, err, artifact.ErrSnapshotAbsent)
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]artifact.Compression{
		"":     artifact.CompressionNone,
		"none": artifact.CompressionNone,
		"lz4":  artifact.CompressionLZ4,
		"zstd": artifact.CompressionZstd,
	} {
		got, err := artifact.ParseCompression(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := artifact.ParseCompression("gzip")
	assert.Error(t, err)
}
