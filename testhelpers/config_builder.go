package testhelpers

import (
	"path/filepath"

	"github.com/kokifish/VulnerMCP/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configs rooted in
// a temporary directory.
// Usage:
//
//	cfg := testhelpers.NewTestConfigBuilder(t.TempDir()).
//		WithPackage(hap).
//		WithSnapshot(true, "zstd").
//		Build()
type TestConfigBuilder struct {
	cfg *config.Config
}

// NewTestConfigBuilder starts from the defaults with no input and snapshots disabled.
func NewTestConfigBuilder(root string) *TestConfigBuilder {
	cfg := config.Default(root)
	cfg.Input.Package = ""
	cfg.Input.Disassembly = ""
	cfg.Snapshot.Enabled = false
	cfg.Server.RegisterResources = false
	cfg.Toolchain.TimeoutSec = 0
	return &TestConfigBuilder{cfg: cfg}
}

// WithPackage sets the raw package input.
func (b *TestConfigBuilder) WithPackage(path string) *TestConfigBuilder {
	b.cfg.Input.Package = path
	return b
}

// WithDisassembly sets the prebuilt disassembly input.
func (b *TestConfigBuilder) WithDisassembly(path string) *TestConfigBuilder {
	b.cfg.Input.Disassembly = path
	return b
}

// WithSnapshot toggles snapshot persistence.
func (b *TestConfigBuilder) WithSnapshot(enabled bool, compression string) *TestConfigBuilder {
	b.cfg.Snapshot.Enabled = enabled
	b.cfg.Snapshot.Compression = compression
	return b
}

// WithExtractDir overrides the extraction directory.
func (b *TestConfigBuilder) WithExtractDir(dir string) *TestConfigBuilder {
	b.cfg.Extract.Dir = dir
	return b
}

// WithResources toggles per-identifier resource registration.
func (b *TestConfigBuilder) WithResources(enabled bool) *TestConfigBuilder {
	b.cfg.Server.RegisterResources = enabled
	return b
}

// Build returns the config.
func (b *TestConfigBuilder) Build() *config.Config {
	return b.cfg
}

// SnapshotPath is where the default config persists the artifact.
func SnapshotPath(root string) string {
	return filepath.Join(root, config.DefaultSnapshotName)
}
