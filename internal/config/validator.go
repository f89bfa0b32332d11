package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
// Returns an error if validation fails
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if err := v.validateProjectConfig(&cfg.Project); err != nil {
		return arkerrors.NewConfigError("project", cfg.Project.Root, err)
	}

	if err := v.validateInputConfig(&cfg.Input); err != nil {
		return arkerrors.NewConfigError("input", cfg.Input.Package, err)
	}

	if err := v.validateSnapshotConfig(&cfg.Snapshot); err != nil {
		return arkerrors.NewConfigError("snapshot", cfg.Snapshot.Compression, err)
	}

	if err := v.validateExtractConfig(&cfg.Extract); err != nil {
		return arkerrors.NewConfigError("extract", cfg.Extract.AbcPath, err)
	}

	if err := v.validateResolveConfig(&cfg.Resolve); err != nil {
		return arkerrors.NewConfigError("resolve", "", err)
	}

	if cfg.Toolchain.TimeoutSec < 0 {
		return arkerrors.NewConfigError("toolchain.timeout_sec", fmt.Sprint(cfg.Toolchain.TimeoutSec),
			errors.New("timeout cannot be negative"))
	}

	return nil
}

func (v *Validator) validateProjectConfig(project *Project) error {
	if project.Root == "" {
		return errors.New("project root cannot be empty")
	}
	return nil
}

func (v *Validator) validateInputConfig(input *Input) error {
	if input.Package == "" && input.Disassembly == "" {
		return errors.New("either input.package or input.disassembly must be set")
	}
	if input.Package != "" {
		switch strings.ToLower(filepath.Ext(input.Package)) {
		case ".hap", ".app", ".zip":
		default:
			return fmt.Errorf("input.package must be a .hap/.app archive, got %q", filepath.Base(input.Package))
		}
	}
	return nil
}

func (v *Validator) validateSnapshotConfig(snap *Snapshot) error {
	switch snap.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return fmt.Errorf("unknown snapshot compression %q (want zstd, lz4 or none)", snap.Compression)
	}
	if snap.Enabled && snap.Path == "" {
		return errors.New("snapshot path cannot be empty when snapshots are enabled")
	}
	return nil
}

func (v *Validator) validateExtractConfig(extract *Extract) error {
	if extract.Dir == "" {
		return errors.New("extract dir cannot be empty")
	}
	clean := filepath.ToSlash(filepath.Clean(extract.AbcPath))
	if filepath.IsAbs(extract.AbcPath) || strings.HasPrefix(clean, "../") || clean == ".." {
		return fmt.Errorf("abc_path must be relative to the package root, got %q", extract.AbcPath)
	}
	return nil
}

func (v *Validator) validateResolveConfig(resolve *Resolve) error {
	if resolve.RegexCacheSize < 0 {
		return fmt.Errorf("regex_cache_size cannot be negative, got %d", resolve.RegexCacheSize)
	}
	if resolve.Suggestions < 0 {
		return fmt.Errorf("suggestions cannot be negative, got %d", resolve.Suggestions)
	}
	return nil
}

// setSmartDefaults fills zero values left by partial config files
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Project.Name == "" && cfg.Project.Root != "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}
	if cfg.Snapshot.Compression == "" {
		cfg.Snapshot.Compression = CompressionZstd
	}
	if cfg.Extract.AbcPath == "" {
		cfg.Extract.AbcPath = DefaultAbcPath
	}
	if cfg.Resolve.RegexCacheSize == 0 {
		cfg.Resolve.RegexCacheSize = 256
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = DefaultServerName
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	validator := NewValidator()
	return validator.ValidateAndSetDefaults(cfg)
}
