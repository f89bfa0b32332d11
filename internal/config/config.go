package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ConfigFileName is the per-project configuration file
const ConfigFileName = ".arkmcp.kdl"

// Default locations, relative to the project root
const (
	DefaultPackageName    = "main.hap"
	DefaultSnapshotName   = "main_pandare.snap"
	DefaultExtractDirName = "tmp_extract"
	DefaultDisasmPath     = "tools/ark_disasm"
	DefaultAbcPath        = "ets/modules.abc"
	DefaultDumpName       = "main.pa"
	DefaultServerName     = "ArkTS_Assembly_Analysis"
)

// Snapshot compression names accepted by the snapshot section
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

type Config struct {
	Version   int
	Project   Project
	Input     Input
	Snapshot  Snapshot
	Extract   Extract
	Toolchain Toolchain
	Resolve   Resolve
	FileTree  FileTree
	Server    Server
}

type Project struct {
	Root string
	Name string
}

// Input names the package to decompile. A prebuilt disassembly wins over the
// raw package when both exist.
type Input struct {
	Package     string // .hap/.app archive
	Disassembly string // .dis text produced by ark_disasm
}

type Snapshot struct {
	Enabled     bool
	Path        string
	Compression string // "zstd", "lz4" or "none"
}

type Extract struct {
	Dir     string // working directory, replaced on every fresh extraction
	AbcPath string // bytecode file inside the package handed to the disassembler
}

type Toolchain struct {
	Disasm     string // ark_disasm executable
	TimeoutSec int    // 0 = no timeout
}

type Resolve struct {
	RegexCacheSize int // compiled wildcard patterns kept in the LRU
	Suggestions    int // nearest identifiers attached to no-match errors
}

type FileTree struct {
	Watch bool // cache the extracted file listing and invalidate it with fsnotify
}

type Server struct {
	Name              string
	EagerInit         bool // build the artifact at startup instead of on first request
	RegisterResources bool // list every identifier as a concrete MCP resource once ready
	DumpPath          string
}

// Default returns the configuration used when no config file exists.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{
			Root: root,
			Name: filepath.Base(root),
		},
		Input: Input{
			Package: filepath.Join(root, DefaultPackageName),
		},
		Snapshot: Snapshot{
			Enabled:     true,
			Path:        filepath.Join(root, DefaultSnapshotName),
			Compression: CompressionZstd,
		},
		Extract: Extract{
			Dir:     filepath.Join(root, DefaultExtractDirName),
			AbcPath: DefaultAbcPath,
		},
		Toolchain: Toolchain{
			Disasm:     filepath.Join(root, DefaultDisasmPath),
			TimeoutSec: 600,
		},
		Resolve: Resolve{
			RegexCacheSize: 256,
			Suggestions:    3,
		},
		FileTree: FileTree{
			Watch: false,
		},
		Server: Server{
			Name:              DefaultServerName,
			EagerInit:         false,
			RegisterResources: true,
			DumpPath:          filepath.Join(root, DefaultDumpName),
		},
	}
}

func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot layers ~/.arkmcp.kdl, then the project config, over the defaults.
// An explicit path that does not exist is an error; the implicit project file is optional.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}
	absRoot, err := filepath.Abs(searchDir)
	if err != nil {
		absRoot = searchDir
	}

	cfg := Default(absRoot)

	// Step 1: global base config from the home directory (if exists)
	if homeDir, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(homeDir, ConfigFileName)
		if _, err := overlayFile(cfg, globalPath, absRoot); err != nil {
			return nil, err
		}
	}

	// Step 2: project config
	projectPath := filepath.Join(absRoot, ConfigFileName)
	explicit := path != "" && path != ConfigFileName
	if explicit {
		projectPath = path
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(absRoot, projectPath)
		}
	}
	found, err := overlayFile(cfg, projectPath, absRoot)
	if err != nil {
		return nil, err
	}
	if explicit && !found {
		return nil, fmt.Errorf("config file %s does not exist", projectPath)
	}

	// Step 3: .env file and environment overrides
	if err := LoadEnvFile(absRoot); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)

	return cfg, nil
}

// overlayFile parses the KDL file at path on top of cfg. Relative paths in the
// file resolve against root. Returns false when the file does not exist.
func overlayFile(cfg *Config, path, root string) (bool, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := parseKDLInto(cfg, string(content)); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(root)
	return true, nil
}

// resolvePaths makes every path field absolute relative to root.
func (c *Config) resolvePaths(root string) {
	if c.Project.Root != "" && !filepath.IsAbs(c.Project.Root) {
		c.Project.Root = filepath.Clean(filepath.Join(root, c.Project.Root))
	}
	base := c.Project.Root
	if base == "" {
		base = root
	}
	for _, p := range []*string{
		&c.Input.Package,
		&c.Input.Disassembly,
		&c.Snapshot.Path,
		&c.Extract.Dir,
		&c.Toolchain.Disasm,
		&c.Server.DumpPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Clean(filepath.Join(base, *p))
		}
	}
}

// LoadEnvFile loads KEY=VALUE pairs from root/.env without overriding
// variables already present in the environment.
func LoadEnvFile(root string) error {
	envPath := filepath.Join(root, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// ApplyEnv applies ARKMCP_* overrides.
func ApplyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if abs, err := filepath.Abs(v); err == nil {
				v = abs
			}
			*dst = v
		}
	}
	setString("ARKMCP_INPUT", &cfg.Input.Package)
	setString("ARKMCP_DISASSEMBLY", &cfg.Input.Disassembly)
	setString("ARKMCP_SNAPSHOT", &cfg.Snapshot.Path)
	setString("ARKMCP_EXTRACT_DIR", &cfg.Extract.Dir)
	setString("ARKMCP_DISASM", &cfg.Toolchain.Disasm)

	if v := os.Getenv("ARKMCP_SNAPSHOT_COMPRESSION"); v != "" {
		cfg.Snapshot.Compression = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("ARKMCP_EAGER_INIT"); v != "" {
		cfg.Server.EagerInit = parseBool(v)
	}
	if v := os.Getenv("ARKMCP_WATCH"); v != "" {
		cfg.FileTree.Watch = parseBool(v)
	}
	if v := os.Getenv("ARKMCP_DISASM_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Toolchain.TimeoutSec = n
		}
	}
}
