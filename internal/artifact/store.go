package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kokifish/VulnerMCP/internal/debug"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/version"
)

// StoreConfig is everything a Store needs to locate, build and persist the artifact.
type StoreConfig struct {
	Source          Source
	SnapshotEnabled bool
	SnapshotPath    string
	Compression     Compression
	ExtractDir      string // working directory for the raw package
	AbcPath         string // slash path of the bytecode inside the package
	DisassemblyOut  string // where the disassembler writes; derived from ExtractDir when empty
}

func (c StoreConfig) disassemblyOut() string {
	if c.DisassemblyOut != "" {
		return c.DisassemblyOut
	}
	base := strings.TrimSuffix(filepath.Base(c.Source.Path), filepath.Ext(c.Source.Path))
	return filepath.Join(filepath.Dir(c.ExtractDir), base+".abc.dis")
}

// Stats describes how the current artifact came to be.
type Stats struct {
	Ready         bool          `json:"ready" yaml:"ready"`
	Source        string        `json:"source" yaml:"source"`
	SourcePath    string        `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	SnapshotPath  string        `json:"snapshot_path,omitempty" yaml:"snapshot_path,omitempty"`
	FromSnapshot  bool          `json:"from_snapshot" yaml:"from_snapshot"`
	Builds        int           `json:"builds" yaml:"builds"`
	BuildDuration time.Duration `json:"build_duration_ns" yaml:"build_duration"`
	Modules       int           `json:"modules" yaml:"modules"`
	Methods       int           `json:"methods" yaml:"methods"`
	Generation    uint64        `json:"generation" yaml:"generation"`
	BuildID       string        `json:"build_id,omitempty" yaml:"build_id,omitempty"`
	LastError     string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Store owns the single artifact of the process. EnsureReady builds it at most
// once; concurrent callers during a build wait for that build.
type Store struct {
	cfg StoreConfig
	tc  Toolchain
	log debug.Logger

	group      singleflight.Group
	buildMu    sync.Mutex // serializes initial builds and rebuilds
	current    atomic.Pointer[Artifact]
	generation atomic.Uint64

	mu    sync.Mutex
	stats Stats
}

// NewStore creates a store. Nothing is built until EnsureReady.
func NewStore(cfg StoreConfig, tc Toolchain, log debug.Logger) *Store {
	if log == nil {
		log = debug.Nop
	}
	return &Store{
		cfg: cfg,
		tc:  tc,
		log: log,
		stats: Stats{
			Source:       cfg.Source.Kind.String(),
			SourcePath:   cfg.Source.Path,
			SnapshotPath: cfg.SnapshotPath,
		},
	}
}

// EnsureReady returns the shared artifact, loading or building it on first use.
// A build is not cancelled by ctx once started. A failed build is not cached.
func (s *Store) EnsureReady(ctx context.Context) (*Artifact, error) {
	if a := s.current.Load(); a != nil {
		return a, nil
	}
	v, err, _ := s.group.Do("ensure", func() (interface{}, error) {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()
		if a := s.current.Load(); a != nil {
			return a, nil
		}
		return s.initialize(context.WithoutCancel(ctx), true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Rebuild discards the snapshot and runs a full build, replacing the artifact.
// A build already in flight finishes first; concurrent Rebuild calls share one build.
func (s *Store) Rebuild(ctx context.Context) (*Artifact, error) {
	v, err, _ := s.group.Do("rebuild", func() (interface{}, error) {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()
		return s.initialize(context.WithoutCancel(ctx), false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Artifact returns the ready artifact without building it.
func (s *Store) Artifact() (*Artifact, error) {
	if a := s.current.Load(); a != nil {
		return a, nil
	}
	return nil, arkerrors.ErrUninitialized
}

// Generation increments every time a new artifact is published.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// ExtractRoot is the directory the raw package is extracted to.
func (s *Store) ExtractRoot() string {
	return s.cfg.ExtractDir
}

// Stats returns a copy of the build statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Generation = s.generation.Load()
	if a := s.current.Load(); a != nil {
		st.Ready = true
		st.Modules = len(a.Modules)
		st.Methods = a.MethodCount()
		st.BuildID = a.BuildID
	}
	return st
}

func (s *Store) initialize(ctx context.Context, useSnapshot bool) (*Artifact, error) {
	start := time.Now()

	if useSnapshot {
		if a, ok := s.loadSnapshot(); ok {
			s.ensureExtracted(ctx)
			s.publish(a, true, time.Since(start), nil)
			return a, nil
		}
	} else if s.cfg.SnapshotPath != "" {
		if err := os.Remove(s.cfg.SnapshotPath); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("failed to remove snapshot %s: %v", s.cfg.SnapshotPath, err)
		}
	}

	a, err := s.build(ctx)
	if err != nil {
		s.publish(nil, false, time.Since(start), err)
		return nil, err
	}

	if s.cfg.SnapshotEnabled && s.cfg.SnapshotPath != "" {
		if err := SaveSnapshot(s.cfg.SnapshotPath, a, s.cfg.Compression); err != nil {
			s.log.Warnf("failed to persist snapshot %s: %v", s.cfg.SnapshotPath, err)
		} else {
			s.log.Printf("snapshot saved to %s", s.cfg.SnapshotPath)
		}
	}

	s.publish(a, false, time.Since(start), nil)
	return a, nil
}

func (s *Store) publish(a *Artifact, fromSnapshot bool, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.LastError = err.Error()
		return
	}
	s.stats.LastError = ""
	s.stats.FromSnapshot = fromSnapshot
	s.stats.BuildDuration = took
	if !fromSnapshot {
		s.stats.Builds++
	}
	s.current.Store(a)
	s.generation.Add(1)
	s.log.Printf("artifact ready: %d modules, %d methods (snapshot=%v, %s)",
		len(a.Modules), a.MethodCount(), fromSnapshot, took)
}

// loadSnapshot adopts a trusted snapshot. Untrusted and stale snapshots are
// reported and treated as absent.
func (s *Store) loadSnapshot() (*Artifact, bool) {
	if !s.cfg.SnapshotEnabled || s.cfg.SnapshotPath == "" {
		return nil, false
	}
	a, err := LoadSnapshot(s.cfg.SnapshotPath)
	if err != nil {
		s.log.Printf("snapshot not used: %v", err)
		return nil, false
	}
	if src := s.cfg.Source; src.Kind != SourceNone {
		if a.Source.Path != "" && filepath.Clean(a.Source.Path) != filepath.Clean(src.Path) {
			s.log.Printf("snapshot %s is stale: built from %s, input is %s",
				s.cfg.SnapshotPath, a.Source.Path, src.Path)
			return nil, false
		}
		if a.Source.Fingerprint != 0 {
			if fp, _, err := Fingerprint(src.Path); err == nil && fp != a.Source.Fingerprint {
				s.log.Printf("snapshot %s is stale: input %s changed", s.cfg.SnapshotPath, src.Path)
				return nil, false
			}
		}
	}
	s.log.Printf("snapshot loaded from %s", s.cfg.SnapshotPath)
	return a, true
}

// ensureExtracted re-extracts the raw package when the artifact came from a
// snapshot but the working directory is gone, so file resources keep working.
func (s *Store) ensureExtracted(ctx context.Context) {
	if s.cfg.Source.Kind != SourceRawPackage || s.cfg.ExtractDir == "" || s.tc.Extractor == nil {
		return
	}
	if entries, err := os.ReadDir(s.cfg.ExtractDir); err == nil && len(entries) > 0 {
		return
	}
	if err := s.extract(ctx); err != nil {
		s.log.Warnf("re-extraction of %s failed: %v", s.cfg.Source.Path, err)
	}
}

func (s *Store) extract(ctx context.Context) error {
	if err := os.RemoveAll(s.cfg.ExtractDir); err != nil {
		return fmt.Errorf("clear %s: %w", s.cfg.ExtractDir, err)
	}
	if err := os.MkdirAll(s.cfg.ExtractDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", s.cfg.ExtractDir, err)
	}
	return s.tc.Extractor.Extract(ctx, s.cfg.Source.Path, s.cfg.ExtractDir)
}

// build runs extraction, disassembly, lifting and analysis strictly in order.
func (s *Store) build(ctx context.Context) (*Artifact, error) {
	src := s.cfg.Source
	var disPath string

	switch src.Kind {
	case SourcePrebuiltDisassembly:
		disPath = src.Path
		s.log.Printf("building from prebuilt disassembly %s", disPath)

	case SourceRawPackage:
		if s.tc.Extractor == nil || s.tc.Disassembler == nil {
			return nil, arkerrors.NewBuildError("locate", src.Path,
				fmt.Errorf("%w: no extractor or disassembler configured", arkerrors.ErrUninitialized))
		}
		s.log.Printf("extracting %s to %s", src.Path, s.cfg.ExtractDir)
		t0 := time.Now()
		if err := s.extract(ctx); err != nil {
			return nil, arkerrors.NewBuildError("extract", src.Path, fmt.Errorf("%w: %w", arkerrors.ErrUninitialized, err))
		}
		abcPath := filepath.Join(s.cfg.ExtractDir, filepath.FromSlash(s.cfg.AbcPath))
		if _, err := os.Stat(abcPath); err != nil {
			return nil, arkerrors.NewBuildError("extract", abcPath, fmt.Errorf("%w: %w", arkerrors.ErrUninitialized, err))
		}
		debug.LogStore("extract %s took %s\n", src.Path, time.Since(t0))
		disPath = s.cfg.disassemblyOut()
		s.log.Printf("disassembling %s to %s", abcPath, disPath)
		t0 = time.Now()
		if err := s.tc.Disassembler.Disassemble(ctx, abcPath, disPath); err != nil {
			return nil, arkerrors.NewBuildError("disassemble", abcPath, fmt.Errorf("%w: %w", arkerrors.ErrUninitialized, err))
		}
		debug.LogStore("disassemble %s took %s\n", abcPath, time.Since(t0))

	default:
		return nil, arkerrors.NewBuildError("locate", "",
			fmt.Errorf("%w: no package or disassembly input found", arkerrors.ErrUninitialized))
	}

	if s.tc.Reverser == nil {
		return nil, arkerrors.NewBuildError("parse", disPath,
			fmt.Errorf("%w: no reverser configured", arkerrors.ErrUninitialized))
	}
	t0 := time.Now()
	a, err := s.tc.Reverser.Parse(ctx, disPath)
	if err != nil {
		return nil, arkerrors.NewBuildError("parse", disPath, err)
	}
	debug.LogStore("parse %s took %s (%d methods)\n", disPath, time.Since(t0), a.MethodCount())
	t0 = time.Now()
	if err := s.tc.Reverser.Lift(ctx, a); err != nil {
		return nil, arkerrors.NewBuildError("lift", disPath, err)
	}
	debug.LogStore("lift took %s\n", time.Since(t0))
	t0 = time.Now()
	if err := s.tc.Reverser.Analyze(ctx, a); err != nil {
		return nil, arkerrors.NewBuildError("analyze", disPath, err)
	}
	debug.LogStore("analyze took %s\n", time.Since(t0))

	fp, size, err := Fingerprint(src.Path)
	if err != nil {
		s.log.Warnf("fingerprint of %s unavailable: %v", src.Path, err)
	}
	a.Source = SourceInfo{Kind: src.Kind, Path: src.Path, Size: size, Fingerprint: fp}
	a.BuiltAt = time.Now().UTC()
	a.BuildID = version.BuildID()
	return a, nil
}
