// Package core is the resource resolution and caching service. One Core is
// built at process start and handed to every protocol adapter; it owns the
// artifact store, the symbol index, the file tree and the resolver.
package core

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	"github.com/kokifish/VulnerMCP/internal/config"
	"github.com/kokifish/VulnerMCP/internal/debug"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/fetch"
	"github.com/kokifish/VulnerMCP/internal/filetree"
	"github.com/kokifish/VulnerMCP/internal/resolve"
	"github.com/kokifish/VulnerMCP/internal/symbols"
)

// Content is one resolved resource payload.
type Content struct {
	URI      string `json:"uri"`
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
	Text     string `json:"text"`
}

// SymbolEntry describes one listed symbol resource.
type SymbolEntry struct {
	ID     string `json:"id"`
	URI    string `json:"uri"`
	Module string `json:"module"`
	Method string `json:"method"`
}

// ModuleSummary counts the methods of one module.
type ModuleSummary struct {
	Name    string `json:"name"`
	Methods int    `json:"methods"`
}

// Stats is the status report of the service.
type Stats struct {
	Artifact    artifact.Stats `json:"artifact" yaml:"artifact"`
	Symbols     int            `json:"symbols" yaml:"symbols"`
	ExtractRoot string         `json:"extract_root" yaml:"extract_root"`
	Files       int            `json:"files" yaml:"files"`
}

// Core wires the store, index, tree, resolver and fetcher together.
type Core struct {
	cfg      *config.Config
	store    *artifact.Store
	index    *symbols.Index
	tree     *filetree.Tree
	resolver *resolve.Resolver
	fetcher  *fetch.Fetcher
	log      debug.Logger
}

// New builds a Core from cfg. Nothing expensive happens until the first
// request or an explicit EnsureReady.
func New(cfg *config.Config, tc artifact.Toolchain, log debug.Logger) (*Core, error) {
	if log == nil {
		log = debug.For("CORE")
	}
	comp, err := artifact.ParseCompression(cfg.Snapshot.Compression)
	if err != nil {
		return nil, arkerrors.NewConfigError("snapshot.compression", cfg.Snapshot.Compression, err)
	}
	src := artifact.ResolveSource(cfg.Input.Package, cfg.Input.Disassembly)
	log.Printf("input: %s %s", src.Kind, src.Path)

	store := artifact.NewStore(artifact.StoreConfig{
		Source:          src,
		SnapshotEnabled: cfg.Snapshot.Enabled,
		SnapshotPath:    cfg.Snapshot.Path,
		Compression:     comp,
		ExtractDir:      cfg.Extract.Dir,
		AbcPath:         cfg.Extract.AbcPath,
	}, tc, log)

	index := symbols.NewIndex(store)
	tree := filetree.New(cfg.Extract.Dir, log)
	if cfg.FileTree.Watch {
		if err := tree.Watch(); err != nil {
			log.Warnf("file watching disabled: %v", err)
		}
	}

	return &Core{
		cfg:   cfg,
		store: store,
		index: index,
		tree:  tree,
		resolver: resolve.New(index, tree, resolve.Options{
			RegexCacheSize: cfg.Resolve.RegexCacheSize,
			Suggestions:    cfg.Resolve.Suggestions,
			Logger:         log,
		}),
		fetcher: fetch.New(log),
		log:     log,
	}, nil
}

// EnsureReady loads or builds the artifact.
func (c *Core) EnsureReady(ctx context.Context) error {
	_, err := c.store.EnsureReady(ctx)
	return err
}

// Ready reports whether the artifact is available without building it.
func (c *Core) Ready() bool {
	_, err := c.store.Artifact()
	return err == nil
}

// Generation changes every time a new artifact is published.
func (c *Core) Generation() uint64 {
	return c.store.Generation()
}

// Rebuild discards the snapshot and rebuilds the artifact from the input.
func (c *Core) Rebuild(ctx context.Context) (artifact.Stats, error) {
	if _, err := c.store.Rebuild(ctx); err != nil {
		return c.store.Stats(), err
	}
	return c.store.Stats(), nil
}

// Resolve resolves a resource URI without fetching content.
func (c *Core) Resolve(ctx context.Context, uri string) (*resolve.Resolution, error) {
	ns, pattern, err := resolve.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return c.resolver.Resolve(ctx, pattern, ns)
}

// ReadURI resolves uri and fetches every match. Symbol URIs may yield many
// contents; file URIs yield exactly one.
func (c *Core) ReadURI(ctx context.Context, uri string) ([]Content, error) {
	res, err := c.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, res)
}

// Fetch reads the contents of a resolution. Symbol matches are read from the
// snapshot they were resolved against, so a rebuild in between cannot empty them.
func (c *Core) Fetch(ctx context.Context, res *resolve.Resolution) ([]Content, error) {
	if res.Namespace == resolve.NamespaceFile {
		f, err := c.fetcher.FetchFile(ctx, c.tree, res.Pattern, res.Matches)
		if err != nil {
			return nil, err
		}
		return []Content{{
			URI:      resolve.NamespaceFile.URI(f.Path),
			ID:       f.Path,
			MIMEType: f.MIMEType,
			Text:     f.Text,
		}}, nil
	}
	return c.fetchSymbols(ctx, res)
}

func (c *Core) fetchSymbols(ctx context.Context, res *resolve.Resolution) ([]Content, error) {
	snap := res.Snapshot
	if snap == nil {
		var err error
		if snap, err = c.index.Snapshot(ctx); err != nil {
			return nil, err
		}
	}
	texts, err := c.fetcher.FetchSymbols(ctx, snap, res.Matches)
	if err != nil {
		return nil, err
	}
	contents := make([]Content, len(texts))
	for i, text := range texts {
		contents[i] = Content{
			URI:      resolve.NamespaceSymbol.URI(res.Matches[i]),
			ID:       res.Matches[i],
			MIMEType: "text/plain",
			Text:     text,
		}
	}
	if len(contents) == 0 {
		return nil, arkerrors.NewNoMatchError(resolve.NamespaceSymbol.String(), res.Pattern, tierNames(res.Attempted))
	}
	return contents, nil
}

// ReadFile fetches the single text file matching pattern.
func (c *Core) ReadFile(ctx context.Context, pattern string) (*fetch.File, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	res, err := c.resolver.Resolve(ctx, pattern, resolve.NamespaceFile)
	if err != nil {
		return nil, err
	}
	return c.fetcher.FetchFile(ctx, c.tree, pattern, res.Matches)
}

// MatchFiles lists the extracted files selected by pattern.
func (c *Core) MatchFiles(ctx context.Context, pattern string) ([]string, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return c.tree.Match(ctx, pattern)
}

// ListSymbols returns every identifier with its resource URI.
func (c *Core) ListSymbols(ctx context.Context) ([]SymbolEntry, error) {
	snap, err := c.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]SymbolEntry, len(snap.IDs))
	for i, id := range snap.IDs {
		module, method, _ := snap.Lookup(id)
		entries[i] = SymbolEntry{
			ID:     id,
			URI:    resolve.NamespaceSymbol.URI(id),
			Module: module,
			Method: method,
		}
	}
	return entries, nil
}

// Modules returns every module with its method count, sorted by name.
func (c *Core) Modules(ctx context.Context) ([]ModuleSummary, error) {
	a, err := c.store.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	names := a.SortedModuleNames()
	out := make([]ModuleSummary, len(names))
	for i, name := range names {
		out[i] = ModuleSummary{Name: name, Methods: len(a.Modules[name].Methods)}
	}
	return out, nil
}

// Dump writes the full lifted listing of the package to w.
func (c *Core) Dump(ctx context.Context, w io.Writer) error {
	a, err := c.store.EnsureReady(ctx)
	if err != nil {
		return err
	}
	return a.WriteListing(w)
}

// DumpToFile writes the listing to path, or to the configured dump path when empty.
func (c *Core) DumpToFile(ctx context.Context, path string) (string, error) {
	if path == "" {
		path = c.cfg.Server.DumpPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriterSize(f, 4*1024*1024)
	if err := c.Dump(ctx, bw); err != nil {
		f.Close()
		return "", err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	c.log.Printf("listing written to %s", path)
	return path, nil
}

// Stats reports the store state. It does not trigger a build.
func (c *Core) Stats(ctx context.Context) Stats {
	st := Stats{
		Artifact:    c.store.Stats(),
		ExtractRoot: c.tree.Root(),
	}
	if st.Artifact.Ready {
		if snap, err := c.index.Snapshot(ctx); err == nil {
			st.Symbols = snap.Len()
		}
	}
	if files, err := c.tree.Files(ctx); err == nil {
		st.Files = len(files)
	}
	return st
}

// Config returns the configuration the core was built with.
func (c *Core) Config() *config.Config {
	return c.cfg
}

// Close stops background work.
func (c *Core) Close() error {
	return c.tree.Close()
}

func tierNames(tiers []resolve.Tier) []string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return names
}

// bareSymbolURI turns a free-form identifier into a symbol URI.
func bareSymbolURI(s string) string {
	if resolve.HasScheme(s) {
		return s
	}
	return resolve.SymbolScheme + strings.TrimSpace(s)
}
