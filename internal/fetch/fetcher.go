// Package fetch retrieves the payload of resolved identifiers.
package fetch

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kokifish/VulnerMCP/internal/debug"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/filetree"
	"github.com/kokifish/VulnerMCP/internal/symbols"
)

// SymbolHeader prefixes every symbol payload.
const SymbolHeader = "ArkTS assembly code of module name=%s  method name=%s:\n"

// FileTree is the part of the extracted tree the fetcher reads through.
type FileTree interface {
	Abs(rel string) (string, error)
}

// Fetcher reads symbol and file contents.
type Fetcher struct {
	log debug.Logger
}

// New creates a fetcher.
func New(log debug.Logger) *Fetcher {
	if log == nil {
		log = debug.Nop
	}
	return &Fetcher{log: log}
}

// FetchSymbols returns one content per id, in ids order. Lookups run
// concurrently, one per id. An id missing from the artifact yields "".
func (f *Fetcher) FetchSymbols(ctx context.Context, snap *symbols.Snapshot, ids []string) ([]string, error) {
	contents := make([]string, len(ids))
	if len(ids) == 0 {
		return contents, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			contents[i] = symbolText(snap, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}

func symbolText(snap *symbols.Snapshot, id string) string {
	module, method, _ := snap.Lookup(id)
	m, ok := snap.Artifact().Method(module, method)
	if !ok {
		return ""
	}
	return fmt.Sprintf(SymbolHeader, module, method) + m.Text()
}

// File is the payload of a single file match.
type File struct {
	Path     string        `json:"path"`
	Kind     filetree.Kind `json:"kind"`
	MIMEType string        `json:"mime_type"`
	Text     string        `json:"text"`
}

// FetchFile reads the one text file in matches. Zero matches is a no-match
// error, several is an ambiguous (warning-class) outcome and a non-text
// match is an unsupported-kind error.
func (f *Fetcher) FetchFile(ctx context.Context, tree FileTree, pattern string, matches []string) (*File, error) {
	switch len(matches) {
	case 0:
		return nil, arkerrors.NewNoMatchError("file", pattern, []string{"glob"})
	case 1:
	default:
		f.log.Warnf("file pattern %q matched %d files: %v", pattern, len(matches), matches)
		return nil, arkerrors.NewAmbiguousError(pattern, matches)
	}

	rel := matches[0]
	abs, err := tree.Abs(rel)
	if err != nil {
		return nil, err
	}
	kind, mimeType := filetree.Classify(abs)
	if kind != filetree.KindText {
		return nil, arkerrors.NewUnsupportedKindError(pattern, rel, string(kind), mimeType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if !utf8.Valid(data) {
		return nil, arkerrors.NewUnsupportedKindError(pattern, rel, string(kind), mimeType+" (invalid utf-8)")
	}
	return &File{Path: rel, Kind: kind, MIMEType: mimeType, Text: string(data)}, nil
}
