// Package symbols derives the sorted qualified-identifier space of an artifact.
package symbols

import (
	"context"
	"sync"

	"github.com/kokifish/VulnerMCP/internal/artifact"
)

// Source is the part of the artifact store the index reads from.
type Source interface {
	EnsureReady(ctx context.Context) (*artifact.Artifact, error)
}

type ref struct {
	module, method string
}

// Snapshot is one immutable build of the index.
type Snapshot struct {
	IDs []string

	art  *artifact.Artifact
	refs map[string]ref
}

// Contains reports whether id is an identifier of the snapshot.
func (s *Snapshot) Contains(id string) bool {
	_, ok := s.refs[id]
	return ok
}

// Lookup returns the (module, method) pair id was built from. Identifiers
// unknown to the snapshot are split the way the disassembler names them.
func (s *Snapshot) Lookup(id string) (module, method string, ok bool) {
	if r, found := s.refs[id]; found {
		return r.module, r.method, true
	}
	module, method = Split(id)
	return module, method, false
}

// Artifact returns the artifact the snapshot was built from.
func (s *Snapshot) Artifact() *artifact.Artifact {
	return s.art
}

// Len returns the number of identifiers.
func (s *Snapshot) Len() int {
	return len(s.IDs)
}

// Index memoizes the identifier list per artifact. It is never partially
// updated: a rebuilt artifact replaces the whole snapshot.
type Index struct {
	src Source

	mu   sync.Mutex
	snap *Snapshot
}

// NewIndex creates an index over src.
func NewIndex(src Source) *Index {
	return &Index{src: src}
}

// All returns every identifier, module then method, both lexicographic.
func (ix *Index) All(ctx context.Context) ([]string, error) {
	snap, err := ix.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.IDs, nil
}

// Snapshot returns the memoized snapshot of the current artifact.
func (ix *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	a, err := ix.src.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.snap != nil && ix.snap.art == a {
		return ix.snap, nil
	}
	ix.snap = NewSnapshot(a)
	return ix.snap, nil
}

// NewSnapshot indexes a directly, without memoization.
func NewSnapshot(a *artifact.Artifact) *Snapshot {
	snap := &Snapshot{
		IDs:  make([]string, 0, a.MethodCount()),
		art:  a,
		refs: make(map[string]ref, a.MethodCount()),
	}
	for _, modName := range a.SortedModuleNames() {
		for _, name := range a.Modules[modName].SortedMethodNames() {
			id := modName + "." + name
			if _, dup := snap.refs[id]; dup {
				continue
			}
			snap.IDs = append(snap.IDs, id)
			snap.refs[id] = ref{module: modName, method: name}
		}
	}
	return snap
}

// Build lists the qualified identifiers of a in (module, method) order.
func Build(a *artifact.Artifact) []string {
	return NewSnapshot(a).IDs
}

// Split splits a qualified identifier back into module and method.
func Split(id string) (module, method string) {
	return artifact.SplitQualified(id)
}
