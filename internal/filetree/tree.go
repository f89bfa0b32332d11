// Package filetree matches gitignore-style patterns against the extracted
// package tree and classifies the matched files by content kind.
package filetree

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kokifish/VulnerMCP/internal/debug"
	"github.com/kokifish/VulnerMCP/pkg/pathutil"
)

// Tree is the extracted package directory. Matching is stateless unless
// Watch is enabled, in which case the file listing is cached and dropped on
// any filesystem event below the root.
type Tree struct {
	root string
	log  debug.Logger

	mu      sync.RWMutex
	files   []string
	cached  bool
	version uint64 // bumped on every invalidation
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a tree rooted at root.
func New(root string, log debug.Logger) *Tree {
	if log == nil {
		log = debug.Nop
	}
	return &Tree{root: root, log: log}
}

// Root returns the absolute extraction root.
func (t *Tree) Root() string {
	return t.root
}

// Files lists every regular file below the root as sorted slash paths.
// A missing root yields an empty list.
func (t *Tree) Files(ctx context.Context) ([]string, error) {
	t.mu.RLock()
	if t.cached {
		files := t.files
		t.mu.RUnlock()
		return files, nil
	}
	watching := t.watcher != nil
	version := t.version
	t.mu.RUnlock()

	files, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	if watching {
		t.mu.Lock()
		// a change during the scan makes this listing stale
		if t.version == version {
			t.files, t.cached = files, true
		}
		t.mu.Unlock()
	}
	return files, nil
}

func (t *Tree) scan(ctx context.Context) ([]string, error) {
	info, err := os.Stat(t.root)
	if err != nil || !info.IsDir() {
		return []string{}, nil
	}
	var files []string
	err = filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, pathutil.ToSlashRelative(p, t.root))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Match returns the files selected by the gitignore-style pattern, sorted.
func (t *Tree) Match(ctx context.Context, pattern string) ([]string, error) {
	m, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	files, err := t.Files(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0)
	for _, f := range files {
		if m.MatchFile(f) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// Abs converts a match result back into an absolute path below the root.
func (t *Tree) Abs(rel string) (string, error) {
	return pathutil.SafeJoin(t.root, rel)
}

// Watch enables the listing cache and starts invalidating it on changes.
func (t *Tree) Watch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(t.root, 0755); err != nil {
		w.Close()
		return err
	}
	if err := addWatches(w, t.root); err != nil {
		w.Close()
		return err
	}
	t.watcher = w
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.processEvents(w, t.done)
	t.log.Printf("watching %s", t.root)
	return nil
}

func addWatches(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

func (t *Tree) processEvents(w *fsnotify.Watcher, done chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatches(w, event.Name); err != nil {
						t.log.Printf("watch %s: %v", event.Name, err)
					}
				}
			}
			t.invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			t.log.Warnf("file watcher error: %v", err)
			t.invalidate()
		}
	}
}

func (t *Tree) invalidate() {
	t.mu.Lock()
	t.files, t.cached = nil, false
	t.version++
	t.mu.Unlock()
}

// Close stops the watcher, if any.
func (t *Tree) Close() error {
	t.mu.Lock()
	w, done := t.watcher, t.done
	t.watcher, t.done = nil, nil
	t.files, t.cached = nil, false
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	t.wg.Wait()
	return err
}
