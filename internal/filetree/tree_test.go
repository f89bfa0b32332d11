package filetree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(`{"name":"`+name+`"}`), 0644))
	}
}

func TestTree_FilesAndMatch(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "module.json", "resources/base/element/string.json", "ets/modules.abc")
	tree := New(root, nil)

	files, err := tree.Files(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ets/modules.abc", "module.json", "resources/base/element/string.json"}, files)

	matched, err := tree.Match(context.Background(), "*.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"module.json", "resources/base/element/string.json"}, matched)

	matched, err = tree.Match(context.Background(), "nothing.txt")
	require.NoError(t, err)
	assert.Empty(t, matched)

	_, err = tree.Match(context.Background(), "[")
	assert.Error(t, err)
}

func TestTree_MissingRoot(t *testing.T) {
	tree := New(filepath.Join(t.TempDir(), "not-extracted"), nil)
	files, err := tree.Files(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestTree_Abs(t *testing.T) {
	root := t.TempDir()
	tree := New(root, nil)

	abs, err := tree.Abs("resources/base/element/string.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "resources", "base", "element", "string.json"), abs)

	_, err = tree.Abs("../outside.json")
	assert.Error(t, err)
}

func TestTree_WatchInvalidatesCache(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	writeFiles(t, root, "module.json")
	tree := New(root, nil)
	require.NoError(t, tree.Watch())
	defer tree.Close()

	files, err := tree.Files(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"module.json"}, files)

	writeFiles(t, root, "resources/new.json")
	require.Eventually(t, func() bool {
		files, err := tree.Files(context.Background())
		return err == nil && len(files) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, tree.Close())
	// closing twice is fine
	assert.NoError(t, tree.Close())
}
