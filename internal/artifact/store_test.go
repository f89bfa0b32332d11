package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	"github.com/kokifish/VulnerMCP/internal/debug"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/testhelpers"
)

type storeFixture struct {
	root     string
	hap      string
	snapshot string
	extract  string
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	root := t.TempDir()
	return &storeFixture{
		root:     root,
		hap:      testhelpers.WriteHap(t, root, testhelpers.SampleFiles()),
		snapshot: testhelpers.SnapshotPath(root),
		extract:  filepath.Join(root, "tmp_extract"),
	}
}

func (f *storeFixture) store(tc *testhelpers.FakeToolchain, snapshots bool) *artifact.Store {
	return artifact.NewStore(artifact.StoreConfig{
		Source:          artifact.ResolveSource(f.hap, ""),
		SnapshotEnabled: snapshots,
		SnapshotPath:    f.snapshot,
		Compression:     artifact.CompressionZstd,
		ExtractDir:      f.extract,
		AbcPath:         "ets/modules.abc",
	}, tc.Toolchain(), nil)
}

func TestStore_BuildsFromPackage(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	s := f.store(tc, true)

	_, err := s.Artifact()
	require.ErrorIs(t, err, arkerrors.ErrUninitialized)

	a, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, a.MethodCount())
	assert.Equal(t, artifact.SourceRawPackage, a.Source.Kind)
	assert.NotZero(t, a.Source.Fingerprint)
	assert.NotEmpty(t, a.BuildID)

	assert.EqualValues(t, 1, tc.ExtractCalls.Load())
	assert.EqualValues(t, 1, tc.DisasmCalls.Load())
	assert.FileExists(t, f.snapshot)
	assert.FileExists(t, filepath.Join(f.extract, "module.json"))

	// lifted and analyzed
	m, ok := a.Method(artifact.SplitQualified(testhelpers.IndexAboutToAppear))
	require.True(t, ok)
	assert.Empty(t, m.Lines)
	assert.Equal(t, []string{testhelpers.HttpRequest}, m.Xrefs)

	again, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.EqualValues(t, 1, tc.DisasmCalls.Load())

	st := s.Stats()
	assert.True(t, st.Ready)
	assert.False(t, st.FromSnapshot)
	assert.Equal(t, 1, st.Builds)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, "raw_package", st.Source)
}

func TestStore_ValidSnapshotSkipsToolchain(t *testing.T) {
	f := newStoreFixture(t)
	first, err := f.store(testhelpers.NewFakeToolchain(), true).EnsureReady(context.Background())
	require.NoError(t, err)

	tc := testhelpers.NewFakeToolchain()
	s := f.store(tc, true)
	a, err := s.EnsureReady(context.Background())
	require.NoError(t, err)

	assert.Zero(t, tc.DisasmCalls.Load())
	assert.Zero(t, tc.ParseCalls.Load())
	assert.Zero(t, tc.ExtractCalls.Load())
	assert.Equal(t, first.Modules, a.Modules)
	assert.True(t, s.Stats().FromSnapshot)
	assert.Zero(t, s.Stats().Builds)
}

func TestStore_SnapshotReextractsMissingTree(t *testing.T) {
	f := newStoreFixture(t)
	_, err := f.store(testhelpers.NewFakeToolchain(), true).EnsureReady(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(f.extract))

	tc := testhelpers.NewFakeToolchain()
	_, err = f.store(tc, true).EnsureReady(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, tc.ExtractCalls.Load())
	assert.Zero(t, tc.DisasmCalls.Load())
	assert.FileExists(t, filepath.Join(f.extract, "module.json"))
}

func TestStore_CorruptSnapshotRebuilds(t *testing.T) {
	for name, content := range map[string][]byte{
		"empty":     {},
		"garbage":   []byte("not a snapshot at all"),
		"truncated": []byte(artifact.SnapshotMagic + "\x00"),
	} {
		t.Run(name, func(t *testing.T) {
			f := newStoreFixture(t)
			require.NoError(t, os.WriteFile(f.snapshot, content, 0644))

			tc := testhelpers.NewFakeToolchain()
			a, err := f.store(tc, true).EnsureReady(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 4, a.MethodCount())
			assert.EqualValues(t, 1, tc.DisasmCalls.Load())

			// replaced by a valid snapshot
			_, err = artifact.LoadSnapshot(f.snapshot)
			assert.NoError(t, err)
		})
	}
}

func TestStore_StaleSnapshotRebuilds(t *testing.T) {
	f := newStoreFixture(t)
	_, err := f.store(testhelpers.NewFakeToolchain(), true).EnsureReady(context.Background())
	require.NoError(t, err)

	// a different package at the same path
	files := testhelpers.SampleFiles()
	files["extra.txt"] = []byte("changed")
	testhelpers.WriteHap(t, f.root, files)

	tc := testhelpers.NewFakeToolchain()
	_, err = f.store(tc, true).EnsureReady(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, tc.DisasmCalls.Load())
}

func TestStore_SnapshotOfOtherInputRebuilds(t *testing.T) {
	f := newStoreFixture(t)
	first, err := f.store(testhelpers.NewFakeToolchain(), true).EnsureReady(context.Background())
	require.NoError(t, err)

	// same content, different package path, shared snapshot file
	other := testhelpers.WriteHap(t, t.TempDir(), testhelpers.SampleFiles())
	tc := testhelpers.NewFakeToolchain()
	s := artifact.NewStore(artifact.StoreConfig{
		Source:          artifact.ResolveSource(other, ""),
		SnapshotEnabled: true,
		SnapshotPath:    f.snapshot,
		Compression:     artifact.CompressionZstd,
		ExtractDir:      f.extract,
		AbcPath:         "ets/modules.abc",
	}, tc.Toolchain(), nil)

	a, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, tc.DisasmCalls.Load())
	assert.False(t, s.Stats().FromSnapshot)
	assert.Equal(t, other, a.Source.Path)
	assert.Equal(t, f.hap, first.Source.Path)

	// the rewritten snapshot now belongs to the new input
	saved, err := artifact.LoadSnapshot(f.snapshot)
	require.NoError(t, err)
	assert.Equal(t, other, saved.Source.Path)
}

func TestStore_SnapshotsDisabled(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	_, err := f.store(tc, false).EnsureReady(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, f.snapshot)
}

func TestStore_ConcurrentEnsureReadyBuildsOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	tc.Delay = 50 * time.Millisecond
	s := f.store(tc, false)

	const callers = 16
	results := make([]*artifact.Artifact, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, tc.DisasmCalls.Load())
	assert.EqualValues(t, 1, tc.ParseCalls.Load())
}

func TestStore_CancelledCallerDoesNotAbortBuild(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	tc.Delay = 20 * time.Millisecond
	s := f.store(tc, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, err := s.EnsureReady(ctx)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestStore_FailedBuildIsNotCached(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	tc.DisasmErr = errors.New("ark_disasm exited with status 1")
	s := f.store(tc, true)

	_, err := s.EnsureReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, arkerrors.ErrUninitialized)
	var be *arkerrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "disassemble", be.Stage)
	assert.NoFileExists(t, f.snapshot)
	assert.NotEmpty(t, s.Stats().LastError)
	assert.False(t, s.Stats().Ready)

	tc.DisasmErr = nil
	a, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, a.MethodCount())
	assert.EqualValues(t, 2, tc.DisasmCalls.Load())
	assert.Empty(t, s.Stats().LastError)
}

func TestStore_ParseFailure(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	tc.Disassembly = ".language ECMAScript\n"
	_, err := f.store(tc, false).EnsureReady(context.Background())

	var be *arkerrors.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "parse", be.Stage)
}

func TestStore_NoInput(t *testing.T) {
	s := artifact.NewStore(artifact.StoreConfig{Source: artifact.ResolveSource("", "")},
		testhelpers.NewFakeToolchain().Toolchain(), nil)

	_, err := s.EnsureReady(context.Background())
	assert.ErrorIs(t, err, arkerrors.ErrUninitialized)
	assert.Equal(t, arkerrors.ErrorTypeUninitialized, arkerrors.TypeOf(err))
}

func TestStore_PrebuiltDisassembly(t *testing.T) {
	f := newStoreFixture(t)
	dis := testhelpers.WriteDisassembly(t, f.root)
	tc := testhelpers.NewFakeToolchain()
	s := artifact.NewStore(artifact.StoreConfig{
		Source:     artifact.ResolveSource(f.hap, dis),
		ExtractDir: f.extract,
	}, tc.Toolchain(), nil)

	a, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, a.MethodCount())
	assert.Equal(t, artifact.SourcePrebuiltDisassembly, a.Source.Kind)
	assert.Zero(t, tc.ExtractCalls.Load())
	assert.Zero(t, tc.DisasmCalls.Load())
	assert.EqualValues(t, 1, tc.ParseCalls.Load())
}

func TestStore_Rebuild(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	s := f.store(tc, true)

	first, err := s.EnsureReady(context.Background())
	require.NoError(t, err)
	second, err := s.Rebuild(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, tc.DisasmCalls.Load())
	assert.Equal(t, uint64(2), s.Generation())
	assert.Equal(t, 2, s.Stats().Builds)
	assert.FileExists(t, f.snapshot)
}

func TestStore_RebuildAfterInFlightBuild(t *testing.T) {
	f := newStoreFixture(t)
	tc := testhelpers.NewFakeToolchain()
	tc.Delay = 100 * time.Millisecond
	s := f.store(tc, true)

	type result struct {
		a   *artifact.Artifact
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := s.EnsureReady(context.Background())
		done <- result{a, err}
	}()
	require.Eventually(t, func() bool { return tc.DisasmCalls.Load() == 1 },
		time.Second, time.Millisecond)

	rebuilt, err := s.Rebuild(context.Background())
	require.NoError(t, err)
	initial := <-done
	require.NoError(t, initial.err)

	assert.NotSame(t, initial.a, rebuilt)
	assert.EqualValues(t, 2, tc.DisasmCalls.Load())
	assert.Equal(t, 2, s.Stats().Builds)
	cur, err := s.Artifact()
	require.NoError(t, err)
	assert.Same(t, rebuilt, cur)
}

func TestStore_BuildStagesLoggedInDebugMode(t *testing.T) {
	prevEnabled, prevMode := debug.EnableDebug, debug.MCPMode
	var buf bytes.Buffer
	debug.EnableDebug, debug.MCPMode = "true", false
	debug.SetDebugOutput(&buf)
	t.Cleanup(func() {
		debug.EnableDebug, debug.MCPMode = prevEnabled, prevMode
		debug.SetDebugOutput(nil)
	})

	f := newStoreFixture(t)
	_, err := f.store(testhelpers.NewFakeToolchain(), false).EnsureReady(context.Background())
	require.NoError(t, err)

	out := buf.String()
	for _, stage := range []string{"extract", "disassemble", "parse", "lift", "analyze"} {
		assert.Contains(t, out, "[DEBUG:STORE] "+stage+" ")
	}
}
