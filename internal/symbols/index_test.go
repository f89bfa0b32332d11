package symbols_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/symbols"
	"github.com/kokifish/VulnerMCP/testhelpers"
)

type swapSource struct {
	a     atomic.Pointer[artifact.Artifact]
	calls atomic.Int32
}

func (s *swapSource) EnsureReady(ctx context.Context) (*artifact.Artifact, error) {
	s.calls.Add(1)
	if a := s.a.Load(); a != nil {
		return a, nil
	}
	return nil, arkerrors.ErrUninitialized
}

func TestBuild_Order(t *testing.T) {
	a := testhelpers.ArtifactOf("B.foo", "A.foo", "A.bar", testhelpers.HttpRequest, "func_main_0")

	assert.Equal(t, []string{
		testhelpers.HttpRequest,
		"A.bar",
		"A.foo",
		"B.foo",
		"_GLOBAL.func_main_0",
	}, symbols.Build(a))
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, symbols.Build(artifact.New()))
}

func TestSnapshot_Lookup(t *testing.T) {
	snap := symbols.NewSnapshot(testhelpers.ArtifactOf("A.foo", testhelpers.HttpRequest))

	assert.True(t, snap.Contains("A.foo"))
	assert.False(t, snap.Contains("A.nope"))
	assert.Equal(t, 2, snap.Len())

	module, method, ok := snap.Lookup(testhelpers.HttpRequest)
	assert.True(t, ok)
	assert.Equal(t, "&entry/src/main/ets/utils/Http&", module)
	assert.Equal(t, "#*#request", method)

	module, method, ok = snap.Lookup("C.bar")
	assert.False(t, ok)
	assert.Equal(t, "C", module)
	assert.Equal(t, "bar", method)
}

func TestIndex_MemoizesPerArtifact(t *testing.T) {
	src := &swapSource{}
	ix := symbols.NewIndex(src)

	_, err := ix.All(context.Background())
	assert.ErrorIs(t, err, arkerrors.ErrUninitialized)

	first := testhelpers.ArtifactOf("A.foo")
	src.a.Store(first)
	s1, err := ix.Snapshot(context.Background())
	require.NoError(t, err)
	s2, err := ix.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Same(t, first, s1.Artifact())

	// a rebuilt artifact replaces the whole snapshot
	src.a.Store(testhelpers.ArtifactOf("A.foo", "B.bar"))
	ids, err := ix.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A.foo", "B.bar"}, ids)
}
