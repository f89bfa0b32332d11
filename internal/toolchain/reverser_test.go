package toolchain_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	"github.com/kokifish/VulnerMCP/internal/symbols"
	"github.com/kokifish/VulnerMCP/internal/toolchain"
	"github.com/kokifish/VulnerMCP/testhelpers"
)

func parseSample(t *testing.T) *artifact.Artifact {
	t.Helper()
	r := toolchain.DisReverser{}
	ctx := context.Background()
	a, err := r.Parse(ctx, testhelpers.WriteDisassembly(t, t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, r.Lift(ctx, a))
	require.NoError(t, r.Analyze(ctx, a))
	return a
}

func TestDisReverser_Parse(t *testing.T) {
	a := parseSample(t)

	assert.Equal(t, testhelpers.SampleIDs(), symbols.Build(a))
	assert.Equal(t, []string{
		"&entry/src/main/ets/pages/Index&",
		"&entry/src/main/ets/utils/Http&",
		artifact.GlobalModule,
	}, a.SortedModuleNames())

	m, ok := a.Method(artifact.SplitQualified(testhelpers.HttpRequest))
	require.True(t, ok)
	assert.Equal(t, "any &entry/src/main/ets/utils/Http&.#*#request(any a0, any a1, any a2, any a3)", m.Signature)
}

func TestDisReverser_Lift(t *testing.T) {
	a := parseSample(t)

	m, ok := a.Method(artifact.SplitQualified(testhelpers.IndexAboutToAppear))
	require.True(t, ok)
	require.Len(t, m.Instructions, 6)
	assert.Nil(t, m.Lines)

	assert.Equal(t, artifact.Instruction{Op: "lda.str", Operands: []string{`"hello"`}}, m.Instructions[0])
	assert.Equal(t, artifact.Instruction{Op: "callthis1", Operands: []string{"0x2", "v0", "v1"}, Comment: "request(url)"}, m.Instructions[3])
	assert.Equal(t, artifact.Instruction{Label: "jump_label_0"}, m.Instructions[4])
	assert.Equal(t, artifact.Instruction{Op: "returnundefined"}, m.Instructions[5])
}

func TestDisReverser_Analyze(t *testing.T) {
	a := parseSample(t)

	main, ok := a.Method(artifact.GlobalModule, "func_main_0")
	require.True(t, ok)
	assert.Equal(t, []string{testhelpers.IndexAboutToAppear}, main.Xrefs)

	build, ok := a.Method(artifact.SplitQualified(testhelpers.IndexBuild))
	require.True(t, ok)
	assert.Empty(t, build.Xrefs)
}

func TestDisReverser_ParseErrors(t *testing.T) {
	tests := map[string]string{
		"no functions":   ".language ECMAScript\n",
		"unterminated":   ".function any A.foo(any a0) {\n\tldundefined\n",
		"missing params": ".function any A.foo {\n}\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.dis")
			require.NoError(t, os.WriteFile(path, []byte(text), 0644))
			_, err := toolchain.DisReverser{}.Parse(context.Background(), path)
			assert.Error(t, err)
		})
	}

	_, err := toolchain.DisReverser{}.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.dis"))
	assert.Error(t, err)
}

func TestDisReverser_DeclarationWithoutBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decl.dis")
	require.NoError(t, os.WriteFile(path, []byte(".function any A.ext(any a0)\n.function any A.foo(any a0) {\n}\n"), 0644))

	a, err := toolchain.DisReverser{}.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.ext", "A.foo"}, symbols.Build(a))
}
