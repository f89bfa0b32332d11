// Package testhelpers provides shared fixtures for testing the ArkTS resource server
package testhelpers

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/kokifish/VulnerMCP/internal/artifact"
)

// Identifiers defined by SampleDisassembly, in index order.
const (
	IndexAboutToAppear = "&entry/src/main/ets/pages/Index&.#~@0>#aboutToAppear"
	IndexBuild         = "&entry/src/main/ets/pages/Index&.#~@0>#build"
	HttpRequest        = "&entry/src/main/ets/utils/Http&.#*#request"
	GlobalMain         = "_GLOBAL.func_main_0"
)

// SampleDisassembly is a small ark_disasm listing with three modules.
const SampleDisassembly = `# source binary: modules.abc

.language ECMAScript

.record _ESModuleRecord {
	u32 &entry/src/main/ets/pages/Index&_0 0x1a4
}

.function any func_main_0(any a0, any a1, any a2) {
	definefunc 0x0, &entry/src/main/ets/pages/Index&.#~@0>#aboutToAppear, 0x0
	returnundefined
}

.function any &entry/src/main/ets/pages/Index&.#~@0>#aboutToAppear(any a0, any a1, any a2) {
	lda.str "hello"
	sta v0
	definefunc 0x1, &entry/src/main/ets/utils/Http&.#*#request, 0x1
	callthis1 0x2, v0, v1 # request(url)
jump_label_0:
	returnundefined
}

.function any &entry/src/main/ets/pages/Index&.#~@0>#build(any a0, any a1, any a2) {
	ldundefined
	returnundefined
}

.function any &entry/src/main/ets/utils/Http&.#*#request(any a0, any a1, any a2, any a3) {
	lda a3
	return
}
`

// SampleIDs lists the identifiers of SampleDisassembly in index order.
func SampleIDs() []string {
	ids := []string{IndexAboutToAppear, IndexBuild, HttpRequest, GlobalMain}
	sort.Strings(ids)
	return ids
}

// SampleFiles is the content of the sample package besides the bytecode.
func SampleFiles() map[string][]byte {
	return map[string][]byte{
		"module.json":                            []byte(`{"module":{"name":"entry","type":"entry"}}`),
		"resources/base/profile/main_pages.json": []byte(`{"src":["pages/Index"]}`),
		"resources/base/element/string.json":     []byte(`{"string":[{"name":"app_name","value":"Demo"}]}`),
		"resources/base/media/icon.png":          PNGBytes(),
		"ets/modules.abc":                        []byte("PANDA\x00\x00\x00bytecode"),
		"pack.info":                              []byte("summary"),
	}
}

// PNGBytes returns a minimal PNG header, enough for content sniffing.
func PNGBytes() []byte {
	return []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
}

// WriteDisassembly writes SampleDisassembly below dir and returns its path.
func WriteDisassembly(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "main.abc.dis")
	if err := os.WriteFile(path, []byte(SampleDisassembly), 0644); err != nil {
		t.Fatalf("write disassembly: %v", err)
	}
	return path
}

// WriteHap writes a zip package with files below dir and returns its path.
func WriteHap(t testing.TB, dir string, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, "main.hap")
	if err := os.WriteFile(path, ZipBytes(t, files), 0644); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

// ZipBytes builds an in-memory zip archive. Entry names are written as given.
func ZipBytes(t testing.TB, files map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// WriteTree writes files below root, creating directories as needed.
func WriteTree(t testing.TB, root string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// ArtifactOf builds an artifact holding one small method per qualified name.
func ArtifactOf(qualified ...string) *artifact.Artifact {
	a := artifact.New()
	for _, q := range qualified {
		module, name := artifact.SplitQualified(q)
		a.AddMethod(&artifact.Method{
			Module:    module,
			Name:      name,
			Signature: "any " + q + "(any a0, any a1, any a2)",
			Instructions: []artifact.Instruction{
				{Op: "lda.str", Operands: []string{`"` + name + `"`}},
				{Op: "returnundefined"},
			},
		})
	}
	return a
}
