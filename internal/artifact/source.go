package artifact

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// SourceKind tags what a build starts from.
type SourceKind uint8

const (
	SourceNone SourceKind = iota
	SourceRawPackage
	SourcePrebuiltDisassembly
)

// String returns the human-readable name of a source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceRawPackage:
		return "raw_package"
	case SourcePrebuiltDisassembly:
		return "prebuilt_disassembly"
	default:
		return "none"
	}
}

// Source is the build input, resolved once when the Store is constructed.
type Source struct {
	Kind SourceKind
	Path string
}

// ResolveSource picks the build input. A prebuilt disassembly is preferred
// over a raw package since it skips extraction and the disassembler.
// Returns a SourceNone source when neither file exists.
func ResolveSource(packagePath, disassemblyPath string) Source {
	if isFile(disassemblyPath) {
		return Source{Kind: SourcePrebuiltDisassembly, Path: disassemblyPath}
	}
	if isFile(packagePath) {
		return Source{Kind: SourceRawPackage, Path: packagePath}
	}
	return Source{Kind: SourceNone}
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Fingerprint hashes the file at path with xxhash64.
func Fingerprint(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return h.Sum64(), n, nil
}
