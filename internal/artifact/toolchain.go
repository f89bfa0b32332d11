package artifact

import "context"

// Extractor unpacks a raw package archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Disassembler turns one bytecode file into disassembly text at outPath.
type Disassembler interface {
	Disassemble(ctx context.Context, abcPath, outPath string) error
}

// Reverser parses disassembly text and runs the two analysis passes over it.
// All three calls are opaque and fallible; a failure aborts the build.
type Reverser interface {
	Parse(ctx context.Context, disPath string) (*Artifact, error)
	Lift(ctx context.Context, a *Artifact) error
	Analyze(ctx context.Context, a *Artifact) error
}

// Toolchain bundles the external collaborators a Store builds with.
type Toolchain struct {
	Extractor    Extractor
	Disassembler Disassembler
	Reverser     Reverser
}
