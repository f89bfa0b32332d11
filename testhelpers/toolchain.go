package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kokifish/VulnerMCP/internal/artifact"
	"github.com/kokifish/VulnerMCP/internal/toolchain"
)

// FakeToolchain stands in for unzip and ark_disasm. It writes fixed content
// and counts how often each stage runs, so tests can assert that a snapshot
// skipped the expensive work.
type FakeToolchain struct {
	Files       map[string][]byte // written below the extraction directory
	Disassembly string            // written as the disassembler output
	DisasmErr   error
	Delay       time.Duration // Disassemble blocks this long

	ExtractCalls atomic.Int32
	DisasmCalls  atomic.Int32
	ParseCalls   atomic.Int32
}

// NewFakeToolchain returns a toolchain producing the sample package.
func NewFakeToolchain() *FakeToolchain {
	return &FakeToolchain{
		Files:       SampleFiles(),
		Disassembly: SampleDisassembly,
	}
}

// Toolchain wires the fake stages together with the real reverser.
func (f *FakeToolchain) Toolchain() artifact.Toolchain {
	return artifact.Toolchain{
		Extractor:    fakeExtractor{f},
		Disassembler: fakeDisassembler{f},
		Reverser:     countingReverser{f: f, DisReverser: toolchain.DisReverser{}},
	}
}

type fakeExtractor struct{ f *FakeToolchain }

func (e fakeExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	e.f.ExtractCalls.Add(1)
	for name, data := range e.f.Files {
		path := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

type fakeDisassembler struct{ f *FakeToolchain }

func (d fakeDisassembler) Disassemble(ctx context.Context, abcPath, outPath string) error {
	d.f.DisasmCalls.Add(1)
	if d.f.Delay > 0 {
		select {
		case <-time.After(d.f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.f.DisasmErr != nil {
		return d.f.DisasmErr
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(d.f.Disassembly), 0644)
}

type countingReverser struct {
	f *FakeToolchain
	toolchain.DisReverser
}

func (r countingReverser) Parse(ctx context.Context, disPath string) (*artifact.Artifact, error) {
	r.f.ParseCalls.Add(1)
	return r.DisReverser.Parse(ctx, disPath)
}
