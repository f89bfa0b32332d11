// Package artifact owns the decompiled-package model and its lifecycle:
// building it once through the external toolchain, persisting it as a
// versioned snapshot, and handing out a shared read-only reference.
package artifact

import (
	"io"
	"regexp"
	"sort"
	"strings"
	"time"
)

// GlobalModule holds functions whose name carries no module prefix (func_main_0 and friends).
const GlobalModule = "_GLOBAL"

// Instruction is one lifted line of a method body.
type Instruction struct {
	Label    string   `cbor:"label,omitempty"` // set for jump targets, Op is empty then
	Op       string   `cbor:"op,omitempty"`
	Operands []string `cbor:"operands,omitempty"`
	Comment  string   `cbor:"comment,omitempty"`
}

// String renders the instruction the way ark_disasm prints it.
func (in Instruction) String() string {
	if in.Label != "" {
		return in.Label + ":"
	}
	var b strings.Builder
	b.WriteString("\t")
	b.WriteString(in.Op)
	if len(in.Operands) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(in.Operands, ", "))
	}
	if in.Comment != "" {
		b.WriteString(" # ")
		b.WriteString(in.Comment)
	}
	return b.String()
}

// Method is a single decompiled function. Signature is the header text
// between ".function" and "{"; Lines holds the raw body until it is lifted
// into Instructions; Xrefs names the other methods the body refers to.
type Method struct {
	Module       string        `cbor:"module"`
	Name         string        `cbor:"name"`
	Signature    string        `cbor:"signature"`
	Lines        []string      `cbor:"lines,omitempty"`
	Instructions []Instruction `cbor:"instructions,omitempty"`
	Xrefs        []string      `cbor:"xrefs,omitempty"`
}

// QualifiedName returns module.method.
func (m *Method) QualifiedName() string {
	return m.Module + "." + m.Name
}

// Text is the assembly-text accessor served for a symbol resource.
func (m *Method) Text() string {
	var b strings.Builder
	b.WriteString(".function ")
	b.WriteString(m.Signature)
	b.WriteString(" {\n")
	if len(m.Instructions) > 0 {
		for _, in := range m.Instructions {
			b.WriteString(in.String())
			b.WriteByte('\n')
		}
	} else {
		for _, line := range m.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString("}\n")
	if len(m.Xrefs) > 0 {
		b.WriteString("# references: ")
		b.WriteString(strings.Join(m.Xrefs, ", "))
		b.WriteByte('\n')
	}
	return b.String()
}

// Module groups the methods of one ArkTS module/class.
type Module struct {
	Name    string             `cbor:"name"`
	Methods map[string]*Method `cbor:"methods"`
}

// SortedMethodNames returns the method names in lexicographic order.
func (m *Module) SortedMethodNames() []string {
	names := make([]string, 0, len(m.Methods))
	for name := range m.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceInfo records what the artifact was built from.
type SourceInfo struct {
	Kind        SourceKind `cbor:"kind"`
	Path        string     `cbor:"path"`
	Size        int64      `cbor:"size"`
	Fingerprint uint64     `cbor:"fingerprint"` // xxhash64 of the input file
}

// Artifact is the in-memory result of decompiling one package.
// It is immutable once published by the Store.
type Artifact struct {
	Modules map[string]*Module `cbor:"modules"`
	Source  SourceInfo         `cbor:"source"`
	BuiltAt time.Time          `cbor:"built_at"`
	BuildID string             `cbor:"build_id"`
}

// New returns an empty artifact ready to be populated by a reverser.
func New() *Artifact {
	return &Artifact{Modules: make(map[string]*Module)}
}

// AddMethod inserts m, creating its module on first use. A later method with
// the same qualified name replaces the earlier one.
func (a *Artifact) AddMethod(m *Method) {
	mod, ok := a.Modules[m.Module]
	if !ok {
		mod = &Module{Name: m.Module, Methods: make(map[string]*Method)}
		a.Modules[m.Module] = mod
	}
	mod.Methods[m.Name] = m
}

// Method looks up (module, method).
func (a *Artifact) Method(module, method string) (*Method, bool) {
	mod, ok := a.Modules[module]
	if !ok {
		return nil, false
	}
	m, ok := mod.Methods[method]
	return m, ok
}

// SortedModuleNames returns the module names in lexicographic order.
func (a *Artifact) SortedModuleNames() []string {
	names := make([]string, 0, len(a.Modules))
	for name := range a.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MethodCount returns the total number of methods.
func (a *Artifact) MethodCount() int {
	n := 0
	for _, mod := range a.Modules {
		n += len(mod.Methods)
	}
	return n
}

// Walk visits every method in (module, method) order and stops at the first error.
func (a *Artifact) Walk(fn func(m *Method) error) error {
	for _, modName := range a.SortedModuleNames() {
		mod := a.Modules[modName]
		for _, name := range mod.SortedMethodNames() {
			if err := fn(mod.Methods[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteListing writes every method's text, the full lifted listing of the package.
func (a *Artifact) WriteListing(w io.Writer) error {
	return a.Walk(func(m *Method) error {
		if _, err := io.WriteString(w, "# "+m.QualifiedName()+"\n"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, m.Text()); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}

// versionedModule matches OHM-style module names: &bundle/path& with an optional version suffix.
var versionedModule = regexp.MustCompile(`^(&[^&]+&(?:\d+(?:\.\d+)*)?)\.(.+)$`)

// SplitQualified splits a function name as printed by the disassembler into
// module and method. "&entry/src/main/ets/pages/Index&.#~@0>#aboutToAppear"
// splits at the closing '&'; other names split at the last '.'; names without
// a module land in GlobalModule.
func SplitQualified(full string) (module, method string) {
	if m := versionedModule.FindStringSubmatch(full); m != nil {
		return m[1], m[2]
	}
	if i := strings.LastIndexByte(full, '.'); i > 0 && i < len(full)-1 {
		return full[:i], full[i+1:]
	}
	return GlobalModule, full
}
