package toolchain

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kokifish/VulnerMCP/internal/artifact"
)

const functionDirective = ".function "

// DisReverser reads ark_disasm text output. Parse collects the raw method
// bodies, Lift turns them into instructions and Analyze resolves the
// cross references between methods.
type DisReverser struct{}

// Parse reads every .function block of the disassembly at disPath.
func (DisReverser) Parse(ctx context.Context, disPath string) (*artifact.Artifact, error) {
	f, err := os.Open(disPath)
	if err != nil {
		return nil, fmt.Errorf("open disassembly: %w", err)
	}
	defer f.Close()

	a := artifact.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var cur *artifact.Method
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if cur == nil {
			if !strings.HasPrefix(line, functionDirective) {
				continue
			}
			m, err := parseHeader(line)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", disPath, lineNo, err)
			}
			cur = m
			if !strings.HasSuffix(line, "{") {
				// declaration without body
				a.AddMethod(cur)
				cur = nil
			}
			continue
		}

		if line == "}" {
			a.AddMethod(cur)
			cur = nil
			continue
		}
		cur.Lines = append(cur.Lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read disassembly: %w", err)
	}
	if cur != nil {
		return nil, fmt.Errorf("%s: function %s is not terminated", disPath, cur.QualifiedName())
	}
	if len(a.Modules) == 0 {
		return nil, fmt.Errorf("%s: no functions found", disPath)
	}
	return a, nil
}

// parseHeader handles ".function <ret> <name>(<params>) [<attrs>] {".
func parseHeader(line string) (*artifact.Method, error) {
	sig := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, functionDirective), "{"))
	open := strings.IndexByte(sig, '(')
	if open < 0 {
		return nil, fmt.Errorf("malformed function header %q", line)
	}
	head := strings.TrimSpace(sig[:open])
	full := head
	if i := strings.IndexByte(head, ' '); i >= 0 {
		full = strings.TrimSpace(head[i+1:])
	}
	if full == "" {
		return nil, fmt.Errorf("function header without name %q", line)
	}
	module, name := artifact.SplitQualified(full)
	return &artifact.Method{Module: module, Name: name, Signature: sig}, nil
}

// Lift converts the raw body lines of every method into instructions.
func (DisReverser) Lift(ctx context.Context, a *artifact.Artifact) error {
	return a.Walk(func(m *artifact.Method) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Instructions = liftLines(m.Lines)
		m.Lines = nil
		return nil
	})
}

func liftLines(lines []string) []artifact.Instruction {
	out := make([]artifact.Instruction, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t") {
			out = append(out, artifact.Instruction{Label: strings.TrimSuffix(line, ":")})
			continue
		}
		var in artifact.Instruction
		if i := strings.Index(line, " # "); i >= 0 {
			in.Comment = strings.TrimSpace(line[i+3:])
			line = strings.TrimSpace(line[:i])
		}
		op, rest, _ := strings.Cut(line, " ")
		in.Op = op
		if rest = strings.TrimSpace(rest); rest != "" {
			for _, operand := range strings.Split(rest, ",") {
				if operand = strings.TrimSpace(operand); operand != "" {
					in.Operands = append(in.Operands, operand)
				}
			}
		}
		out = append(out, in)
	}
	return out
}

// Analyze records, for each method, the other methods its instructions name.
func (DisReverser) Analyze(ctx context.Context, a *artifact.Artifact) error {
	known := make(map[string]struct{}, a.MethodCount())
	_ = a.Walk(func(m *artifact.Method) error {
		known[m.QualifiedName()] = struct{}{}
		return nil
	})

	return a.Walk(func(m *artifact.Method) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		self := m.QualifiedName()
		seen := make(map[string]struct{})
		for _, in := range m.Instructions {
			for _, operand := range in.Operands {
				ref := strings.Trim(operand, `"`)
				if ref == self {
					continue
				}
				if _, ok := known[ref]; ok {
					seen[ref] = struct{}{}
				}
			}
		}
		m.Xrefs = m.Xrefs[:0]
		for ref := range seen {
			m.Xrefs = append(m.Xrefs, ref)
		}
		sort.Strings(m.Xrefs)
		return nil
	})
}

// Default wires the stock collaborators.
func Default(disasmPath string, timeoutSec int) artifact.Toolchain {
	return artifact.Toolchain{
		Extractor:    ZipExtractor{},
		Disassembler: ArkDisasm{Path: disasmPath, Timeout: time.Duration(timeoutSec) * time.Second},
		Reverser:     DisReverser{},
	}
}
