package core

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/resolve"
)

var (
	// &bundle/path&.name operands and their versioned variants
	moduleRefPattern = regexp.MustCompile(`&[^&\s,"]+&[0-9.]*\.[^\s,"()]+`)
	// .function <ret> <name>(
	functionHeaderPattern = regexp.MustCompile(`\.function\s+\S+\s+([^\s(]+)\(`)
)

// IsAssemblyText reports whether s looks like pasted assembly rather than a
// URI or a bare identifier.
func IsAssemblyText(s string) bool {
	return strings.Contains(s, "(any") ||
		strings.Contains(s, ".function ") ||
		strings.Contains(strings.TrimSpace(s), "\n")
}

// Related answers a free-form request: a resource URI, a bare qualified
// identifier (or wildcard), or a snippet of assembly text whose referenced
// methods are returned.
func (c *Core) Related(ctx context.Context, codeOrName string) ([]Content, error) {
	if strings.TrimSpace(codeOrName) == "" {
		return nil, arkerrors.NewMalformedError(codeOrName, "code_or_name is empty")
	}
	if !IsAssemblyText(codeOrName) {
		return c.ReadURI(ctx, bareSymbolURI(codeOrName))
	}

	refs := ReferencedIdentifiers(codeOrName)
	c.log.Printf("related: %d identifiers referenced by assembly text", len(refs))
	if len(refs) == 0 {
		return nil, arkerrors.NewNoMatchError(resolve.NamespaceSymbol.String(), snippet(codeOrName),
			[]string{"assembly_reference"})
	}

	snap, err := c.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// exact references first; unknown tokens go through the full tiers
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	var unresolved []string
	for _, ref := range refs {
		if snap.Contains(ref) {
			add(ref)
		} else {
			unresolved = append(unresolved, ref)
		}
	}
	if len(ids) == 0 {
		for _, ref := range unresolved {
			res := c.resolver.MatchSymbols(snap, ref)
			for _, id := range res.Matches {
				add(id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, arkerrors.NewNoMatchError(resolve.NamespaceSymbol.String(), strings.Join(refs, ", "),
			[]string{"assembly_reference", string(resolve.TierExactDecoded), string(resolve.TierExactRaw),
				string(resolve.TierWildcard), string(resolve.TierSubstring)})
	}

	return c.fetchSymbols(ctx, &resolve.Resolution{
		Pattern:   snippet(codeOrName),
		Namespace: resolve.NamespaceSymbol,
		Tier:      resolve.TierExactDecoded,
		Matches:   ids,
		Snapshot:  snap,
	})
}

// ReferencedIdentifiers extracts method names from assembly text in order of
// first appearance: function headers, then module-qualified operands.
func ReferencedIdentifiers(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.Trim(s, `"'`)
		if s == "" {
			return
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, m := range functionHeaderPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range moduleRefPattern.FindAllString(text, -1) {
		add(m)
	}
	return out
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	const max = 120
	if utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max]) + "..."
	}
	return s
}
