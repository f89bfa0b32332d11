// Package resolve turns caller patterns into ordered sets of identifiers.
//
// Symbol patterns go through four tiers and the first tier with any result
// wins: exact decoded, exact raw, wildcard, substring. File patterns are
// gitignore-style globs with no fallback.
package resolve

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hbollon/go-edlib"

	"github.com/kokifish/VulnerMCP/internal/debug"
	arkerrors "github.com/kokifish/VulnerMCP/internal/errors"
	"github.com/kokifish/VulnerMCP/internal/symbols"
)

// Tier names one matching strategy.
type Tier string

const (
	TierExactDecoded Tier = "exact_decoded"
	TierExactRaw     Tier = "exact_raw"
	TierWildcard     Tier = "wildcard"
	TierSubstring    Tier = "substring"
	TierGlob         Tier = "glob"
)

// Resolution is the outcome of resolving one pattern.
type Resolution struct {
	Pattern   string    `json:"pattern"`
	Namespace Namespace `json:"-"`
	Tier      Tier      `json:"tier"`
	Matches   []string  `json:"matches"`
	Attempted []Tier    `json:"attempted"`

	// Snapshot is the symbol snapshot the matches were taken from; nil for files.
	Snapshot *symbols.Snapshot `json:"-"`
}

// SymbolIndex provides the current identifier snapshot.
type SymbolIndex interface {
	Snapshot(ctx context.Context) (*symbols.Snapshot, error)
}

// FileMatcher matches glob patterns against the extracted tree.
type FileMatcher interface {
	Match(ctx context.Context, pattern string) ([]string, error)
}

// Options tune a Resolver.
type Options struct {
	RegexCacheSize int // compiled wildcard patterns kept; 0 uses 256
	Suggestions    int // nearest identifiers attached to no-match errors
	Logger         debug.Logger
}

// Resolver resolves patterns against the symbol index or the file tree.
// It is safe for concurrent use.
type Resolver struct {
	index       SymbolIndex
	files       FileMatcher
	regexps     *lru.Cache[string, *regexp.Regexp]
	suggestions int
	log         debug.Logger

	mu      sync.Mutex
	encoded *encodedView
}

// encodedView holds Quote(id) for every identifier of one snapshot.
type encodedView struct {
	snap  *symbols.Snapshot
	ids   []string
	byEnc map[string]string
}

// New creates a resolver. files may be nil when the file namespace is not served.
func New(index SymbolIndex, files FileMatcher, opts Options) *Resolver {
	size := opts.RegexCacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic("resolve: regex cache: " + err.Error())
	}
	log := opts.Logger
	if log == nil {
		log = debug.Nop
	}
	return &Resolver{
		index:       index,
		files:       files,
		regexps:     cache,
		suggestions: opts.Suggestions,
		log:         log,
	}
}

// ResolveURI parses uri and resolves its pattern. Malformed URIs are
// rejected before the index is touched.
func (r *Resolver) ResolveURI(ctx context.Context, uri string) (*Resolution, error) {
	ns, pattern, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, pattern, ns)
}

// Resolve matches pattern in namespace ns. An empty result is a NoMatchError.
func (r *Resolver) Resolve(ctx context.Context, pattern string, ns Namespace) (*Resolution, error) {
	if pattern == "" {
		return nil, arkerrors.NewMalformedError(ns.Scheme(), "pattern is empty")
	}
	if ns == NamespaceFile {
		return r.resolveFile(ctx, pattern)
	}

	snap, err := r.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := r.MatchSymbols(snap, pattern)
	debug.LogResolve("%q -> %d matches via %s (tried %v)\n", pattern, len(res.Matches), res.Tier, res.Attempted)
	if len(res.Matches) == 0 {
		return res, r.noMatch(snap, res)
	}
	return res, nil
}

// MatchSymbols runs the four tiers over snap. It never fails; an empty
// Matches means every tier came up empty.
func (r *Resolver) MatchSymbols(snap *symbols.Snapshot, pattern string) *Resolution {
	forms := Normalize(pattern)
	view := r.encodedFor(snap)
	res := &Resolution{Pattern: pattern, Namespace: NamespaceSymbol, Snapshot: snap}

	// 1. exact decoded
	res.Attempted = append(res.Attempted, TierExactDecoded)
	if snap.Contains(forms.Decoded) {
		res.Tier, res.Matches = TierExactDecoded, []string{forms.Decoded}
		return res
	}

	// 2. exact raw: the pattern is an identifier as-is, or its encoded form
	res.Attempted = append(res.Attempted, TierExactRaw)
	if snap.Contains(forms.Raw) {
		res.Tier, res.Matches = TierExactRaw, []string{forms.Raw}
		return res
	}
	if id, ok := view.byEnc[forms.Raw]; ok {
		res.Tier, res.Matches = TierExactRaw, []string{id}
		return res
	}

	// 3. wildcard, evaluated for raw and decoded pattern against raw and encoded ids
	if strings.Contains(forms.Raw, "*") || strings.Contains(forms.Decoded, "*") {
		res.Attempted = append(res.Attempted, TierWildcard)
		if matches := r.matchWildcard(snap, view, forms); len(matches) > 0 {
			res.Tier, res.Matches = TierWildcard, matches
			return res
		}
	}

	// 4. substring, only when everything above is empty
	res.Attempted = append(res.Attempted, TierSubstring)
	var matches []string
	for _, id := range snap.IDs {
		if strings.Contains(id, forms.Decoded) || strings.Contains(id, forms.Raw) {
			matches = append(matches, id)
		}
	}
	if len(matches) > 0 {
		res.Tier = TierSubstring
	}
	res.Matches = matches
	return res
}

func (r *Resolver) matchWildcard(snap *symbols.Snapshot, view *encodedView, forms Forms) []string {
	var regexps []*regexp.Regexp
	for _, p := range forms.Variants() {
		if !strings.Contains(p, "*") {
			continue
		}
		re, err := r.wildcardRegexp(p)
		if err != nil {
			r.log.Printf("wildcard %q: %v", p, err)
			continue
		}
		regexps = append(regexps, re)
	}

	var matches []string
	for i, id := range snap.IDs {
		for _, re := range regexps {
			if re.MatchString(id) || re.MatchString(view.ids[i]) {
				matches = append(matches, id)
				break
			}
		}
	}
	return matches
}

// wildcardRegexp escapes every metacharacter of p and expands '*' to ".*",
// anchored at both ends.
func (r *Resolver) wildcardRegexp(p string) (*regexp.Regexp, error) {
	if re, ok := r.regexps.Get(p); ok {
		return re, nil
	}
	parts := strings.Split(p, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("(?s)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}
	r.regexps.Add(p, re)
	return re, nil
}

func (r *Resolver) encodedFor(snap *symbols.Snapshot) *encodedView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoded != nil && r.encoded.snap == snap {
		return r.encoded
	}
	view := &encodedView{
		snap:  snap,
		ids:   make([]string, len(snap.IDs)),
		byEnc: make(map[string]string, len(snap.IDs)),
	}
	for i, id := range snap.IDs {
		enc := Quote(id)
		view.ids[i] = enc
		view.byEnc[enc] = id
	}
	r.encoded = view
	return view
}

func (r *Resolver) resolveFile(ctx context.Context, pattern string) (*Resolution, error) {
	if r.files == nil {
		return nil, arkerrors.NewMalformedError(FileScheme+pattern, "file resources are not available")
	}
	res := &Resolution{Pattern: pattern, Namespace: NamespaceFile, Attempted: []Tier{TierGlob}}

	seen := make(map[string]struct{})
	var firstErr error
	for _, p := range Normalize(pattern).Variants() {
		matches, err := r.files.Match(ctx, p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, m := range matches {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				res.Matches = append(res.Matches, m)
			}
		}
	}
	if len(res.Matches) == 0 && firstErr != nil {
		return nil, arkerrors.NewMalformedError(FileScheme+pattern, firstErr.Error())
	}
	sort.Strings(res.Matches)
	debug.LogResolve("file %q -> %d matches\n", pattern, len(res.Matches))
	if len(res.Matches) == 0 {
		return res, arkerrors.NewNoMatchError(NamespaceFile.String(), pattern, tierNames(res.Attempted))
	}
	res.Tier = TierGlob
	return res, nil
}

func (r *Resolver) noMatch(snap *symbols.Snapshot, res *Resolution) error {
	err := arkerrors.NewNoMatchError(NamespaceSymbol.String(), res.Pattern, tierNames(res.Attempted))
	if r.suggestions > 0 {
		err.WithSuggestions(Suggest(snap.IDs, Unquote(res.Pattern), r.suggestions))
	}
	return err
}

// Suggest returns up to n identifiers closest to pattern by Levenshtein distance.
func Suggest(ids []string, pattern string, n int) []string {
	if n <= 0 || len(ids) == 0 {
		return nil
	}
	type scored struct {
		id   string
		dist int
	}
	best := make([]scored, 0, n+1)
	for _, id := range ids {
		d := edlib.LevenshteinDistance(pattern, id)
		if len(best) == n && d >= best[n-1].dist {
			continue
		}
		i := sort.Search(len(best), func(i int) bool { return best[i].dist > d })
		best = append(best, scored{})
		copy(best[i+1:], best[i:])
		best[i] = scored{id: id, dist: d}
		if len(best) > n {
			best = best[:n]
		}
	}
	out := make([]string, len(best))
	for i, s := range best {
		out[i] = s.id
	}
	return out
}

func tierNames(tiers []Tier) []string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return names
}
