package filetree

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one gitignore line translated to a doublestar glob.
type rule struct {
	glob    string
	negate  bool
	dirOnly bool
}

// Matcher evaluates a gitignore-style pattern set against root-relative slash paths.
// The last rule that matches a path decides; a negated rule un-matches.
type Matcher struct {
	rules []rule
}

// Compile parses pattern, one gitignore line per "\n"-separated line.
// Blank lines and "#" comments are ignored.
func Compile(pattern string) (*Matcher, error) {
	m := &Matcher{}
	for _, line := range strings.Split(pattern, "\n") {
		r, ok, err := parseRule(line)
		if err != nil {
			return nil, err
		}
		if ok {
			m.rules = append(m.rules, r)
		}
	}
	if len(m.rules) == 0 {
		return nil, fmt.Errorf("empty file pattern %q", pattern)
	}
	return m, nil
}

func parseRule(line string) (rule, bool, error) {
	line = strings.TrimSuffix(line, "\r")
	line = trimUnescapedTrailingSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false, nil
	}

	var r rule
	switch {
	case strings.HasPrefix(line, `\!`), strings.HasPrefix(line, `\#`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if line == "" {
		return rule{}, false, nil
	}

	// A slash anywhere but the end anchors the pattern at the root.
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	glob := escapeBraces(line)
	if !anchored && !strings.HasPrefix(glob, "**/") {
		glob = "**/" + glob
	}
	if !doublestar.ValidatePattern(glob) {
		return rule{}, false, fmt.Errorf("invalid file pattern %q", line)
	}
	r.glob = glob
	return r, true, nil
}

func trimUnescapedTrailingSpace(s string) string {
	for strings.HasSuffix(s, " ") && !strings.HasSuffix(s, `\ `) {
		s = s[:len(s)-1]
	}
	return s
}

// escapeBraces keeps '{' and '}' literal: gitignore has no alternation.
func escapeBraces(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if c == '{' || c == '}' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// MatchFile reports whether the file at rel is selected. A rule matching one
// of its parent directories selects everything beneath that directory.
func (m *Matcher) MatchFile(rel string) bool {
	selected := false
	for _, r := range m.rules {
		if r.matchesFile(rel) {
			selected = !r.negate
		}
	}
	return selected
}

func (r rule) matchesFile(rel string) bool {
	if !r.dirOnly {
		if ok, _ := doublestar.Match(r.glob, rel); ok {
			return true
		}
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if ok, _ := doublestar.Match(r.glob, dir); ok {
			return true
		}
	}
	return false
}
