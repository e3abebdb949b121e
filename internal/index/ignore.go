package index

import (
	"path"
	"strings"
)

// Matcher decides which repository entries the walk skips.
//
// A pattern without "/" is matched against every path segment, so ".git"
// or "*.min.js" apply at any depth. A pattern with "/" is matched against
// the whole repository-relative path; "**" spans any number of segments.
type Matcher struct {
	patterns [][]string
}

// NewMatcher compiles ignore patterns. Empty patterns are dropped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.Trim(strings.ReplaceAll(strings.TrimSpace(p), "\\", "/"), "/")
		p = strings.TrimPrefix(p, "./")
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, strings.Split(p, "/"))
	}
	return m
}

// Match reports whether the repository-relative path rel is ignored.
func (m *Matcher) Match(rel string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return false
	}
	segs := strings.Split(rel, "/")

	for _, pat := range m.patterns {
		if len(pat) == 1 && pat[0] != "**" {
			for _, s := range segs {
				if ok, _ := path.Match(pat[0], s); ok {
					return true
				}
			}
			continue
		}
		// An ignored directory ignores everything below it.
		for i := 1; i <= len(segs); i++ {
			if matchSegments(pat, segs[:i]) {
				return true
			}
		}
	}
	return false
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], segs[0]); !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}
