package core

import (
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// DefaultDenyList holds the relative path prefixes that cleanup must never
// delete, whatever pattern matched them.
var DefaultDenyList = []string{
	".git",
	".devassist/data",
	".devassist/knowledge",
	".devassist/sessions",
	".devassist/terminal_logs",
	".devassist/archived_logs",
	"package.json",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"Cargo.toml",
	"Cargo.lock",
	"go.mod",
	"go.sum",
	"requirements.txt",
	"Pipfile",
	"Pipfile.lock",
	"README.md",
	"LICENSE",
	"PROJECT_SESSIONS.md",
	".env",
	".env.local",
}

// PatternMatcher matches file names against cleanup globs and guards
// deletions with a deny list. Globs support only * and ?; every other glob
// metacharacter is matched literally.
type PatternMatcher struct {
	deny []string

	mu    sync.Mutex
	cache map[string]glob.Glob
}

// NewPatternMatcher creates a PatternMatcher. A nil deny list selects
// DefaultDenyList.
func NewPatternMatcher(deny []string) *PatternMatcher {
	if deny == nil {
		deny = DefaultDenyList
	}
	return &PatternMatcher{
		deny:  deny,
		cache: make(map[string]glob.Glob),
	}
}

// Matches reports whether the base name of name matches pattern. Negated
// patterns never match.
func (pm *PatternMatcher) Matches(name, pattern string) bool {
	if IsNegated(pattern) {
		return false
	}
	pattern = strings.TrimSuffix(pattern, "/")
	g := pm.compile(pattern, false)
	if g == nil {
		return false
	}
	return g.Match(path.Base(filepath.ToSlash(name)))
}

// MatchesPath matches a slash-separated relative path against a pattern that
// names a location inside the tree, such as ".vscode/settings.json". A * in
// such a pattern never crosses a path separator.
func (pm *PatternMatcher) MatchesPath(relPath, pattern string) bool {
	if IsNegated(pattern) {
		return false
	}
	pattern = strings.TrimSuffix(pattern, "/")
	g := pm.compile(pattern, true)
	if g == nil {
		return false
	}
	return g.Match(normalizeRel(relPath))
}

// IsSafe reports whether relPath may be deleted. It returns false for the
// project root itself, for paths escaping the root, and for any path that
// starts with a deny-list entry.
func (pm *PatternMatcher) IsSafe(relPath string) bool {
	rel := normalizeRel(relPath)
	if rel == "" || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return false
	}
	for _, prefix := range pm.deny {
		if strings.HasPrefix(rel, prefix) {
			return false
		}
	}
	return true
}

// IsNegated reports whether pattern is a "never match" pattern.
func IsNegated(pattern string) bool {
	return strings.HasPrefix(pattern, "!")
}

// IsDirPattern reports whether pattern only matches directories.
func IsDirPattern(pattern string) bool {
	return strings.HasSuffix(pattern, "/")
}

// IsAnchored reports whether pattern names a path inside the tree rather
// than a base name.
func IsAnchored(pattern string) bool {
	return strings.Contains(strings.TrimSuffix(pattern, "/"), "/")
}

// HasWildcard reports whether pattern uses * or ?.
func HasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

func (pm *PatternMatcher) compile(pattern string, anchored bool) glob.Glob {
	key := pattern
	if anchored {
		key = "/" + pattern
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if g, ok := pm.cache[key]; ok {
		return g
	}

	var (
		g   glob.Glob
		err error
	)
	if anchored {
		g, err = glob.Compile(escapeGlob(pattern), '/')
	} else {
		g, err = glob.Compile(escapeGlob(pattern))
	}
	if err != nil {
		g = nil
	}
	pm.cache[key] = g
	return g
}

// escapeGlob quotes every glob metacharacter except * and ?.
func escapeGlob(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func normalizeRel(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
