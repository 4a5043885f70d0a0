package dispatch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ExcludeFilter drops paths matching a set of glob patterns.
// Patterns are matched against each component of the root-relative path,
// so "node_modules" excludes "web/node_modules/x.js" and "*.swp" excludes
// any swap file.
type ExcludeFilter struct {
	root     string
	patterns []string
}

// NewExcludeFilter returns a filter for the given patterns. Duplicates and
// empty patterns are removed. A nil filter excludes nothing.
func NewExcludeFilter(root string, patterns []string) (*ExcludeFilter, error) {
	seen := make(map[string]struct{}, len(patterns))
	var merged []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	if len(merged) == 0 {
		return nil, nil
	}
	return &ExcludeFilter{root: filepath.Clean(root), patterns: merged}, nil
}

// Excluded reports whether path matches any pattern.
func (f *ExcludeFilter) Excluded(path string) bool {
	if f == nil {
		return false
	}
	rel := relativeTo(f.root, path)
	for _, component := range strings.Split(rel, string(filepath.Separator)) {
		for _, pattern := range f.patterns {
			if matched, _ := filepath.Match(pattern, component); matched {
				return true
			}
		}
	}
	return false
}

// Patterns returns the effective pattern list.
func (f *ExcludeFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

// relativeTo returns path relative to root, or path unchanged when it lies
// outside root.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Clean(path)
	}
	return rel
}
