package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters catalog entries by name using glob patterns
type GlobFilter struct {
	includeGlobs []glob.Glob
	excludeGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty include patterns match everything; excludes win over includes.
func NewGlobFilter(includePatterns, excludePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		includeGlobs: make([]glob.Glob, 0, len(includePatterns)),
		excludeGlobs: make([]glob.Glob, 0, len(excludePatterns)),
	}

	for _, pattern := range includePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		filter.includeGlobs = append(filter.includeGlobs, g)
	}

	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		filter.excludeGlobs = append(filter.excludeGlobs, g)
	}

	return filter, nil
}

// Match returns true if name is included and not excluded
func (f *GlobFilter) Match(name string) bool {
	for _, g := range f.excludeGlobs {
		if g.Match(name) {
			return false
		}
	}

	if len(f.includeGlobs) == 0 {
		return true
	}

	for _, g := range f.includeGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// matchAll is used when no filter is configured
type matchAll struct{}

func (matchAll) Match(string) bool { return true }
