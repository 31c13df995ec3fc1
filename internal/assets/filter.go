package assets

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter accepts paths that match no exclude pattern and, when include
// patterns are given, at least one of them. An empty include list accepts
// everything that is not excluded.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter validates and normalizes doublestar patterns.
// Relative patterns match anywhere in the tree, so "*.png" behaves like "**/*.png".
func NewFilter(include, exclude []string) (*Filter, error) {
	inc, err := normalizePatterns(include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exc, err := normalizePatterns(exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return &Filter{include: inc, exclude: exc}, nil
}

// Match reports whether the filter accepts p.
func (f *Filter) Match(p string) bool {
	if f == nil {
		return false
	}
	normalized := filepath.ToSlash(p)
	for _, pat := range f.exclude {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pat := range f.include {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

func normalizePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		pat = filepath.ToSlash(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid pattern %q", pat)
		}
		if !path.IsAbs(pat) && !strings.HasPrefix(pat, "**/") {
			pat = "**/" + pat
		}
		out = append(out, pat)
	}
	return out, nil
}
