package purge

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// filterKind tags which variant of Filter is active (spec.md §9 "Filter
// abstraction... tagged variant").
type filterKind int

const (
	filterPathGlob filterKind = iota
	filterCatalogSelector
)

// Filter decides which fileset entries are removed by a purge. It is a
// tagged variant rather than an interface so Options stays a plain,
// comparable struct and the engine never needs to type-switch on a
// caller-supplied implementation.
type Filter struct {
	kind    filterKind
	pattern string
	regex   *regexp.Regexp
}

// PathGlob matches paths against a shell-style glob pattern (spec.md §9).
func PathGlob(pattern string) Filter {
	return Filter{kind: filterPathGlob, pattern: pattern}
}

// CatalogSelector matches paths against a precompiled regular
// expression standing in for the catalog's query-level selector
// language (spec.md §9 "a selector expressed in the catalog's query
// language"). Callers compile their selector to a regexp before calling.
func CatalogSelector(compiled string) (Filter, error) {
	re, err := regexp.Compile(compiled)
	if err != nil {
		return Filter{}, fmt.Errorf("purge: compile catalog selector: %w", err)
	}
	return Filter{kind: filterCatalogSelector, pattern: compiled, regex: re}, nil
}

// Empty reports whether the filter was never given a pattern (spec.md
// §4.5 precondition 1).
func (f Filter) Empty() bool {
	return f.pattern == ""
}

// Matches reports whether path should be removed by this filter.
func (f Filter) Matches(path string) (bool, error) {
	switch f.kind {
	case filterPathGlob:
		return filepath.Match(f.pattern, path)
	case filterCatalogSelector:
		if f.regex == nil {
			return false, fmt.Errorf("purge: catalog selector %q was not compiled", f.pattern)
		}
		return f.regex.MatchString(path), nil
	default:
		return false, fmt.Errorf("purge: unknown filter kind %d", f.kind)
	}
}
