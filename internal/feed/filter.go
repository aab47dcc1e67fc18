package feed

import (
	"fmt"
	"strings"
)

type Filter string

const (
	FilterActive   Filter = "active"
	FilterStarred  Filter = "starred"
	FilterArchived Filter = "archived"
	FilterAll      Filter = "all"
)

var filterOrder = []Filter{FilterActive, FilterStarred, FilterArchived, FilterAll}

func ParseFilter(s string) (Filter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FilterActive, nil
	}
	for _, f := range filterOrder {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// Match reports whether it is visible under f.
func (f Filter) Match(it Item) bool {
	switch f {
	case FilterActive:
		return !it.Archived
	case FilterStarred:
		return it.Starred
	case FilterArchived:
		return it.Archived
	case FilterAll:
		return true
	}
	return false
}

// Next cycles active -> starred -> archived -> all -> active.
func (f Filter) Next() Filter {
	for i, g := range filterOrder {
		if g == f {
			return filterOrder[(i+1)%len(filterOrder)]
		}
	}
	return FilterActive
}

func Filters() []Filter {
	out := make([]Filter, len(filterOrder))
	copy(out, filterOrder)
	return out
}
