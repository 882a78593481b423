package filter

import (
	"github.com/hedeqiang/dropwatch/event"
)

// AllFilter matches when every child matches. An empty AllFilter matches everything.
type AllFilter []Filter

// All combines filters with AND logic.
func All(filters ...Filter) AllFilter {
	return AllFilter(filters)
}

// Match reports whether every child filter matches the log.
func (f AllFilter) Match(log event.Log) bool {
	for _, child := range f {
		if !child.Match(log) {
			return false
		}
	}
	return true
}
