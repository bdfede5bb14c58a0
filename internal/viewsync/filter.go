package viewsync

import (
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// Filter decides whether a record belongs in the view. Filters must be pure;
// a Filter that panics aborts the Refresh with a *FilterError.
type Filter func(Record) bool

// All accepts every record.
func All(Record) bool { return true }

// OfType accepts records whose type is one of types.
func OfType(types ...ResourceType) Filter {
	set := make(map[ResourceType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(r Record) bool {
		_, ok := set[r.Type]
		return ok
	}
}

// OnNode scopes the view to a node: the node itself and everything on it.
func OnNode(node string) Filter {
	return func(r Record) bool {
		if r.Type == TypeNode {
			return r.Node == node || r.ID == "node/"+node
		}
		return r.Node == node
	}
}

// InPool scopes the view to a pool and its members.
func InPool(pool string) Filter {
	return func(r Record) bool {
		return r.Pool == pool
	}
}

// searchFields are the columns the console's search box looks at.
func searchFields(r Record) [5]string {
	return [5]string{r.Name, r.Storage, r.Node, string(r.Type), r.Text}
}

// MatchText accepts records where any searchable column contains text,
// ignoring case. An empty text accepts everything.
func MatchText(text string) Filter {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return All
	}
	return func(r Record) bool {
		for _, v := range searchFields(r) {
			if v != "" && strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	}
}

// MatchGlob accepts records whose name or text matches a wildcard pattern
// such as "web-*". Matching ignores case.
func MatchGlob(pattern string) Filter {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" || pattern == "*" {
		return All
	}
	return func(r Record) bool {
		return wildcard.Match(pattern, strings.ToLower(r.Name)) ||
			wildcard.Match(pattern, strings.ToLower(r.Text))
	}
}

// And accepts records accepted by every filter. Nil filters are skipped.
func And(filters ...Filter) Filter {
	return func(r Record) bool {
		for _, f := range filters {
			if f != nil && !f(r) {
				return false
			}
		}
		return true
	}
}

// Or accepts records accepted by at least one non-nil filter.
func Or(filters ...Filter) Filter {
	return func(r Record) bool {
		for _, f := range filters {
			if f != nil && f(r) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not(f Filter) Filter {
	return func(r Record) bool {
		return !f(r)
	}
}
