package viewsync

import (
	"cmp"
	"strings"
)

// Comparator orders two records. It returns a negative number when a sorts
// before b, a positive number when after, and zero for equal sort keys.
// Equal keys are always resolved by id, so a Comparator never needs to.
type Comparator func(a, b Record) int

// ByType orders by resource type, the console's default grouping.
func ByType(a, b Record) int {
	return cmp.Compare(a.Type, b.Type)
}

// ByField orders by a single tracked field. Strings compare
// case-insensitively; booleans sort false before true.
func ByField(f Field, descending bool) Comparator {
	return func(a, b Record) int {
		c := compareValues(f.Value(a), f.Value(b))
		if descending {
			return -c
		}
		return c
	}
}

// Then chains comparators: later ones only decide when earlier ones tie.
func Then(cmps ...Comparator) Comparator {
	return func(a, b Record) int {
		for _, c := range cmps {
			if c == nil {
				continue
			}
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		return cmp.Compare(strings.ToLower(av), strings.ToLower(b.(string)))
	case ResourceType:
		return cmp.Compare(av, b.(ResourceType))
	case int:
		return cmp.Compare(av, b.(int))
	case int64:
		return cmp.Compare(av, b.(int64))
	case float64:
		return cmp.Compare(av, b.(float64))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	}
	return 0
}
