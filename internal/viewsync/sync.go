// Package viewsync keeps an ordered, filtered view of a resource listing in
// step with successive snapshots of that listing. Each Refresh diffs the new
// snapshot against the rows already shown and reports only what changed, so
// a consumer can patch its display instead of rebuilding it.
//
// A Sync is not safe for concurrent use. Callers that poll from more than
// one goroutine must serialize Refresh, SetSortOrder and Clear themselves.
package viewsync

import (
	"cmp"
	"slices"
)

// State is the coarse lifecycle state of a Sync.
type State int

const (
	StateEmpty State = iota
	StatePopulated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	default:
		return "unknown"
	}
}

// Sync owns the view entries and reconciles them against snapshots.
type Sync struct {
	entries map[string]*Entry
	order   []*Entry
	compare Comparator
}

// New returns an empty Sync ordered by ByType.
func New() *Sync {
	return &Sync{
		entries: make(map[string]*Entry),
		compare: ByType,
	}
}

// SetSortOrder replaces the comparator used by subsequent Refresh calls.
// The current view is not re-sorted until then. Nil restores ByType.
func (s *Sync) SetSortOrder(c Comparator) {
	if c == nil {
		c = ByType
	}
	s.compare = c
}

type candidate struct {
	entry   *Entry
	next    Record
	changes []FieldChange
	isNew   bool
}

// Refresh reconciles the view with snapshot, keeping only records accepted
// by filter (nil accepts all). It either applies the whole change and
// returns it, or returns an error and leaves the view exactly as it was.
func (s *Sync) Refresh(snapshot []Record, filter Filter) (*ChangeSet, error) {
	accepted, err := selectRecords(snapshot, filter)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(accepted))
	for i := range accepted {
		present[accepted[i].ID] = struct{}{}
	}

	cs := newChangeSet()
	for _, e := range s.order {
		if _, ok := present[e.rec.ID]; !ok {
			cs.Removed = append(cs.Removed, e.rec.ID)
		}
	}

	staged := make([]candidate, 0, len(accepted))
	for i := range accepted {
		rec := accepted[i]
		if e, ok := s.entries[rec.ID]; ok {
			staged = append(staged, candidate{entry: e, next: rec, changes: diffRecords(&e.rec, &rec)})
			continue
		}
		staged = append(staged, candidate{entry: &Entry{rec: rec}, next: rec, isNew: true})
	}

	if err := sortCandidates(staged, s.compare); err != nil {
		return nil, err
	}

	// Nothing below can fail; commit.
	for _, id := range cs.Removed {
		delete(s.entries, id)
	}

	order := make([]*Entry, len(staged))
	for i := range staged {
		c := &staged[i]
		order[i] = c.entry
		switch {
		case c.isNew:
			s.entries[c.next.ID] = c.entry
			cs.Inserted = append(cs.Inserted, c.entry)
		case len(c.changes) > 0:
			patchRecord(&c.entry.rec, &c.next, c.changes)
			c.entry.revision++
			cs.Updated = append(cs.Updated, Update{Entry: c.entry, Changes: c.changes})
		}
	}

	cs.Reordered = !sameOrder(s.order, order)
	s.order = order
	cs.View = s.View()
	return cs, nil
}

// Clear drops every entry and reports each as removed, in view order.
func (s *Sync) Clear() *ChangeSet {
	cs := newChangeSet()
	for _, e := range s.order {
		cs.Removed = append(cs.Removed, e.rec.ID)
	}
	cs.Reordered = len(s.order) > 0
	s.entries = make(map[string]*Entry)
	s.order = nil
	cs.View = []*Entry{}
	return cs
}

// View returns the ordered entries. The slice is a copy; the entries are not.
func (s *Sync) View() []*Entry {
	out := make([]*Entry, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the entry for id, if it is currently visible.
func (s *Sync) Get(id string) (*Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of visible entries.
func (s *Sync) Len() int {
	return len(s.order)
}

// State reports whether the view currently holds any entries.
func (s *Sync) State() State {
	if len(s.order) == 0 {
		return StateEmpty
	}
	return StatePopulated
}

// selectRecords validates the snapshot and applies the filter exactly once
// per record, preserving snapshot order.
func selectRecords(snapshot []Record, filter Filter) ([]Record, error) {
	seen := make(map[string]struct{}, len(snapshot))
	accepted := make([]Record, 0, len(snapshot))
	for i := range snapshot {
		rec := snapshot[i]
		if err := rec.validate(); err != nil {
			invalid := err.(*InvalidRecordError)
			invalid.Index = i
			return nil, invalid
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, &InvalidRecordError{Index: i, ID: rec.ID, Reason: "duplicate id in snapshot"}
		}
		seen[rec.ID] = struct{}{}

		if filter != nil {
			ok, err := applyFilter(filter, rec)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		accepted = append(accepted, rec)
	}
	return accepted, nil
}

func applyFilter(filter Filter, rec Record) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &FilterError{ID: rec.ID, Cause: p}
		}
	}()
	return filter(rec), nil
}

func sortCandidates(items []candidate, compare Comparator) (err error) {
	var a, b string
	defer func() {
		if p := recover(); p != nil {
			err = &ComparatorError{A: a, B: b, Cause: p}
		}
	}()
	slices.SortFunc(items, func(x, y candidate) int {
		a, b = x.next.ID, y.next.ID
		if r := compare(x.next, y.next); r != 0 {
			return r
		}
		return cmp.Compare(x.next.ID, y.next.ID)
	})
	return nil
}

func sameOrder(a, b []*Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Removed:  []string{},
		Inserted: []*Entry{},
		Updated:  []Update{},
	}
}
