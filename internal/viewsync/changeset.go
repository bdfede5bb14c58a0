package viewsync

// FieldChange is one field's transition inside an update.
type FieldChange struct {
	Field  Field `json:"field"`
	Before any   `json:"before"`
	After  any   `json:"after"`
}

// Update pairs a patched entry with the fields that changed on it.
type Update struct {
	Entry   *Entry        `json:"entry"`
	Changes []FieldChange `json:"changes"`
}

// ChangeSet is the outcome of one Refresh or Clear.
type ChangeSet struct {
	Removed  []string `json:"removed"`
	Inserted []*Entry `json:"inserted"`
	Updated  []Update `json:"updated"`
	// Reordered is set when the sequence of visible entries differs from
	// the previous view, including changes caused only by a new comparator.
	Reordered bool `json:"reordered"`
	// View is the full ordered view after the change was applied.
	View []*Entry `json:"-"`
}

// Empty reports whether the change set carries no mutations.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.Removed) == 0 && len(cs.Inserted) == 0 && len(cs.Updated) == 0)
}

// Len returns the total number of mutations.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Removed) + len(cs.Inserted) + len(cs.Updated)
}
