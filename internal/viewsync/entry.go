package viewsync

import "encoding/json"

// Entry is the view's row for one id. The same *Entry is kept for as long
// as its id stays visible; updates patch it in place.
type Entry struct {
	rec      Record
	revision uint64
}

// ID returns the resource id the entry tracks.
func (e *Entry) ID() string { return e.rec.ID }

// Record returns a copy of the entry's current field values.
func (e *Entry) Record() Record { return e.rec }

// Revision counts in-place patches applied since the entry was created.
func (e *Entry) Revision() uint64 { return e.revision }

// MarshalJSON encodes the entry as its record.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.rec)
}
