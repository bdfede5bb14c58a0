// Package session owns one browser-facing resource view: the synchronizer,
// its tree grouping and the active view preset, serialized behind a mutex.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rcourtman/pveview/internal/config"
	"github.com/rcourtman/pveview/internal/resources"
	"github.com/rcourtman/pveview/internal/viewsync"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// RowUpdate lists the field changes applied to one visible row.
type RowUpdate struct {
	ID      string                 `json:"id"`
	Changes []viewsync.FieldChange `json:"changes"`
}

// Update is a change set detached from the live entries, safe to encode
// after the session lock is released.
type Update struct {
	Seq       string            `json:"seq"`
	SessionID string            `json:"session"`
	Removed   []string          `json:"removed"`
	Inserted  []viewsync.Record `json:"inserted"`
	Updated   []RowUpdate       `json:"updated"`
	Reordered bool              `json:"reordered"`
	// Order holds every visible id in view order when Reordered is set.
	Order  []string `json:"order,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Total  int      `json:"total"`
}

// Empty reports whether the update changes nothing a client can see.
func (u *Update) Empty() bool {
	return u == nil || (len(u.Removed) == 0 && len(u.Inserted) == 0 && len(u.Updated) == 0 && !u.Reordered)
}

// Sequence returns the update's ordering key. Sequences are ULIDs, so
// later updates compare greater.
func (u *Update) Sequence() string {
	if u == nil {
		return ""
	}
	return u.Seq
}

// Group is a tree branch with its rows copied out.
type Group struct {
	ID       string            `json:"id"`
	Parent   *viewsync.Record  `json:"parent,omitempty"`
	Children []viewsync.Record `json:"children"`
}

// State is a full copy of the view, sent to clients that connect late.
type State struct {
	SessionID string             `json:"session"`
	Seq       string             `json:"seq"`
	Preset    *config.ViewPreset `json:"preset,omitempty"`
	Records   []viewsync.Record  `json:"records"`
	Total     int                `json:"total"`
	Status    string             `json:"status"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Sequence returns the seq of the last update the state includes.
func (s State) Sequence() string { return s.Seq }

// Session is safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	updatedAt time.Time
	seq       string
	closed    bool

	view   *viewsync.Sync
	tree   *resources.Tree
	preset *config.ViewPreset
	filter viewsync.Filter
	last   []viewsync.Record
}

// New starts a session with the given preset (nil shows everything).
func New(preset *config.ViewPreset) *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		view:      viewsync.New(),
		tree:      resources.NewTree(),
	}
	s.setPreset(preset)
	return s
}

func (s *Session) setPreset(p *config.ViewPreset) {
	s.preset = p
	s.filter = p.BuildFilter()
	s.view.SetSortOrder(p.BuildComparator())
}

// ID identifies the current session lifecycle. It changes on Reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// CreatedAt is when the current lifecycle began.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Len returns the number of visible rows.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Len()
}

// Preset returns the active preset.
func (s *Session) Preset() *config.ViewPreset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// Apply reconciles the view with a fresh snapshot. On error the view and
// the remembered snapshot are unchanged.
func (s *Session) Apply(snapshot []viewsync.Record) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	cs, err := s.view.Refresh(snapshot, s.filter)
	if err != nil {
		return nil, fmt.Errorf("refresh view: %w", err)
	}
	s.last = slices.Clone(snapshot)
	return s.publish(cs), nil
}

// SetView switches to a new preset and re-evaluates the last snapshot
// against it. If that fails the previous preset stays active.
func (s *Session) SetView(p *config.ViewPreset) (*Update, error) {
	if p != nil {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	prev := s.preset
	s.setPreset(p)
	cs, err := s.view.Refresh(s.last, s.filter)
	if err != nil {
		s.setPreset(prev)
		return nil, fmt.Errorf("apply view: %w", err)
	}
	return s.publish(cs), nil
}

// Reset empties the view and starts a new lifecycle with a fresh id, as
// after the cluster session was lost. The preset is kept.
func (s *Session) Reset() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.publish(s.view.Clear())
	s.tree.Reset()
	s.last = nil
	s.id = uuid.NewString()
	s.createdAt = time.Now()
	return u
}

// Close empties the view for good. Later calls to Apply and SetView fail
// with ErrClosed.
func (s *Session) Close() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	u := s.publish(s.view.Clear())
	s.tree.Reset()
	s.last = nil
	s.closed = true
	return u
}

// Snapshot copies the whole view.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.view.View()
	records := make([]viewsync.Record, len(view))
	for i, e := range view {
		records[i] = e.Record()
	}
	return State{
		SessionID: s.id,
		Seq:       s.seq,
		Preset:    s.preset,
		Records:   records,
		Total:     len(records),
		Status:    s.view.State().String(),
		UpdatedAt: s.updatedAt,
	}
}

// Tree copies the node and pool grouping of the view.
func (s *Session) Tree() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.tree.Groups()
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = Group{ID: g.ID, Children: make([]viewsync.Record, len(g.Children))}
		if g.Parent != nil {
			rec := g.Parent.Record()
			out[i].Parent = &rec
		}
		for j, e := range g.Children {
			out[i].Children[j] = e.Record()
		}
	}
	return out
}

// ParentsOf returns the groups a visible entry is filed under. ok is false
// when id is not in the view.
func (s *Session) ParentsOf(id string) (parents []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.view.Get(id); !ok {
		return nil, false
	}
	return s.tree.ParentsOf(id), true
}

// publish must be called with mu held.
func (s *Session) publish(cs *viewsync.ChangeSet) *Update {
	groups := s.tree.Apply(cs)
	s.seq = ulid.Make().String()
	s.updatedAt = time.Now()

	u := &Update{
		Seq:       s.seq,
		SessionID: s.id,
		Removed:   cs.Removed,
		Inserted:  make([]viewsync.Record, len(cs.Inserted)),
		Updated:   make([]RowUpdate, len(cs.Updated)),
		Reordered: cs.Reordered,
		Groups:    groups,
		Total:     len(cs.View),
	}
	for i, e := range cs.Inserted {
		u.Inserted[i] = e.Record()
	}
	for i, up := range cs.Updated {
		u.Updated[i] = RowUpdate{ID: up.Entry.ID(), Changes: up.Changes}
	}
	if cs.Reordered {
		u.Order = make([]string, len(cs.View))
		for i, e := range cs.View {
			u.Order[i] = e.ID()
		}
	}
	return u
}
