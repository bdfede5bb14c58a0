package resources

import (
	"slices"
	"strings"

	"github.com/rcourtman/pveview/internal/viewsync"
)

// Group is one branch of the resource tree: a node or pool and the entries
// filed beneath it. Parent is nil when the node or pool itself is filtered
// out of the view.
type Group struct {
	ID       string            `json:"id"`
	Parent   *viewsync.Entry   `json:"parent,omitempty"`
	Children []*viewsync.Entry `json:"children"`
}

// Tree layers a node and pool hierarchy over the flat view. It is kept
// current by applying change sets and is never rebuilt from the full view.
// A Tree is not safe for concurrent use.
type Tree struct {
	roots    map[string]*viewsync.Entry // group key -> node or pool entry
	rootKeys map[string]string          // entry id -> group key
	children map[string]map[string]*viewsync.Entry
	parents  map[string][]string
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		roots:    make(map[string]*viewsync.Entry),
		rootKeys: make(map[string]string),
		children: make(map[string]map[string]*viewsync.Entry),
		parents:  make(map[string][]string),
	}
}

// ParentKeys returns the groups a record belongs to: guests, storage and
// SDN zones sit under their node, and guests in a pool also sit under it.
func ParentKeys(r viewsync.Record) []string {
	var keys []string
	switch r.Type {
	case viewsync.TypeNode, viewsync.TypePool:
		return nil
	}
	if r.Node != "" {
		keys = append(keys, "node/"+r.Node)
	}
	if r.Pool != "" {
		keys = append(keys, "pool/"+r.Pool)
	}
	return keys
}

// GroupKey returns the group a node or pool record heads. Pool ids carry a
// leading slash on the wire, so groups are keyed by name instead.
func GroupKey(r viewsync.Record) (string, bool) {
	switch {
	case r.Type == viewsync.TypeNode && r.Node != "":
		return "node/" + r.Node, true
	case r.Type == viewsync.TypePool && r.Pool != "":
		return "pool/" + r.Pool, true
	}
	return "", false
}

// Apply moves entries between groups according to cs and returns the ids
// of the groups whose membership or parent changed, sorted.
func (t *Tree) Apply(cs *viewsync.ChangeSet) []string {
	if cs == nil {
		return nil
	}
	touched := make(map[string]struct{})

	for _, id := range cs.Removed {
		t.dropRoot(id, touched)
		for _, key := range t.parents[id] {
			t.detach(key, id)
			touched[key] = struct{}{}
		}
		delete(t.parents, id)
	}

	for _, e := range cs.Inserted {
		t.place(e, touched)
	}
	for _, u := range cs.Updated {
		t.place(u.Entry, touched)
	}

	out := make([]string, 0, len(touched))
	for key := range touched {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

func (t *Tree) place(e *viewsync.Entry, touched map[string]struct{}) {
	rec := e.Record()
	id := e.ID()

	if key, ok := GroupKey(rec); ok {
		if t.rootKeys[id] != key {
			t.dropRoot(id, touched)
			t.rootKeys[id] = key
			touched[key] = struct{}{}
		}
		t.roots[key] = e
	} else {
		t.dropRoot(id, touched)
	}

	next := ParentKeys(rec)
	prev := t.parents[id]
	for _, key := range prev {
		if !slices.Contains(next, key) {
			t.detach(key, id)
			touched[key] = struct{}{}
		}
	}
	for _, key := range next {
		members := t.children[key]
		if members == nil {
			members = make(map[string]*viewsync.Entry)
			t.children[key] = members
		}
		if _, ok := members[id]; !ok {
			touched[key] = struct{}{}
		}
		members[id] = e
	}
	if len(next) == 0 {
		delete(t.parents, id)
	} else {
		t.parents[id] = next
	}
}

func (t *Tree) dropRoot(id string, touched map[string]struct{}) {
	key, ok := t.rootKeys[id]
	if !ok {
		return
	}
	delete(t.rootKeys, id)
	if e := t.roots[key]; e != nil && e.ID() == id {
		delete(t.roots, key)
	}
	touched[key] = struct{}{}
}

func (t *Tree) detach(key, id string) {
	members := t.children[key]
	delete(members, id)
	if len(members) == 0 {
		delete(t.children, key)
	}
}

// Children returns the entries under a group, ordered by id.
func (t *Tree) Children(key string) []*viewsync.Entry {
	members := t.children[key]
	out := make([]*viewsync.Entry, 0, len(members))
	for _, e := range members {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *viewsync.Entry) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// ParentsOf returns the group ids an entry is filed under.
func (t *Tree) ParentsOf(id string) []string {
	return slices.Clone(t.parents[id])
}

// Groups returns every non-empty group plus every visible node and pool,
// ordered by id.
func (t *Tree) Groups() []Group {
	ids := make(map[string]struct{}, len(t.roots)+len(t.children))
	for id := range t.roots {
		ids[id] = struct{}{}
	}
	for key := range t.children {
		ids[key] = struct{}{}
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	slices.Sort(keys)

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, Group{ID: key, Parent: t.roots[key], Children: t.Children(key)})
	}
	return groups
}

// Reset drops every group, as after the view was cleared.
func (t *Tree) Reset() {
	clear(t.roots)
	clear(t.rootKeys)
	clear(t.children)
	clear(t.parents)
}
