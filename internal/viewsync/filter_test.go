package viewsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilters(t *testing.T) {
	vm := Record{ID: "qemu/100", Type: TypeQemu, Name: "Web-01", Node: "pve1", Pool: "prod", Text: "100 (Web-01)"}
	ct := Record{ID: "lxc/200", Type: TypeLXC, Name: "dns", Node: "pve2", Text: "200 (dns)"}
	node := Record{ID: "node/pve1", Type: TypeNode, Node: "pve1", Text: "pve1"}
	store := Record{ID: "storage/pve2/local-zfs", Type: TypeStorage, Storage: "local-zfs", Node: "pve2", Text: "local-zfs (pve2)"}

	tests := []struct {
		name   string
		filter Filter
		want   map[string]bool
	}{
		{
			name:   "of type",
			filter: OfType(TypeQemu, TypeLXC),
			want:   map[string]bool{vm.ID: true, ct.ID: true, node.ID: false, store.ID: false},
		},
		{
			name:   "on node",
			filter: OnNode("pve1"),
			want:   map[string]bool{vm.ID: true, ct.ID: false, node.ID: true, store.ID: false},
		},
		{
			name:   "in pool",
			filter: InPool("prod"),
			want:   map[string]bool{vm.ID: true, ct.ID: false, node.ID: false, store.ID: false},
		},
		{
			name:   "text matches name case-insensitively",
			filter: MatchText("web"),
			want:   map[string]bool{vm.ID: true, ct.ID: false, node.ID: false, store.ID: false},
		},
		{
			name:   "text matches storage and node columns",
			filter: MatchText("PVE2"),
			want:   map[string]bool{vm.ID: false, ct.ID: true, node.ID: false, store.ID: true},
		},
		{
			name:   "text matches type column",
			filter: MatchText("storage"),
			want:   map[string]bool{vm.ID: false, ct.ID: false, node.ID: false, store.ID: true},
		},
		{
			name:   "empty text accepts all",
			filter: MatchText("  "),
			want:   map[string]bool{vm.ID: true, ct.ID: true, node.ID: true, store.ID: true},
		},
		{
			name:   "glob on name",
			filter: MatchGlob("web-*"),
			want:   map[string]bool{vm.ID: true, ct.ID: false, node.ID: false, store.ID: false},
		},
		{
			name:   "glob on text",
			filter: MatchGlob("local*"),
			want:   map[string]bool{vm.ID: false, ct.ID: false, node.ID: false, store.ID: true},
		},
		{
			name:   "and",
			filter: And(OfType(TypeQemu, TypeLXC), OnNode("pve2")),
			want:   map[string]bool{vm.ID: false, ct.ID: true, node.ID: false, store.ID: false},
		},
		{
			name:   "or with nil",
			filter: Or(nil, OfType(TypeNode), InPool("prod")),
			want:   map[string]bool{vm.ID: true, ct.ID: false, node.ID: true, store.ID: false},
		},
		{
			name:   "not",
			filter: Not(OfType(TypeNode)),
			want:   map[string]bool{vm.ID: true, ct.ID: true, node.ID: false, store.ID: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range []Record{vm, ct, node, store} {
				assert.Equal(t, tt.want[r.ID], tt.filter(r), r.ID)
			}
		})
	}
}
