package viewsync

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID()
	}
	return out
}

func mixedSnapshot() []Record {
	return []Record{
		{ID: "qemu/100", Type: TypeQemu, Name: "web-01", Node: "pve1", VMID: 100, Status: "running", Uptime: 42},
		{ID: "node/pve1", Type: TypeNode, Node: "pve1", Status: "online", Uptime: 1000},
		{ID: "lxc/200", Type: TypeLXC, Name: "dns", Node: "pve2", VMID: 200, Status: "stopped"},
		{ID: "storage/pve1/local", Type: TypeStorage, Storage: "local", Node: "pve1", Status: "available"},
	}
}

func TestRefresh_InsertIntoEmptyView(t *testing.T) {
	s := New()
	require.Equal(t, StateEmpty, s.State())

	cs, err := s.Refresh([]Record{{ID: "a", Status: "running"}}, All)
	require.NoError(t, err)

	require.Len(t, cs.Inserted, 1)
	assert.Equal(t, "a", cs.Inserted[0].ID())
	assert.Equal(t, "running", cs.Inserted[0].Record().Status)
	assert.Empty(t, cs.Updated)
	assert.Empty(t, cs.Removed)
	assert.Equal(t, []string{"a"}, ids(cs.View))
	assert.Equal(t, StatePopulated, s.State())
}

func TestRefresh_UpdateReportsFieldDiff(t *testing.T) {
	s := New()
	_, err := s.Refresh([]Record{{ID: "a", Status: "running"}}, All)
	require.NoError(t, err)

	cs, err := s.Refresh([]Record{{ID: "a", Status: "stopped"}}, All)
	require.NoError(t, err)

	assert.Empty(t, cs.Inserted)
	assert.Empty(t, cs.Removed)
	require.Len(t, cs.Updated, 1)
	assert.Equal(t, "a", cs.Updated[0].Entry.ID())
	assert.Equal(t, []FieldChange{{Field: FieldStatus, Before: "running", After: "stopped"}}, cs.Updated[0].Changes)
	assert.Equal(t, uint64(1), cs.Updated[0].Entry.Revision())
}

func TestRefresh_RemovesVanishedRecords(t *testing.T) {
	s := New()
	_, err := s.Refresh([]Record{{ID: "a"}, {ID: "b"}}, All)
	require.NoError(t, err)

	cs, err := s.Refresh([]Record{{ID: "b"}}, All)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, cs.Removed)
	assert.Empty(t, cs.Inserted)
	assert.Empty(t, cs.Updated)
	assert.Equal(t, []string{"b"}, ids(s.View()))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestRefresh_FilterChangeRemovesFilteredRecords(t *testing.T) {
	snapshot := []Record{
		{ID: "qemu/100", Type: TypeQemu},
		{ID: "node/pve1", Type: TypeNode},
	}
	s := New()
	_, err := s.Refresh(snapshot, All)
	require.NoError(t, err)

	vmOnly := func(r Record) bool { return r.Type == "qemu" }
	cs, err := s.Refresh(snapshot, vmOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"node/pve1"}, cs.Removed)
	assert.Equal(t, []string{"qemu/100"}, ids(s.View()))
}

func TestRefresh_IdempotentOnIdenticalInput(t *testing.T) {
	s := New()
	snapshot := mixedSnapshot()

	first, err := s.Refresh(snapshot, All)
	require.NoError(t, err)
	assert.Len(t, first.Inserted, len(snapshot))

	before := s.View()
	second, err := s.Refresh(snapshot, All)
	require.NoError(t, err)

	assert.True(t, second.Empty())
	assert.False(t, second.Reordered)
	assert.Equal(t, before, s.View())
}

func TestRefresh_PreservesEntryIdentity(t *testing.T) {
	s := New()
	_, err := s.Refresh(mixedSnapshot(), All)
	require.NoError(t, err)
	entry, ok := s.Get("qemu/100")
	require.True(t, ok)

	next := mixedSnapshot()
	next[0].CPU = 0.75
	next[0].Mem = 512 << 20
	cs, err := s.Refresh(next, All)
	require.NoError(t, err)

	after, ok := s.Get("qemu/100")
	require.True(t, ok)
	assert.Same(t, entry, after)
	require.Len(t, cs.Updated, 1)
	assert.Same(t, entry, cs.Updated[0].Entry)
	assert.Equal(t, 0.75, after.Record().CPU)
	assert.Equal(t, int64(512<<20), after.Record().Mem)

	var changed []string
	for _, c := range cs.Updated[0].Changes {
		changed = append(changed, c.Field.String())
	}
	assert.Equal(t, []string{"cpu", "mem"}, changed)
}

func TestRefresh_Completeness(t *testing.T) {
	snapshot := mixedSnapshot()
	filters := map[string]Filter{
		"all":     All,
		"nil":     nil,
		"guests":  func(r Record) bool { return r.Type.IsGuest() },
		"on pve1": OnNode("pve1"),
		"none":    func(Record) bool { return false },
	}

	for name, f := range filters {
		t.Run(name, func(t *testing.T) {
			s := New()
			_, err := s.Refresh(mixedSnapshot(), All)
			require.NoError(t, err)

			_, err = s.Refresh(snapshot, f)
			require.NoError(t, err)

			var want []string
			for _, r := range snapshot {
				if f == nil || f(r) {
					want = append(want, r.ID)
				}
			}
			assert.ElementsMatch(t, want, ids(s.View()))
			assert.Equal(t, len(want), s.Len())
		})
	}
}

func TestRefresh_EmptyFilteredIndexReturnsToEmptyState(t *testing.T) {
	s := New()
	_, err := s.Refresh(mixedSnapshot(), All)
	require.NoError(t, err)
	require.Equal(t, StatePopulated, s.State())

	cs, err := s.Refresh(nil, All)
	require.NoError(t, err)
	assert.Len(t, cs.Removed, 4)
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, s.View())
}

func TestRefresh_RemovedIDsFollowPreviousViewOrder(t *testing.T) {
	s := New()
	s.SetSortOrder(ByField(FieldName, false))
	_, err := s.Refresh([]Record{{ID: "3", Name: "a"}, {ID: "1", Name: "c"}, {ID: "2", Name: "b"}}, All)
	require.NoError(t, err)

	cs, err := s.Refresh(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, cs.Removed)
}

func TestRefresh_OrderingFollowsComparatorWithIDTieBreak(t *testing.T) {
	snapshot := []Record{
		{ID: "c", Name: "alpha", Mem: 10},
		{ID: "a", Name: "beta", Mem: 30},
		{ID: "b", Name: "alpha", Mem: 20},
		{ID: "d", Name: "gamma", Mem: 20},
	}

	tests := []struct {
		name string
		cmp  Comparator
		want []string
	}{
		{name: "default by type ties on id", cmp: nil, want: []string{"a", "b", "c", "d"}},
		{name: "name ascending", cmp: ByField(FieldName, false), want: []string{"b", "c", "a", "d"}},
		{name: "name descending", cmp: ByField(FieldName, true), want: []string{"d", "a", "b", "c"}},
		{name: "mem ascending", cmp: ByField(FieldMem, false), want: []string{"c", "b", "d", "a"}},
		{name: "mem then name desc", cmp: Then(ByField(FieldMem, true), ByField(FieldName, true)), want: []string{"a", "d", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.SetSortOrder(tt.cmp)
			cs, err := s.Refresh(snapshot, All)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(cs.View))
		})
	}
}

func TestSetSortOrder_AppliesOnNextRefreshOnly(t *testing.T) {
	s := New()
	snapshot := []Record{{ID: "a", Name: "zeta"}, {ID: "b", Name: "eta"}}
	_, err := s.Refresh(snapshot, All)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(s.View()))

	s.SetSortOrder(ByField(FieldName, false))
	assert.Equal(t, []string{"a", "b"}, ids(s.View()), "view must not re-sort before Refresh")

	cs, err := s.Refresh(snapshot, All)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
	assert.True(t, cs.Reordered)
	assert.Equal(t, []string{"b", "a"}, ids(s.View()))
}

func TestRefresh_FilterPanicLeavesViewUntouched(t *testing.T) {
	s := New()
	_, err := s.Refresh(mixedSnapshot(), All)
	require.NoError(t, err)
	before := s.View()
	beforeRecords := make([]Record, len(before))
	for i, e := range before {
		beforeRecords[i] = e.Record()
	}

	next := mixedSnapshot()
	next[0].Status = "stopped"
	next = append(next, Record{ID: "qemu/999", Type: TypeQemu})
	boom := errors.New("boom")
	cs, err := s.Refresh(next, func(r Record) bool {
		if r.ID == "lxc/200" {
			panic(boom)
		}
		return true
	})

	require.Error(t, err)
	assert.Nil(t, cs)
	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "lxc/200", fe.ID)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, before, s.View())
	for i, e := range s.View() {
		assert.Equal(t, beforeRecords[i], e.Record())
	}
}

func TestRefresh_ComparatorPanicLeavesViewUntouched(t *testing.T) {
	s := New()
	_, err := s.Refresh([]Record{{ID: "a", Status: "running"}, {ID: "b"}}, All)
	require.NoError(t, err)
	before := s.View()

	s.SetSortOrder(func(a, b Record) int { panic("bad comparator") })
	_, err = s.Refresh([]Record{{ID: "a", Status: "stopped"}, {ID: "c"}}, All)

	var ce *ComparatorError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "bad comparator")
	assert.Equal(t, before, s.View())
	e, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "running", e.Record().Status)
	_, ok = s.Get("c")
	assert.False(t, ok)
}

func TestRefresh_InvalidRecords(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []Record
		index    int
		reason   string
	}{
		{name: "missing id", snapshot: []Record{{ID: "a"}, {Type: TypeQemu}}, index: 1, reason: "missing id"},
		{name: "blank id", snapshot: []Record{{ID: "  "}}, index: 0, reason: "missing id"},
		{name: "duplicate id", snapshot: []Record{{ID: "a"}, {ID: "b"}, {ID: "a"}}, index: 2, reason: "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			_, err := s.Refresh([]Record{{ID: "keep"}}, All)
			require.NoError(t, err)

			_, err = s.Refresh(tt.snapshot, All)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecord)
			var ie *InvalidRecordError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.index, ie.Index)
			assert.True(t, strings.Contains(ie.Reason, tt.reason), "reason %q", ie.Reason)
			assert.Equal(t, []string{"keep"}, ids(s.View()))
		})
	}
}

func TestRefresh_AcceptsRecordWithoutType(t *testing.T) {
	s := New()
	cs, err := s.Refresh([]Record{{ID: "a"}, {ID: "b", Type: ""}}, All)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(cs.View))

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Empty(t, got.Record().Type)
	assert.False(t, got.Record().Type.IsGuest())
}

func TestRefresh_FilterCalledOncePerRecord(t *testing.T) {
	s := New()
	calls := map[string]int{}
	_, err := s.Refresh(mixedSnapshot(), func(r Record) bool {
		calls[r.ID]++
		return true
	})
	require.NoError(t, err)
	for id, n := range calls {
		assert.Equal(t, 1, n, "filter calls for %s", id)
	}
	assert.Len(t, calls, 4)
}

func TestRefresh_NaNSamplesDoNotChurn(t *testing.T) {
	s := New()
	nan := Record{ID: "a"}
	nan.CPU = math.NaN()
	_, err := s.Refresh([]Record{nan}, All)
	require.NoError(t, err)

	cs, err := s.Refresh([]Record{nan}, All)
	require.NoError(t, err)
	assert.True(t, cs.Empty())
}

func TestClear_ReportsEveryHeldID(t *testing.T) {
	s := New()
	_, err := s.Refresh(mixedSnapshot(), All)
	require.NoError(t, err)
	want := ids(s.View())

	cs := s.Clear()
	assert.Equal(t, want, cs.Removed)
	assert.Equal(t, StateEmpty, s.State())
	assert.Zero(t, s.Len())

	again := s.Clear()
	assert.True(t, again.Empty())

	// Entries come back as fresh inserts after a clear.
	cs, err = s.Refresh(mixedSnapshot(), All)
	require.NoError(t, err)
	assert.Len(t, cs.Inserted, 4)
}

func TestRefresh_ManyRecordsStayConsistent(t *testing.T) {
	s := New()
	s.SetSortOrder(ByField(FieldVMID, false))

	var snapshot []Record
	for i := 0; i < 200; i++ {
		snapshot = append(snapshot, Record{ID: fmt.Sprintf("qemu/%d", i), Type: TypeQemu, VMID: i})
	}
	_, err := s.Refresh(snapshot, All)
	require.NoError(t, err)

	// drop every third record, bump every fifth
	var next []Record
	for i, r := range snapshot {
		if i%3 == 0 {
			continue
		}
		if i%5 == 0 {
			r.Status = "running"
		}
		next = append(next, r)
	}
	cs, err := s.Refresh(next, All)
	require.NoError(t, err)

	assert.Len(t, cs.Removed, 67)
	assert.Empty(t, cs.Inserted)
	assert.Len(t, cs.Updated, 26)
	assert.Equal(t, len(next), s.Len())
	view := s.View()
	for i := 1; i < len(view); i++ {
		assert.Less(t, view[i-1].Record().VMID, view[i].Record().VMID)
	}
}
