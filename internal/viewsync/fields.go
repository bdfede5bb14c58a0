package viewsync

import (
	"fmt"
	"math"
)

// Field identifies one tracked Record field. The set is closed; every
// Field has an entry in fieldTable.
type Field int

const (
	FieldType Field = iota
	FieldText
	FieldRunning
	FieldName
	FieldStatus
	FieldNode
	FieldStorage
	FieldPool
	FieldVMID
	FieldTemplate
	FieldHAState
	FieldLock
	FieldTags
	FieldCPU
	FieldMaxCPU
	FieldMem
	FieldMaxMem
	FieldDisk
	FieldMaxDisk
	FieldDiskRead
	FieldDiskWrite
	FieldNetIn
	FieldNetOut
	FieldUptime

	numFields
)

type fieldDef struct {
	name string
	get  func(*Record) any
	copy func(dst, src *Record)
}

var fieldTable = [numFields]fieldDef{
	FieldType:      {"type", func(r *Record) any { return r.Type }, func(d, s *Record) { d.Type = s.Type }},
	FieldText:      {"text", func(r *Record) any { return r.Text }, func(d, s *Record) { d.Text = s.Text }},
	FieldRunning:   {"running", func(r *Record) any { return r.Running }, func(d, s *Record) { d.Running = s.Running }},
	FieldName:      {"name", func(r *Record) any { return r.Name }, func(d, s *Record) { d.Name = s.Name }},
	FieldStatus:    {"status", func(r *Record) any { return r.Status }, func(d, s *Record) { d.Status = s.Status }},
	FieldNode:      {"node", func(r *Record) any { return r.Node }, func(d, s *Record) { d.Node = s.Node }},
	FieldStorage:   {"storage", func(r *Record) any { return r.Storage }, func(d, s *Record) { d.Storage = s.Storage }},
	FieldPool:      {"pool", func(r *Record) any { return r.Pool }, func(d, s *Record) { d.Pool = s.Pool }},
	FieldVMID:      {"vmid", func(r *Record) any { return r.VMID }, func(d, s *Record) { d.VMID = s.VMID }},
	FieldTemplate:  {"template", func(r *Record) any { return r.Template }, func(d, s *Record) { d.Template = s.Template }},
	FieldHAState:   {"hastate", func(r *Record) any { return r.HAState }, func(d, s *Record) { d.HAState = s.HAState }},
	FieldLock:      {"lock", func(r *Record) any { return r.Lock }, func(d, s *Record) { d.Lock = s.Lock }},
	FieldTags:      {"tags", func(r *Record) any { return r.Tags }, func(d, s *Record) { d.Tags = s.Tags }},
	FieldCPU:       {"cpu", func(r *Record) any { return r.CPU }, func(d, s *Record) { d.CPU = s.CPU }},
	FieldMaxCPU:    {"maxcpu", func(r *Record) any { return r.MaxCPU }, func(d, s *Record) { d.MaxCPU = s.MaxCPU }},
	FieldMem:       {"mem", func(r *Record) any { return r.Mem }, func(d, s *Record) { d.Mem = s.Mem }},
	FieldMaxMem:    {"maxmem", func(r *Record) any { return r.MaxMem }, func(d, s *Record) { d.MaxMem = s.MaxMem }},
	FieldDisk:      {"disk", func(r *Record) any { return r.Disk }, func(d, s *Record) { d.Disk = s.Disk }},
	FieldMaxDisk:   {"maxdisk", func(r *Record) any { return r.MaxDisk }, func(d, s *Record) { d.MaxDisk = s.MaxDisk }},
	FieldDiskRead:  {"diskread", func(r *Record) any { return r.DiskRead }, func(d, s *Record) { d.DiskRead = s.DiskRead }},
	FieldDiskWrite: {"diskwrite", func(r *Record) any { return r.DiskWrite }, func(d, s *Record) { d.DiskWrite = s.DiskWrite }},
	FieldNetIn:     {"netin", func(r *Record) any { return r.NetIn }, func(d, s *Record) { d.NetIn = s.NetIn }},
	FieldNetOut:    {"netout", func(r *Record) any { return r.NetOut }, func(d, s *Record) { d.NetOut = s.NetOut }},
	FieldUptime:    {"uptime", func(r *Record) any { return r.Uptime }, func(d, s *Record) { d.Uptime = s.Uptime }},
}

// Fields returns every tracked field in declaration order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// String returns the wire name of the field (the JSON key).
func (f Field) String() string {
	if !f.valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldTable[f].name
}

// Value returns the field's value on r.
func (f Field) Value(r Record) any {
	if !f.valid() {
		return nil
	}
	return fieldTable[f].get(&r)
}

// ParseField resolves a wire name such as "maxmem" to its Field.
func ParseField(name string) (Field, bool) {
	for i, def := range fieldTable {
		if def.name == name {
			return Field(i), true
		}
	}
	return 0, false
}

// MarshalText renders the field by name so change sets encode readably.
func (f Field) MarshalText() ([]byte, error) {
	if !f.valid() {
		return nil, fmt.Errorf("unknown field %d", int(f))
	}
	return []byte(fieldTable[f].name), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (f *Field) UnmarshalText(text []byte) error {
	parsed, ok := ParseField(string(text))
	if !ok {
		return fmt.Errorf("unknown field %q", string(text))
	}
	*f = parsed
	return nil
}

func (f Field) valid() bool {
	return f >= 0 && f < numFields
}

// diffRecords lists the fields whose values differ between before and after.
// Comparison is by value; all tracked field types are comparable.
func diffRecords(before, after *Record) []FieldChange {
	var changes []FieldChange
	for i := range fieldTable {
		def := &fieldTable[i]
		old, cur := def.get(before), def.get(after)
		if !sameValue(old, cur) {
			changes = append(changes, FieldChange{Field: Field(i), Before: old, After: cur})
		}
	}
	return changes
}

// patchRecord copies the changed fields from src onto dst, one at a time.
func patchRecord(dst, src *Record, changes []FieldChange) {
	for _, c := range changes {
		fieldTable[c.Field].copy(dst, src)
	}
}

// sameValue treats two NaN floats as equal so that a sample reported as NaN
// on consecutive polls does not register as a change every cycle.
func sameValue(a, b any) bool {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok && math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
	}
	return a == b
}
