package resources

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rcourtman/pveview/internal/viewsync"
)

// Column is one grid column. The set is closed and every Column has an
// entry in columnTable.
type Column int

const (
	ColType Column = iota
	ColID
	ColRunning
	ColText
	ColVMID
	ColName
	ColDisk
	ColMaxDisk
	ColMem
	ColMaxMem
	ColCPU
	ColMaxCPU
	ColDiskRead
	ColDiskWrite
	ColNetIn
	ColNetOut
	ColTemplate
	ColUptime
	ColNode
	ColStorage
	ColPool

	numColumns
)

type columnDef struct {
	key    string
	header string
	hidden bool
	// field backs sorting; ColID sorts by id and has none.
	field    viewsync.Field
	hasField bool
	render   func(viewsync.Record) string
}

var columnTable = [numColumns]columnDef{
	ColType:      {"type", "Type", false, viewsync.FieldType, true, renderType},
	ColID:        {"id", "ID", true, 0, false, func(r viewsync.Record) string { return r.ID }},
	ColRunning:   {"running", "Online", true, viewsync.FieldRunning, true, func(r viewsync.Record) string { return FormatBool(r.Running) }},
	ColText:      {"text", "Description", false, viewsync.FieldText, true, func(r viewsync.Record) string { return r.Text }},
	ColVMID:      {"vmid", "VMID", true, viewsync.FieldVMID, true, renderVMID},
	ColName:      {"name", "Name", true, viewsync.FieldName, true, func(r viewsync.Record) string { return r.Name }},
	ColDisk:      {"disk", "Disk usage", false, viewsync.FieldDisk, true, func(r viewsync.Record) string { return FormatUsage(r.Disk, r.MaxDisk) }},
	ColMaxDisk:   {"maxdisk", "Disk size", true, viewsync.FieldMaxDisk, true, func(r viewsync.Record) string { return FormatSize(r.MaxDisk) }},
	ColMem:       {"mem", "Memory usage", false, viewsync.FieldMem, true, func(r viewsync.Record) string { return FormatUsage(r.Mem, r.MaxMem) }},
	ColMaxMem:    {"maxmem", "Memory size", true, viewsync.FieldMaxMem, true, func(r viewsync.Record) string { return FormatSize(r.MaxMem) }},
	ColCPU:       {"cpu", "CPU usage", false, viewsync.FieldCPU, true, renderCPU},
	ColMaxCPU:    {"maxcpu", "maxcpu", true, viewsync.FieldMaxCPU, true, func(r viewsync.Record) string { return strconv.Itoa(r.MaxCPU) }},
	ColDiskRead:  {"diskread", "Total Disk Read", true, viewsync.FieldDiskRead, true, func(r viewsync.Record) string { return FormatSize(r.DiskRead) }},
	ColDiskWrite: {"diskwrite", "Total Disk Write", true, viewsync.FieldDiskWrite, true, func(r viewsync.Record) string { return FormatSize(r.DiskWrite) }},
	ColNetIn:     {"netin", "Total NetIn", true, viewsync.FieldNetIn, true, func(r viewsync.Record) string { return FormatSize(r.NetIn) }},
	ColNetOut:    {"netout", "Total NetOut", true, viewsync.FieldNetOut, true, func(r viewsync.Record) string { return FormatSize(r.NetOut) }},
	ColTemplate:  {"template", "Template", true, viewsync.FieldTemplate, true, func(r viewsync.Record) string { return FormatBool(r.Template) }},
	ColUptime:    {"uptime", "Uptime", false, viewsync.FieldUptime, true, func(r viewsync.Record) string { return FormatUptime(r.Uptime) }},
	ColNode:      {"node", "Node", true, viewsync.FieldNode, true, func(r viewsync.Record) string { return r.Node }},
	ColStorage:   {"storage", "Storage", true, viewsync.FieldStorage, true, func(r viewsync.Record) string { return r.Storage }},
	ColPool:      {"pool", "Pool", true, viewsync.FieldPool, true, func(r viewsync.Record) string { return r.Pool }},
}

// Columns returns every column in display order.
func Columns() []Column {
	out := make([]Column, numColumns)
	for i := range out {
		out[i] = Column(i)
	}
	return out
}

// DefaultColumns returns the columns visible by default.
func DefaultColumns() []Column {
	var out []Column
	for i, def := range columnTable {
		if !def.hidden {
			out = append(out, Column(i))
		}
	}
	return out
}

// ParseColumn resolves a column key such as "maxmem".
func ParseColumn(key string) (Column, bool) {
	for i, def := range columnTable {
		if def.key == key {
			return Column(i), true
		}
	}
	return 0, false
}

// ParseColumns resolves a comma-separated column list. "default" selects
// DefaultColumns and an empty list returns nil.
func ParseColumns(list string) ([]Column, error) {
	list = strings.TrimSpace(list)
	switch list {
	case "":
		return nil, nil
	case "default":
		return DefaultColumns(), nil
	}
	var cols []Column
	for _, key := range strings.Split(list, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		c, ok := ParseColumn(key)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", key)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func (c Column) String() string {
	if c < 0 || c >= numColumns {
		return fmt.Sprintf("column(%d)", int(c))
	}
	return columnTable[c].key
}

// Header is the column title.
func (c Column) Header() string { return columnTable[c].header }

// Hidden reports whether the column is off by default.
func (c Column) Hidden() bool { return columnTable[c].hidden }

// Render formats the column's value for r.
func (c Column) Render(r viewsync.Record) string { return columnTable[c].render(r) }

// Comparator orders records by this column.
func (c Column) Comparator(descending bool) viewsync.Comparator {
	def := columnTable[c]
	if !def.hasField {
		if descending {
			return func(a, b viewsync.Record) int { return cmp.Compare(b.ID, a.ID) }
		}
		return func(a, b viewsync.Record) int { return cmp.Compare(a.ID, b.ID) }
	}
	return viewsync.ByField(def.field, descending)
}

var typeNames = map[viewsync.ResourceType]string{
	viewsync.TypeNode:    "Node",
	viewsync.TypeQemu:    "VM",
	viewsync.TypeLXC:     "CT",
	viewsync.TypeStorage: "Storage",
	viewsync.TypePool:    "Pool",
	viewsync.TypeSDN:     "SDN",
}

func renderType(r viewsync.Record) string {
	if name, ok := typeNames[r.Type]; ok {
		return name
	}
	return string(r.Type)
}

func renderVMID(r viewsync.Record) string {
	if r.VMID == 0 {
		return ""
	}
	return strconv.Itoa(r.VMID)
}

func renderCPU(r viewsync.Record) string {
	if r.MaxCPU <= 0 || !r.Running {
		return ""
	}
	unit := "CPU"
	if r.MaxCPU > 1 {
		unit = "CPUs"
	}
	return fmt.Sprintf("%.1f%% of %d %s", r.CPU*100, r.MaxCPU, unit)
}

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatSize renders a byte count with binary units.
func FormatSize(n int64) string {
	if n < 1024 {
		return strconv.FormatInt(n, 10) + " B"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[i])
}

// FormatUsage renders used/max as a percentage. It is empty when max is
// unknown.
func FormatUsage(used, max int64) string {
	if max <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f%%", float64(used)*100/float64(max))
}

// FormatUptime renders seconds as "N days hh:mm:ss", or "-" when down.
func FormatUptime(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	clock := fmt.Sprintf("%02d:%02d:%02d", int64(d/time.Hour), int64(d%time.Hour/time.Minute), int64(d%time.Minute/time.Second))
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day " + clock
	default:
		return fmt.Sprintf("%d days %s", days, clock)
	}
}

// FormatBool renders Yes or No.
func FormatBool(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
