package viewsync

import "strings"

// ResourceType is the kind of a managed object as reported by the cluster.
type ResourceType string

const (
	TypeNode    ResourceType = "node"
	TypeQemu    ResourceType = "qemu"
	TypeLXC     ResourceType = "lxc"
	TypeStorage ResourceType = "storage"
	TypePool    ResourceType = "pool"
	TypeSDN     ResourceType = "sdn"
)

// IsGuest reports whether the type is a virtual machine or container.
func (t ResourceType) IsGuest() bool {
	return t == TypeQemu || t == TypeLXC
}

// Record is one managed object within a single snapshot.
// Only ID is mandatory; every other field may be left at its zero value.
type Record struct {
	ID       string       `json:"id"`
	Type     ResourceType `json:"type,omitempty"`
	Text     string       `json:"text,omitempty"`
	Running  bool         `json:"running"`
	Name     string       `json:"name,omitempty"`
	Status   string       `json:"status,omitempty"`
	Node     string       `json:"node,omitempty"`
	Storage  string       `json:"storage,omitempty"`
	Pool     string       `json:"pool,omitempty"`
	VMID     int          `json:"vmid,omitempty"`
	Template bool         `json:"template,omitempty"`
	HAState  string       `json:"hastate,omitempty"`
	Lock     string       `json:"lock,omitempty"`
	Tags     string       `json:"tags,omitempty"`

	CPU       float64 `json:"cpu,omitempty"`
	MaxCPU    int     `json:"maxcpu,omitempty"`
	Mem       int64   `json:"mem,omitempty"`
	MaxMem    int64   `json:"maxmem,omitempty"`
	Disk      int64   `json:"disk,omitempty"`
	MaxDisk   int64   `json:"maxdisk,omitempty"`
	DiskRead  int64   `json:"diskread,omitempty"`
	DiskWrite int64   `json:"diskwrite,omitempty"`
	NetIn     int64   `json:"netin,omitempty"`
	NetOut    int64   `json:"netout,omitempty"`
	Uptime    int64   `json:"uptime,omitempty"`
}

func (r Record) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &InvalidRecordError{Reason: "missing id"}
	}
	return nil
}
