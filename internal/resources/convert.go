// Package resources adapts the cluster resource listing to the view
// synchronizer: wire conversion, column rendering and tree grouping.
package resources

import (
	"strconv"

	"github.com/rcourtman/pveview/internal/viewsync"
	"github.com/rcourtman/pveview/pkg/pve"
)

// FromClusterResource converts one listing row into a view record and fills
// in the derived text and running fields.
func FromClusterResource(res pve.ClusterResource) viewsync.Record {
	rec := viewsync.Record{
		ID:        res.ID,
		Type:      viewsync.ResourceType(res.Type),
		Name:      res.Name,
		Status:    res.Status,
		Node:      res.Node,
		Storage:   res.Storage,
		Pool:      res.Pool,
		VMID:      res.VMID,
		Template:  res.Template != 0,
		HAState:   res.HAState,
		Lock:      res.Lock,
		Tags:      res.Tags,
		CPU:       res.CPU,
		MaxCPU:    int(res.MaxCPU),
		Mem:       res.Mem,
		MaxMem:    res.MaxMem,
		Disk:      res.Disk,
		MaxDisk:   res.MaxDisk,
		DiskRead:  res.DiskRead,
		DiskWrite: res.DiskWrite,
		NetIn:     res.NetIn,
		NetOut:    res.NetOut,
		Uptime:    res.Uptime,
	}
	if rec.Type == viewsync.TypeSDN && rec.Name == "" {
		rec.Name = res.SDN
	}
	rec.Text = DisplayText(rec)
	rec.Running = IsRunning(rec)
	return rec
}

// FromClusterResources converts a whole listing, preserving order.
func FromClusterResources(list []pve.ClusterResource) []viewsync.Record {
	out := make([]viewsync.Record, len(list))
	for i := range list {
		out[i] = FromClusterResource(list[i])
	}
	return out
}

// DisplayText is the description shown in the first grid column. An
// explicit Text on the record wins.
func DisplayText(r viewsync.Record) string {
	if r.Text != "" {
		return r.Text
	}
	switch r.Type {
	case viewsync.TypeNode:
		return r.Node
	case viewsync.TypePool:
		return r.Pool
	case viewsync.TypeStorage:
		return r.Storage + " (" + r.Node + ")"
	case viewsync.TypeQemu, viewsync.TypeLXC:
		text := strconv.Itoa(r.VMID)
		if r.Name != "" {
			text += " (" + r.Name + ")"
		}
		return text
	default:
		return r.ID
	}
}

// IsRunning reports whether a guest or node is up. Other kinds never are.
func IsRunning(r viewsync.Record) bool {
	switch r.Type {
	case viewsync.TypeQemu, viewsync.TypeLXC, viewsync.TypeNode:
		return r.Uptime > 0
	default:
		return false
	}
}
