package pve

import (
	"context"
	"net/url"
)

// ClusterResource is one row of GET /cluster/resources.
type ClusterResource struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Node      string  `json:"node,omitempty"`
	Name      string  `json:"name,omitempty"`
	Status    string  `json:"status,omitempty"`
	VMID      int     `json:"vmid,omitempty"`
	Template  int     `json:"template,omitempty"`
	HAState   string  `json:"hastate,omitempty"`
	Lock      string  `json:"lock,omitempty"`
	Tags      string  `json:"tags,omitempty"`
	Pool      string  `json:"pool,omitempty"`
	Storage   string  `json:"storage,omitempty"`
	SDN       string  `json:"sdn,omitempty"`
	CPU       float64 `json:"cpu,omitempty"`
	MaxCPU    float64 `json:"maxcpu,omitempty"`
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

// GetClusterResources lists cluster resources. An empty resourceType
// returns every kind; otherwise it is one of "vm", "storage", "node", "sdn".
func (c *Client) GetClusterResources(ctx context.Context, resourceType string) ([]ClusterResource, error) {
	path := "/cluster/resources"
	if resourceType != "" {
		path += "?" + url.Values{"type": {resourceType}}.Encode()
	}

	var result struct {
		Data []ClusterResource `json:"data"`
	}
	if err := c.get(ctx, "cluster_resources", path, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}
