package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/rcourtman/pveview/internal/resources"
	"github.com/rcourtman/pveview/internal/viewsync"
	"gopkg.in/yaml.v3"
)

// ViewPreset selects which resources are shown and how they are ordered.
type ViewPreset struct {
	Name   string     `yaml:"name,omitempty" json:"name,omitempty"`
	Filter ViewFilter `yaml:"filter" json:"filter"`
	Sort   ViewSort   `yaml:"sort" json:"sort"`
}

// ViewFilter is the declarative form of a viewsync.Filter. Set criteria
// are combined with AND.
type ViewFilter struct {
	Types            []viewsync.ResourceType `yaml:"types,omitempty" json:"types,omitempty"`
	Text             string                  `yaml:"text,omitempty" json:"text,omitempty"`
	Glob             string                  `yaml:"glob,omitempty" json:"glob,omitempty"`
	Node             string                  `yaml:"node,omitempty" json:"node,omitempty"`
	Pool             string                  `yaml:"pool,omitempty" json:"pool,omitempty"`
	ExcludeTemplates bool                    `yaml:"exclude_templates,omitempty" json:"exclude_templates,omitempty"`
}

// ViewSort names a column to order by. An empty column keeps the default
// order by type.
type ViewSort struct {
	Column     string `yaml:"column,omitempty" json:"column,omitempty"`
	Descending bool   `yaml:"desc,omitempty" json:"desc,omitempty"`
}

var knownTypes = []viewsync.ResourceType{
	viewsync.TypeNode, viewsync.TypeQemu, viewsync.TypeLXC,
	viewsync.TypeStorage, viewsync.TypePool, viewsync.TypeSDN,
}

// LoadViewPreset reads a preset from a YAML file.
func LoadViewPreset(path string) (*ViewPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read view file: %w", err)
	}
	return ParseViewPreset(data)
}

// ParseViewPreset decodes and validates a YAML preset.
func ParseViewPreset(data []byte) (*ViewPreset, error) {
	var p ViewPreset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse view file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects unknown types and sort columns.
func (p *ViewPreset) Validate() error {
	for _, t := range p.Filter.Types {
		if !slices.Contains(knownTypes, t) {
			return fmt.Errorf("unknown resource type %q", t)
		}
	}
	if p.Sort.Column != "" {
		if _, ok := resources.ParseColumn(p.Sort.Column); !ok {
			return fmt.Errorf("unknown sort column %q", p.Sort.Column)
		}
	}
	return nil
}

// BuildFilter returns the filter described by the preset. A nil preset or
// an empty filter accepts everything.
func (p *ViewPreset) BuildFilter() viewsync.Filter {
	if p == nil {
		return viewsync.All
	}
	f := p.Filter
	var parts []viewsync.Filter
	if len(f.Types) > 0 {
		parts = append(parts, viewsync.OfType(f.Types...))
	}
	if f.Text != "" {
		parts = append(parts, viewsync.MatchText(f.Text))
	}
	if f.Glob != "" {
		parts = append(parts, viewsync.MatchGlob(f.Glob))
	}
	if f.Node != "" {
		parts = append(parts, viewsync.OnNode(f.Node))
	}
	if f.Pool != "" {
		parts = append(parts, viewsync.InPool(f.Pool))
	}
	if f.ExcludeTemplates {
		parts = append(parts, viewsync.Not(func(r viewsync.Record) bool { return r.Template }))
	}
	return viewsync.And(parts...)
}

// BuildComparator returns the sort order described by the preset, or nil
// for the default.
func (p *ViewPreset) BuildComparator() viewsync.Comparator {
	if p == nil || p.Sort.Column == "" {
		return nil
	}
	col, ok := resources.ParseColumn(p.Sort.Column)
	if !ok {
		return nil
	}
	return col.Comparator(p.Sort.Descending)
}
