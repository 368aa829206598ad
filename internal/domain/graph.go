package domain

import (
	"sort"
	"time"
)

// GraphFilter narrows a graph snapshot. The zero value is the default view:
// no stale edges, no minimum confidence, merged hosts folded away.
type GraphFilter struct {
	IncludeStale  bool    `json:"include_stale"`
	MinConfidence float64 `json:"min_confidence"`
	// IncludeMerged keeps absorbed host rows in the snapshot. Provenance
	// views want them; topology views do not.
	IncludeMerged bool `json:"include_merged"`
}

// Graph is a consistent snapshot of the fused topology: every host,
// interface and link known at a point in time, plus the identity decisions
// that shaped them. Slices are sorted by ID so two snapshots of equal state
// compare equal.
type Graph struct {
	Hosts      []Host       `json:"hosts"`
	Interfaces []Interface  `json:"interfaces"`
	Links      []Link       `json:"links"`
	Conflicts  []IPConflict `json:"conflicts,omitempty"`
	Merges     []HostMerge  `json:"merges,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Sort orders every entity slice by ID, making snapshot equality independent
// of load order.
func (g *Graph) Sort() {
	sort.Slice(g.Hosts, func(i, j int) bool { return g.Hosts[i].ID < g.Hosts[j].ID })
	sort.Slice(g.Interfaces, func(i, j int) bool { return g.Interfaces[i].ID < g.Interfaces[j].ID })
	sort.Slice(g.Links, func(i, j int) bool { return g.Links[i].ID < g.Links[j].ID })
	sort.Slice(g.Conflicts, func(i, j int) bool { return g.Conflicts[i].ID < g.Conflicts[j].ID })
	sort.Slice(g.Merges, func(i, j int) bool {
		if g.Merges[i].SurvivorID != g.Merges[j].SurvivorID {
			return g.Merges[i].SurvivorID < g.Merges[j].SurvivorID
		}
		return g.Merges[i].AbsorbedID < g.Merges[j].AbsorbedID
	})
}

// Host returns the host with the given ID, if present.
func (g *Graph) Host(id string) (*Host, bool) {
	for i := range g.Hosts {
		if g.Hosts[i].ID == id {
			return &g.Hosts[i], true
		}
	}
	return nil, false
}

// Interface returns the interface with the given ID, if present.
func (g *Graph) Interface(id string) (*Interface, bool) {
	for i := range g.Interfaces {
		if g.Interfaces[i].ID == id {
			return &g.Interfaces[i], true
		}
	}
	return nil, false
}

// Link returns the link with the given ID, if present.
func (g *Graph) Link(id string) (*Link, bool) {
	for i := range g.Links {
		if g.Links[i].ID == id {
			return &g.Links[i], true
		}
	}
	return nil, false
}
