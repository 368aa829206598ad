package domain

import (
	"sort"
	"time"
)

// HostKind distinguishes real machines from the synthetic nodes the fusion
// engine creates to keep partial knowledge on the graph.
type HostKind string

const (
	HostKindMachine HostKind = "machine"
	// HostKindGateway is a placeholder for a gateway IP that no known
	// interface owns yet. It is absorbed into a real host once the IP
	// resolves.
	HostKindGateway HostKind = "gateway"
	// HostKindNetwork represents a reachable destination network rather
	// than a single machine.
	HostKindNetwork HostKind = "network"
)

// Label is a display name for a host, tagged with the observation that
// reported it.
type Label struct {
	Value         string `json:"value"`
	ObservationID string `json:"observation_id"`
}

// Host is the canonical entity for one real machine (or one synthetic
// placeholder). The ID is opaque and stable once assigned; merging two hosts
// keeps both rows and marks the absorbed one with MergedInto.
type Host struct {
	ID         string   `json:"id"`
	Kind       HostKind `json:"kind"`
	Labels     []Label  `json:"labels,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
	// Network is set on HostKindNetwork nodes: the destination CIDR.
	Network string `json:"network,omitempty"`
	// MergedInto points at the surviving host after a merge. Empty for
	// live hosts. Never cleared: merges are one-way.
	MergedInto string `json:"merged_into,omitempty"`

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Observations []string  `json:"observations,omitempty"`
}

// NewHost creates a host first seen by the given observation.
func NewHost(id string, kind HostKind, seenAt time.Time) *Host {
	return &Host{
		ID:        id,
		Kind:      kind,
		FirstSeen: seenAt,
		LastSeen:  seenAt,
	}
}

// DisplayLabel picks one label for human-facing views: the lexicographically
// smallest, so the choice does not depend on ingestion order.
func (h *Host) DisplayLabel() string {
	if len(h.Labels) == 0 {
		return h.ID
	}
	return h.Labels[0].Value
}

// AddLabel records a provenance-tagged display name, keeping the set sorted
// and deduplicated.
func (h *Host) AddLabel(value, observationID string) {
	for _, l := range h.Labels {
		if l.Value == value && l.ObservationID == observationID {
			return
		}
	}
	h.Labels = append(h.Labels, Label{Value: value, ObservationID: observationID})
	sort.Slice(h.Labels, func(i, j int) bool {
		if h.Labels[i].Value != h.Labels[j].Value {
			return h.Labels[i].Value < h.Labels[j].Value
		}
		return h.Labels[i].ObservationID < h.Labels[j].ObservationID
	})
}

// AddInterface records ownership of an interface ID.
func (h *Host) AddInterface(ifaceID string) {
	h.Interfaces = insertSorted(h.Interfaces, ifaceID)
}

// RemoveInterface drops an interface ID, used when a merge reassigns
// interfaces to the surviving host.
func (h *Host) RemoveInterface(ifaceID string) {
	for i, id := range h.Interfaces {
		if id == ifaceID {
			h.Interfaces = append(h.Interfaces[:i], h.Interfaces[i+1:]...)
			return
		}
	}
}

// Observe extends the host's evidence with one observation.
func (h *Host) Observe(observationID string, at time.Time) {
	h.Observations = insertSorted(h.Observations, observationID)
	if at.Before(h.FirstSeen) || h.FirstSeen.IsZero() {
		h.FirstSeen = at
	}
	if at.After(h.LastSeen) {
		h.LastSeen = at
	}
}

// Merged reports whether this host has been absorbed into another.
func (h *Host) Merged() bool {
	return h.MergedInto != ""
}

// HostMerge is the provenance record of one irreversible host merge.
type HostMerge struct {
	SurvivorID    string    `json:"survivor_id"`
	AbsorbedID    string    `json:"absorbed_id"`
	ObservationID string    `json:"observation_id,omitempty"`
	Reason        string    `json:"reason"`
	MergedAt      time.Time `json:"merged_at"`
}

// insertSorted adds value to a sorted string set, keeping order and
// uniqueness.
func insertSorted(set []string, value string) []string {
	i := sort.SearchStrings(set, value)
	if i < len(set) && set[i] == value {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = value
	return set
}
