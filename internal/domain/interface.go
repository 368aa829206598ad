package domain

import (
	"sort"
	"time"
)

// IPClaim is the evidence that an interface held an IP address, with the
// latest observation backing the claim. Claims are never removed; the
// resolver compares timestamps across interfaces to answer "who owns this IP
// now".
type IPClaim struct {
	Addr          string    `json:"addr"`
	LastSeen      time.Time `json:"last_seen"`
	Observations  []string  `json:"observations,omitempty"`
	ConflictsWith []string  `json:"conflicts_with,omitempty"` // interface IDs disputing the claim
}

// Interface is one network attachment point of a host. An interface is keyed
// by its link address when one was observed; interfaces known only by name
// (the reporting host's own) or only by IP (gateway placeholders) carry no
// MAC.
type Interface struct {
	ID     string `json:"id"`
	HostID string `json:"host_id"`
	Name   string `json:"name,omitempty"`
	MAC    string `json:"mac,omitempty"` // lowercase hex, no separators
	// Placeholder marks a synthetic interface standing in for an
	// unresolved gateway IP.
	Placeholder bool      `json:"placeholder,omitempty"`
	IPs         []IPClaim `json:"ips,omitempty"`

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Observations []string  `json:"observations,omitempty"`
}

// NewInterface creates an interface first seen by the given observation.
func NewInterface(id, hostID string, seenAt time.Time) *Interface {
	return &Interface{
		ID:        id,
		HostID:    hostID,
		FirstSeen: seenAt,
		LastSeen:  seenAt,
	}
}

// ClaimIP records evidence that this interface held addr, extending an
// existing claim when present.
func (i *Interface) ClaimIP(addr, observationID string, at time.Time) {
	for n := range i.IPs {
		if i.IPs[n].Addr == addr {
			i.IPs[n].Observations = insertSorted(i.IPs[n].Observations, observationID)
			if at.After(i.IPs[n].LastSeen) {
				i.IPs[n].LastSeen = at
			}
			return
		}
	}
	i.IPs = append(i.IPs, IPClaim{
		Addr:         addr,
		LastSeen:     at,
		Observations: []string{observationID},
	})
	sort.Slice(i.IPs, func(a, b int) bool { return i.IPs[a].Addr < i.IPs[b].Addr })
}

// MarkIPConflict annotates the claim on addr as disputed by another
// interface.
func (i *Interface) MarkIPConflict(addr, otherInterfaceID string) {
	for n := range i.IPs {
		if i.IPs[n].Addr == addr {
			i.IPs[n].ConflictsWith = insertSorted(i.IPs[n].ConflictsWith, otherInterfaceID)
			return
		}
	}
}

// Claim returns the claim for addr, if any.
func (i *Interface) Claim(addr string) (IPClaim, bool) {
	for _, c := range i.IPs {
		if c.Addr == addr {
			return c, true
		}
	}
	return IPClaim{}, false
}

// Observe extends the interface's evidence with one observation.
func (i *Interface) Observe(observationID string, at time.Time) {
	i.Observations = insertSorted(i.Observations, observationID)
	if at.Before(i.FirstSeen) || i.FirstSeen.IsZero() {
		i.FirstSeen = at
	}
	if at.After(i.LastSeen) {
		i.LastSeen = at
	}
}
