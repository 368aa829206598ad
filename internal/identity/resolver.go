// Package identity decides which raw identifiers denote the same interface
// or host, producing stable canonical IDs.
//
// The resolver is an incremental union-find over interface IDs with attached
// evidence. Link addresses are process-wide unique, so two link addresses are
// always distinct interfaces. An IP evidenced on two different link addresses
// is never merged: both interfaces stay distinct, both are annotated with a
// conflict, and the most recent claim wins the current-owner view. False
// merges damage a security map far more than missed merges, so ambiguity
// always resolves to "keep distinct, annotate".
//
// Host merges happen on exactly three kinds of evidence: a gateway
// placeholder resolving to a real interface, operator-supplied aliases, and
// the same dump source reporting interfaces as its own. Merges are one-way
// and recorded as HostMerge provenance.
package identity

import (
	"sync"
	"time"

	"netfuse/internal/domain"
)

// ifaceInfo is the resolver's view of one canonical interface.
type ifaceInfo struct {
	id          string
	mac         string
	name        string
	source      string
	gatewayIP   string
	placeholder bool
	bornHost    string
}

// claim is one interface's evidence for holding an IP.
type claim struct {
	lastSeen     time.Time
	observations map[string]struct{}
}

// candidate is a host eligible to survive a cluster election.
type candidate struct {
	hostID      string
	placeholder bool
}

// better elects between two cluster hosts: real hosts beat placeholders,
// ties go to the lexicographically smallest ID so the survivor never depends
// on merge order.
func better(a, b candidate) candidate {
	if a.placeholder != b.placeholder {
		if a.placeholder {
			return b
		}
		return a
	}
	if b.hostID < a.hostID {
		return b
	}
	return a
}

// Resolution is the outcome of resolving one raw identifier.
type Resolution struct {
	InterfaceID  string
	HostID       string
	NewInterface bool
	NewHost      bool
}

// ClaimResult reports the identity consequences of one IP claim.
type ClaimResult struct {
	// Conflict is set when the IP is now evidenced on more than one link
	// address. It carries every disputing interface.
	Conflict *domain.IPConflict
	// Merges lists host merges the claim triggered, such as a gateway
	// placeholder resolving to this interface's host.
	Merges []domain.HostMerge
}

// Resolver maintains the raw-identifier to canonical-entity mapping. Safe
// for concurrent use.
type Resolver struct {
	mu        sync.Mutex
	sets      *dsu
	ifaces    map[string]*ifaceInfo
	elected   map[int]candidate            // dsu root -> surviving host
	claims    map[string]map[string]*claim // ip -> interface id -> claim
	conflicts map[string]*domain.IPConflict
	seenHosts map[string]bool
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		sets:      newDSU(),
		ifaces:    make(map[string]*ifaceInfo),
		elected:   make(map[int]candidate),
		claims:    make(map[string]map[string]*claim),
		conflicts: make(map[string]*domain.IPConflict),
		seenHosts: make(map[string]bool),
	}
}

// ResolveNamedInterface resolves an interface the dump source reports as its
// own, known only by (source, name). All named interfaces of one source
// resolve to the same host.
func (r *Resolver) ResolveNamedInterface(sourceHost, name string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(&ifaceInfo{
		id:       domain.InterfaceIDForName(sourceHost, name),
		name:     name,
		source:   sourceHost,
		bornHost: domain.HostIDForSource(sourceHost),
	})
}

// ResolveLinkInterface resolves an interface by its canonical link address.
func (r *Resolver) ResolveLinkInterface(mac string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(&ifaceInfo{
		id:       domain.InterfaceIDForLinkAddr(mac),
		mac:      mac,
		bornHost: domain.HostIDForLinkAddr(mac),
	})
}

// ResolveGatewayPlaceholder resolves the synthetic interface standing in for
// an unresolved gateway IP.
func (r *Resolver) ResolveGatewayPlaceholder(ip string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(&ifaceInfo{
		id:          domain.InterfaceIDForGateway(ip),
		name:        ip,
		gatewayIP:   ip,
		placeholder: true,
		bornHost:    domain.HostIDForGateway(ip),
	})
}

func (r *Resolver) register(info *ifaceInfo) Resolution {
	if existing, ok := r.ifaces[info.id]; ok {
		return Resolution{InterfaceID: existing.id, HostID: r.hostOf(existing.id)}
	}
	r.ifaces[info.id] = info
	idx := r.sets.add(info.id)
	r.elected[idx] = candidate{hostID: info.bornHost, placeholder: info.placeholder}

	host := r.hostOf(info.id)
	newHost := !r.seenHosts[host]
	r.seenHosts[host] = true
	return Resolution{InterfaceID: info.id, HostID: host, NewInterface: true, NewHost: newHost}
}

// ClaimIP records evidence that ifaceID currently holds ip. It reconciles
// gateway placeholders waiting on the IP and raises a conflict annotation
// when the IP is already claimed by a different link address.
func (r *Resolver) ClaimIP(ifaceID, ip, observationID string, at time.Time) ClaimResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result ClaimResult

	info, ok := r.ifaces[ifaceID]
	if !ok {
		return result
	}

	perIface, ok := r.claims[ip]
	if !ok {
		perIface = make(map[string]*claim)
		r.claims[ip] = perIface
	}
	c, ok := perIface[ifaceID]
	if !ok {
		c = &claim{observations: make(map[string]struct{})}
		perIface[ifaceID] = c
	}
	if observationID != "" {
		c.observations[observationID] = struct{}{}
	}
	if at.After(c.lastSeen) {
		c.lastSeen = at
	}

	// A real interface claiming the IP absorbs any placeholder created for
	// it by earlier route evidence.
	if !info.placeholder {
		placeholderID := domain.InterfaceIDForGateway(ip)
		if _, ok := r.ifaces[placeholderID]; ok {
			if merge, merged := r.union(placeholderID, ifaceID, "gateway-resolved", observationID, at); merged {
				result.Merges = append(result.Merges, merge)
			}
		}
	}

	// The one-IP-one-link-address invariant only concerns interfaces with
	// a link address. Named and placeholder claims never conflict.
	if info.mac != "" {
		var disputing []string
		for otherID := range perIface {
			if otherID == ifaceID {
				continue
			}
			if other := r.ifaces[otherID]; other != nil && other.mac != "" {
				disputing = append(disputing, otherID)
			}
		}
		if len(disputing) > 0 {
			conflict, ok := r.conflicts[ip]
			if !ok {
				conflict = domain.NewIPConflict(ip, at)
				r.conflicts[ip] = conflict
			}
			// Every disputing party contributes all of its supporting
			// observations, so the annotation holds the same set no
			// matter which claim arrived last.
			for _, partyID := range append(disputing, ifaceID) {
				pc := perIface[partyID]
				conflict.AddParty(partyID, "", pc.lastSeen)
				for obsID := range pc.observations {
					conflict.AddParty(partyID, obsID, pc.lastSeen)
				}
			}
			copied := *conflict
			copied.InterfaceIDs = append([]string(nil), conflict.InterfaceIDs...)
			copied.Observations = append([]string(nil), conflict.Observations...)
			result.Conflict = &copied
		}
	}

	return result
}

// CurrentOwner answers the "who holds this IP now" query: the most recent
// non-placeholder claim wins, ties broken by smallest interface ID.
func (r *Resolver) CurrentOwner(ip string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentOwner(ip)
}

func (r *Resolver) currentOwner(ip string) (string, bool) {
	var (
		ownerID string
		ownerAt time.Time
		found   bool
	)
	for ifaceID, c := range r.claims[ip] {
		info := r.ifaces[ifaceID]
		if info == nil || info.placeholder {
			continue
		}
		switch {
		case !found,
			c.lastSeen.After(ownerAt),
			c.lastSeen.Equal(ownerAt) && ifaceID < ownerID:
			ownerID, ownerAt, found = ifaceID, c.lastSeen, true
		}
	}
	return ownerID, found
}

// ResolveGatewayHost maps a gateway IP to the host of its current owner
// interface. The boolean is false when no known interface holds the IP.
func (r *Resolver) ResolveGatewayHost(ip string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.currentOwner(ip)
	if !ok {
		return "", false
	}
	return r.hostOf(owner), true
}

// HostOf returns the canonical host ID of an interface's cluster.
func (r *Resolver) HostOf(ifaceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostOf(ifaceID)
}

func (r *Resolver) hostOf(ifaceID string) string {
	root, ok := r.sets.findKey(ifaceID)
	if !ok {
		return ""
	}
	return r.elected[root].hostID
}

// Union merges the host clusters of two interfaces on explicit evidence
// (operator aliases). The returned merge record is absent when both already
// belonged to one host.
func (r *Resolver) Union(ifaceA, ifaceB, reason, observationID string, at time.Time) (domain.HostMerge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.union(ifaceA, ifaceB, reason, observationID, at)
}

func (r *Resolver) union(ifaceA, ifaceB, reason, observationID string, at time.Time) (domain.HostMerge, bool) {
	ia, ok := r.sets.findKey(ifaceA)
	if !ok {
		return domain.HostMerge{}, false
	}
	ib, ok := r.sets.findKey(ifaceB)
	if !ok {
		return domain.HostMerge{}, false
	}
	if ia == ib {
		return domain.HostMerge{}, false
	}

	ca, cb := r.elected[ia], r.elected[ib]
	root, merged := r.sets.union(ia, ib)
	if !merged {
		return domain.HostMerge{}, false
	}
	winner := better(ca, cb)
	delete(r.elected, ia)
	delete(r.elected, ib)
	r.elected[root] = winner
	r.seenHosts[winner.hostID] = true

	if ca.hostID == cb.hostID {
		// Same host reached through two identifiers. Set union only.
		return domain.HostMerge{}, false
	}
	absorbed := ca.hostID
	if winner.hostID == ca.hostID {
		absorbed = cb.hostID
	}
	return domain.HostMerge{
		SurvivorID:    winner.hostID,
		AbsorbedID:    absorbed,
		ObservationID: observationID,
		Reason:        reason,
		MergedAt:      at,
	}, true
}

// ClusterInterfaces returns every interface ID in the same host cluster.
func (r *Resolver) ClusterInterfaces(ifaceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.sets.findKey(ifaceID)
	if !ok {
		return nil
	}
	return r.sets.members(root)
}

// Conflicts returns a copy of every conflict annotation raised so far.
func (r *Resolver) Conflicts() []domain.IPConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.IPConflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		copied := *c
		copied.InterfaceIDs = append([]string(nil), c.InterfaceIDs...)
		copied.Observations = append([]string(nil), c.Observations...)
		out = append(out, copied)
	}
	return out
}

// Restore rebuilds resolver state from a persisted graph snapshot, so the
// identity mapping survives process restarts.
func (r *Resolver) Restore(g *domain.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()

	anchors := make(map[string]string) // host id -> first interface seen
	for i := range g.Interfaces {
		iface := &g.Interfaces[i]
		info := &ifaceInfo{
			id:          iface.ID,
			mac:         iface.MAC,
			name:        iface.Name,
			placeholder: iface.Placeholder,
		}
		switch {
		case iface.MAC != "":
			info.bornHost = domain.HostIDForLinkAddr(iface.MAC)
		case iface.Placeholder:
			info.gatewayIP = iface.Name
			info.bornHost = domain.HostIDForGateway(iface.Name)
		default:
			info.bornHost = iface.HostID
		}
		r.register(info)

		for _, ipClaim := range iface.IPs {
			perIface, ok := r.claims[ipClaim.Addr]
			if !ok {
				perIface = make(map[string]*claim)
				r.claims[ipClaim.Addr] = perIface
			}
			c := &claim{lastSeen: ipClaim.LastSeen, observations: make(map[string]struct{})}
			for _, obs := range ipClaim.Observations {
				c.observations[obs] = struct{}{}
			}
			perIface[iface.ID] = c
		}

		if anchor, ok := anchors[iface.HostID]; ok {
			r.union(anchor, iface.ID, "restore", "", iface.LastSeen)
		} else {
			anchors[iface.HostID] = iface.ID
		}
	}

	for i := range g.Conflicts {
		c := g.Conflicts[i]
		copied := c
		copied.InterfaceIDs = append([]string(nil), c.InterfaceIDs...)
		copied.Observations = append([]string(nil), c.Observations...)
		r.conflicts[c.IP] = &copied
	}

	for _, h := range g.Hosts {
		r.seenHosts[h.ID] = true
	}
}
