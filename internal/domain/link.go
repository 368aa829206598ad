package domain

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// LinkKind classifies the evidence behind an edge. Confidence values of
// different kinds are independent tracks and must not be compared.
type LinkKind string

const (
	// LinkKindAdjacency is an undirected L2 neighborship from ARP
	// evidence, between two interfaces.
	LinkKindAdjacency LinkKind = "adjacency"
	// LinkKindRoute is a directed L3 fact from routing evidence, from a
	// host to its gateway's host (or a placeholder), annotated with the
	// destination network.
	LinkKindRoute LinkKind = "route"
)

// LinkStatus is the edge lifecycle state. Edges are never deleted; stale
// edges wait for fresh corroboration.
type LinkStatus string

const (
	LinkStatusProposed  LinkStatus = "proposed"
	LinkStatusConfirmed LinkStatus = "confirmed"
	LinkStatusStale     LinkStatus = "stale"
)

// Link is an edge of the fused graph. Adjacency endpoints are interface IDs
// with FromID < ToID; route endpoints are host IDs and keep their direction.
type Link struct {
	ID     string   `json:"id"`
	Kind   LinkKind `json:"kind"`
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	// Network is the destination CIDR on route links.
	Network string `json:"network,omitempty"`
	// Gateway is the next-hop IP the route named, kept so the edge can be
	// rewired when the IP later resolves to a known interface.
	Gateway string `json:"gateway,omitempty"`
	Metric  int    `json:"metric,omitempty"`

	Confidence float64    `json:"confidence"`
	Status     LinkStatus `json:"status"`
	// HighTrust is set once any supporting observation came from a
	// high-trust source. Never cleared.
	HighTrust    bool      `json:"high_trust,omitempty"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	Observations []string   `json:"observations,omitempty"`
}

// NewAdjacency creates an undirected L2 edge between two interfaces. The
// endpoints are ordered so the same pair always yields the same edge.
func NewAdjacency(ifaceA, ifaceB string, seenAt time.Time) *Link {
	if ifaceB < ifaceA {
		ifaceA, ifaceB = ifaceB, ifaceA
	}
	l := &Link{
		Kind:      LinkKindAdjacency,
		FromID:    ifaceA,
		ToID:      ifaceB,
		Status:    LinkStatusProposed,
		FirstSeen: seenAt,
		LastSeen:  seenAt,
	}
	l.ID = adjacencyID(ifaceA, ifaceB)
	return l
}

// NewRoute creates a directed L3 edge from a host toward the host owning the
// gateway IP. The ID is keyed by the reporting host, destination and gateway
// IP, not by ToID, so rewiring a resolved gateway keeps the edge identity.
func NewRoute(fromHost, toHost, network, gateway string, metric int, seenAt time.Time) *Link {
	l := &Link{
		Kind:      LinkKindRoute,
		FromID:    fromHost,
		ToID:      toHost,
		Network:   network,
		Gateway:   gateway,
		Metric:    metric,
		Status:    LinkStatusProposed,
		FirstSeen: seenAt,
		LastSeen:  seenAt,
	}
	l.ID = RouteID(fromHost, network, gateway)
	return l
}

func adjacencyID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("adjacency|%s|%s", a, b)))
	return fmt.Sprintf("link-%x", hash[:8])
}

// AdjacencyID returns the deterministic ID of the L2 edge between two
// interfaces, in either endpoint order.
func AdjacencyID(a, b string) string {
	return adjacencyID(a, b)
}

// RouteID returns the deterministic ID of the L3 edge a host reported toward
// a destination network via a gateway IP.
func RouteID(fromHost, network, gateway string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("route|%s|%s|%s", fromHost, network, gateway)))
	return fmt.Sprintf("link-%x", hash[:8])
}

// Observe extends the link's supporting evidence with one observation.
func (l *Link) Observe(observationID string, at time.Time) {
	l.Observations = insertSorted(l.Observations, observationID)
	if at.Before(l.FirstSeen) || l.FirstSeen.IsZero() {
		l.FirstSeen = at
	}
	if at.After(l.LastSeen) {
		l.LastSeen = at
	}
}

// Corroborations returns how many distinct observations support the link.
func (l *Link) Corroborations() int {
	return len(l.Observations)
}
