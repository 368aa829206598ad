package domain

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"time"
)

// RecordKind identifies the payload variant of an ObservationRecord.
type RecordKind string

const (
	RecordKindArp   RecordKind = "arp"
	RecordKindRoute RecordKind = "route"
)

// TrustLevel qualifies how directly an observation source speaks for the
// state it reports. Self-observation of a host's own tables is high trust;
// anything relayed or scanned is normal.
type TrustLevel string

const (
	TrustNormal TrustLevel = "normal"
	TrustHigh   TrustLevel = "high"
)

// RawRecord is the unvalidated output of a dump parser: one line's worth of
// fields, still in their source spelling. The normalizer turns it into an
// ObservationRecord or rejects it.
type RawRecord struct {
	Kind       RecordKind
	SourceHost string
	ObservedAt time.Time

	// ARP fields
	LocalInterface string // interface name or local IP as the dump reports it
	NeighborIP     string
	NeighborMAC    string

	// Route fields
	Destination  string // CIDR or dotted network+mask already joined
	Gateway      string
	OutInterface string
	Metric       int

	// Line is the dump line the record came from, kept for error reporting.
	Line string
}

// ArpEntry is the normalized payload of one ARP table row: the reporting
// host's local interface saw NeighborIP answer from NeighborMAC.
type ArpEntry struct {
	LocalInterface string     `json:"local_interface"`
	NeighborIP     netip.Addr `json:"neighbor_ip"`
	NeighborMAC    string     `json:"neighbor_mac"` // lowercase hex, no separators
}

// RouteEntry is the normalized payload of one routing table row. A zero
// Gateway means the destination is on-link (no next hop).
type RouteEntry struct {
	Destination  netip.Prefix `json:"destination"`
	Gateway      netip.Addr   `json:"gateway,omitempty"`
	OutInterface string       `json:"out_interface,omitempty"`
	Metric       int          `json:"metric"`
}

// ObservationRecord is one normalized fact extracted from a dump. Exactly one
// of Arp/Route is non-nil, matching Kind. Records are immutable once built.
type ObservationRecord struct {
	ID         string     `json:"id"`
	SourceHost string     `json:"source_host"`
	ObservedAt time.Time  `json:"observed_at"`
	Kind       RecordKind `json:"kind"`
	Trust      TrustLevel `json:"trust"`

	Arp   *ArpEntry   `json:"arp,omitempty"`
	Route *RouteEntry `json:"route,omitempty"`
}

// ComputeID derives the record's content hash. Two records carrying the same
// fact from the same source at the same time get the same ID, which is what
// makes re-ingestion a no-op.
func (r *ObservationRecord) ComputeID() string {
	var payload string
	switch r.Kind {
	case RecordKindArp:
		payload = fmt.Sprintf("arp|%s|%s|%s", r.Arp.LocalInterface, r.Arp.NeighborIP, r.Arp.NeighborMAC)
	case RecordKindRoute:
		gw := ""
		if r.Route.Gateway.IsValid() {
			gw = r.Route.Gateway.String()
		}
		payload = fmt.Sprintf("route|%s|%s|%s|%d", r.Route.Destination, gw, r.Route.OutInterface, r.Route.Metric)
	}
	key := fmt.Sprintf("%s|%d|%s", r.SourceHost, r.ObservedAt.UTC().Unix(), payload)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("obs-%x", hash[:8])
}

// Validate checks the variant invariant: Kind matches exactly one payload.
func (r *ObservationRecord) Validate() error {
	switch r.Kind {
	case RecordKindArp:
		if r.Arp == nil || r.Route != nil {
			return fmt.Errorf("arp record must carry exactly the arp payload")
		}
	case RecordKindRoute:
		if r.Route == nil || r.Arp != nil {
			return fmt.Errorf("route record must carry exactly the route payload")
		}
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if r.SourceHost == "" {
		return fmt.Errorf("record missing source host")
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("record missing observation time")
	}
	return nil
}
