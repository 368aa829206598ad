// Package normalize canonicalizes raw parsed dump fields into
// ObservationRecords. It owns address syntax only: IP literals, CIDR blocks
// and link addresses. No identity logic happens here; a normalized record
// still references raw identifiers, not canonical entity IDs.
package normalize

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"netfuse/internal/domain"
)

// Normalize validates and canonicalizes one raw record. On failure it
// returns a *domain.NormalizationError describing why the record was
// rejected; callers skip the record and continue the batch.
func Normalize(raw domain.RawRecord) (domain.ObservationRecord, error) {
	rec := domain.ObservationRecord{
		SourceHost: strings.TrimSpace(raw.SourceHost),
		ObservedAt: raw.ObservedAt,
		Kind:       raw.Kind,
		Trust:      domain.TrustNormal,
	}

	if rec.SourceHost == "" {
		return rec, reject(raw, "missing source host")
	}
	if rec.ObservedAt.IsZero() {
		return rec, reject(raw, "missing observation time")
	}

	switch raw.Kind {
	case domain.RecordKindArp:
		entry, err := normalizeArp(raw)
		if err != nil {
			return rec, err
		}
		rec.Arp = entry
	case domain.RecordKindRoute:
		entry, err := normalizeRoute(raw)
		if err != nil {
			return rec, err
		}
		rec.Route = entry
	default:
		return rec, reject(raw, fmt.Sprintf("unknown record kind %q", raw.Kind))
	}

	rec.ID = rec.ComputeID()
	return rec, nil
}

func normalizeArp(raw domain.RawRecord) (*domain.ArpEntry, error) {
	local := strings.TrimSpace(raw.LocalInterface)
	if local == "" {
		return nil, reject(raw, "arp record missing local interface")
	}

	ip, err := parseAddr(raw.NeighborIP)
	if err != nil {
		return nil, reject(raw, fmt.Sprintf("invalid neighbor IP %q", raw.NeighborIP))
	}

	mac, err := CanonicalMAC(raw.NeighborMAC)
	if err != nil {
		return nil, reject(raw, fmt.Sprintf("invalid link address %q", raw.NeighborMAC))
	}

	return &domain.ArpEntry{
		LocalInterface: local,
		NeighborIP:     ip,
		NeighborMAC:    mac,
	}, nil
}

func normalizeRoute(raw domain.RawRecord) (*domain.RouteEntry, error) {
	dest := strings.TrimSpace(raw.Destination)
	if dest == "" {
		return nil, reject(raw, "route record missing destination network")
	}

	prefix, err := netip.ParsePrefix(dest)
	if err != nil {
		return nil, reject(raw, fmt.Sprintf("invalid destination CIDR %q", raw.Destination))
	}
	if prefix != prefix.Masked() {
		return nil, reject(raw, fmt.Sprintf("destination CIDR %q has host bits set", raw.Destination))
	}

	entry := &domain.RouteEntry{
		Destination:  prefix,
		OutInterface: strings.TrimSpace(raw.OutInterface),
		Metric:       raw.Metric,
	}
	if entry.Metric < 0 {
		return nil, reject(raw, fmt.Sprintf("negative route metric %d", raw.Metric))
	}

	// An absent or unspecified gateway means the destination is on-link.
	gw := strings.TrimSpace(raw.Gateway)
	if gw != "" && gw != "*" {
		addr, err := parseAddr(gw)
		if err != nil {
			return nil, reject(raw, fmt.Sprintf("invalid gateway IP %q", raw.Gateway))
		}
		if !addr.IsUnspecified() {
			entry.Gateway = addr
		}
	}

	return entry, nil
}

// CanonicalMAC canonicalizes a link address to lowercase hex with no
// separators. Accepts the colon, hyphen and dot spellings that net.ParseMAC
// understands.
func CanonicalMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, octet := range hw {
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String(), nil
}

// parseAddr parses an IP literal, unmapping any 4-in-6 form so the same
// address always canonicalizes identically.
func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

func reject(raw domain.RawRecord, reason string) *domain.NormalizationError {
	return &domain.NormalizationError{Reason: reason, Line: raw.Line}
}
