package domain

import (
	"crypto/sha256"
	"fmt"
)

// deriveID hashes an identity key into a short stable hex ID with a type
// prefix. IDs are opaque handles: nothing outside this package should parse
// them back into their key components.
func deriveID(prefix, key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s-%x", prefix, hash[:8])
}

// HostIDForSource returns the canonical host ID for a dump source identity.
func HostIDForSource(sourceHost string) string {
	return deriveID("host", "src="+sourceHost)
}

// HostIDForLinkAddr returns the canonical host ID born by an interface that
// was first seen as a link address (an ARP neighbor).
func HostIDForLinkAddr(mac string) string {
	return deriveID("host", "mac="+mac)
}

// HostIDForGateway returns the placeholder host ID for a gateway IP that has
// not yet been resolved to a known interface.
func HostIDForGateway(ip string) string {
	return deriveID("host", "gw="+ip)
}

// HostIDForNetwork returns the host ID of a reachable-network node.
func HostIDForNetwork(cidr string) string {
	return deriveID("net", "cidr="+cidr)
}

// InterfaceIDForLinkAddr returns the canonical interface ID for a link
// address. Link addresses are process-wide unique, so the MAC alone keys the
// interface.
func InterfaceIDForLinkAddr(mac string) string {
	return deriveID("if", "mac="+mac)
}

// InterfaceIDForName returns the canonical interface ID for an interface that
// is only known by the name (or local IP) its owning host reports for it.
func InterfaceIDForName(sourceHost, name string) string {
	return deriveID("if", "host="+sourceHost+"|name="+name)
}

// InterfaceIDForGateway returns the placeholder interface ID standing in for
// an unresolved gateway IP.
func InterfaceIDForGateway(ip string) string {
	return deriveID("if", "gw="+ip)
}

// ConflictIDForIP returns the ID of the conflict annotation for an IP that
// was evidenced on more than one link address.
func ConflictIDForIP(ip string) string {
	return deriveID("conflict", "ip="+ip)
}
