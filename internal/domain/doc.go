// Package domain defines the core domain types for the netfuse topology
// fusion engine.
//
// This package contains the entities and value objects that the rest of the
// system agrees on: observation records extracted from host-local network
// dumps, the canonical Host/Interface/Link entities they fuse into, and the
// reporting types returned to operators.
//
// # Observations
//
// ObservationRecord is a closed tagged variant: exactly one of its payload
// pointers (Arp, Route) is set, matching its Kind. Records are immutable once
// normalized and carry a deterministic content-derived ID, so re-ingesting the
// same dump produces the same observation IDs and the merge algebra stays
// idempotent.
//
// # Canonical entities
//
// Host, Interface and Link are the fused graph entities. Their IDs are opaque
// but stable: derived by hashing the identifying evidence (a link address, an
// owner/name pair, a gateway IP), never assigned sequentially. All evidence
// sets (observation IDs, labels, IP claims) are kept sorted and deduplicated
// so two graphs built from the same records in different orders compare equal.
//
// # Provenance
//
// Every entity carries the observation IDs that produced it. IPConflict and
// HostMerge records explain the two irreversible identity decisions the
// resolver can take: refusing to merge two link addresses that claim the same
// IP, and folding two hosts into one.
//
// # Design Principles
//
//   - Deterministic IDs derived from identifying evidence
//   - Sorted, deduplicated evidence sets for order-independent equality
//   - No database or external dependencies
//   - Entities are merged, never overwritten, and never deleted
package domain
