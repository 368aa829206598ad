// Package repository defines the graph store contract for netfuse.
//
// The fusion engine treats the store as a transactional keyed backend and
// depends only on the Store interface here. Four collections are persisted:
// hosts, interfaces, links and observations, each row carrying its entity ID,
// its fused fields and the provenance list of observation IDs, plus the two
// identity side tables (conflicts, host merges).
//
// # Atomicity
//
// ApplyBatch commits one ingest batch in a single transaction: the graph
// either reflects the whole batch or none of it. Transient failures (busy,
// locked, timeout) are surfaced as domain.StoreError with Transient set so
// the service layer can retry with backoff; corruption is surfaced as
// domain.ErrCorrupt and is fatal.
//
// # SQLite Implementation
//
// The sqlite subpackage implements the contract on modernc.org/sqlite (pure
// Go driver) with WAL mode and a busy timeout, and migrates its schema with
// embedded goose migrations.
package repository
