package service

import (
	"sort"
	"sync"

	"netfuse/internal/domain"
)

// lockTable hands out per-key mutexes so batches touching disjoint identifiers
// ingest concurrently while overlapping batches serialize. Keys are acquired
// in sorted order, which rules out lock-order deadlocks between batches.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

// acquire locks every key and returns the matching release func.
func (t *lockTable) acquire(keys []string) func() {
	keys = sortedUnique(keys)
	entries := make([]*lockEntry, 0, len(keys))
	for _, key := range keys {
		t.mu.Lock()
		e, ok := t.locks[key]
		if !ok {
			e = &lockEntry{}
			t.locks[key] = e
		}
		e.refs++
		t.mu.Unlock()

		e.mu.Lock()
		entries = append(entries, e)
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
			t.mu.Lock()
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(t.locks, keys[i])
			}
			t.mu.Unlock()
		}
	}
}

// lockKeys derives the identifier keys a batch of records will touch: the
// source host plus every link address and claimed or routed IP.
func lockKeys(records []domain.ObservationRecord) []string {
	keys := make([]string, 0, len(records)*2)
	for i := range records {
		rec := &records[i]
		keys = append(keys, "src:"+rec.SourceHost)
		switch rec.Kind {
		case domain.RecordKindArp:
			keys = append(keys, "mac:"+rec.Arp.NeighborMAC, "ip:"+rec.Arp.NeighborIP.String())
		case domain.RecordKindRoute:
			if rec.Route.Gateway.IsValid() {
				keys = append(keys, "ip:"+rec.Route.Gateway.String())
			}
		}
	}
	return sortedUnique(keys)
}

func sortedUnique(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || keys[i-1] != k {
			out = append(out, k)
		}
	}
	return out
}
