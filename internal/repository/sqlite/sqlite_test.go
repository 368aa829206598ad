package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"netfuse/internal/domain"
	"netfuse/internal/repository"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertEqual fails the test if expected != actual
func assertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

var (
	seenAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later  = seenAt.Add(time.Hour)
)

func sampleBatch() *repository.Batch {
	host := domain.NewHost("host-aaaa", domain.HostKindMachine, seenAt)
	host.AddLabel("web01", "obs-1")
	host.AddInterface("if-aaaa")
	host.Observe("obs-1", seenAt)

	iface := domain.NewInterface("if-aaaa", "host-aaaa", seenAt)
	iface.MAC = "00163e5e6c06"
	iface.ClaimIP("10.0.0.5", "obs-1", seenAt)
	iface.Observe("obs-1", seenAt)

	link := domain.NewAdjacency("if-aaaa", "if-bbbb", seenAt)
	link.Observe("obs-1", seenAt)
	link.Confidence = 0.5

	return &repository.Batch{
		Hosts:      []domain.Host{*host},
		Interfaces: []domain.Interface{*iface},
		Links:      []domain.Link{*link},
		Observations: []domain.ObservationRecord{
			{ID: "obs-1", SourceHost: "ops-box", ObservedAt: seenAt, Kind: domain.RecordKindArp,
				Arp: &domain.ArpEntry{LocalInterface: "eth0", NeighborMAC: "00163e5e6c06"}},
		},
	}
}

// ============================================================================
// Batch Application
// ============================================================================

func TestApplyBatchAndGetHost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))

	host, err := store.GetHost(ctx, "host-aaaa")
	assertNoError(t, err)
	assertEqual(t, "web01", host.DisplayLabel())
	assertEqual(t, []string{"if-aaaa"}, host.Interfaces)
}

func TestGetHostNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetHost(context.Background(), "host-missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyBatchUpsertMergesOnSecondWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))

	// A later batch carries the fully merged row; the upsert replaces it.
	batch := sampleBatch()
	batch.Hosts[0].Observe("obs-2", later)
	batch.Links[0].Observe("obs-2", later)
	batch.Links[0].Status = domain.LinkStatusConfirmed
	assertNoError(t, store.ApplyBatch(ctx, batch))

	link, err := store.GetLink(ctx, batch.Links[0].ID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusConfirmed, link.Status)
	assertEqual(t, 2, link.Corroborations())
	if !link.LastSeen.Equal(later) {
		t.Errorf("expected last seen %v, got %v", later, link.LastSeen)
	}
}

func TestObservationsAreImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))
	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))

	var count int
	err := store.db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&count)
	assertNoError(t, err)
	assertEqual(t, 1, count)
}

// ============================================================================
// Graph Snapshots
// ============================================================================

func TestGetGraphDefaultViewHidesStaleAndMerged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	absorbed := domain.NewHost("host-gw", domain.HostKindGateway, seenAt)
	absorbed.MergedInto = "host-aaaa"
	batch.Hosts = append(batch.Hosts, *absorbed)

	staleLink := domain.NewRoute("host-aaaa", "host-gw", "10.0.0.0/24", "10.0.0.1", 1, seenAt)
	staleLink.Status = domain.LinkStatusStale
	batch.Links = append(batch.Links, *staleLink)
	batch.Merges = append(batch.Merges, domain.HostMerge{
		SurvivorID: "host-aaaa", AbsorbedID: "host-gw", Reason: "gateway-resolved", MergedAt: seenAt,
	})
	assertNoError(t, store.ApplyBatch(ctx, batch))

	graph, err := store.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	assertEqual(t, 1, len(graph.Hosts))
	assertEqual(t, 1, len(graph.Links))

	full, err := store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)
	assertEqual(t, 2, len(full.Hosts))
	assertEqual(t, 2, len(full.Links))
	assertEqual(t, 1, len(full.Merges))
}

func TestGetGraphMinConfidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	weak := domain.NewRoute("host-aaaa", "host-gw", "0.0.0.0/0", "10.0.0.1", 1, seenAt)
	weak.Confidence = 0.2
	batch.Links = append(batch.Links, *weak)
	assertNoError(t, store.ApplyBatch(ctx, batch))

	graph, err := store.GetGraph(ctx, domain.GraphFilter{MinConfidence: 0.4})
	assertNoError(t, err)
	assertEqual(t, 1, len(graph.Links))
	assertEqual(t, domain.LinkKindAdjacency, graph.Links[0].Kind)
}

func TestGraphRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))

	first, err := store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)

	// Reload the snapshot into a fresh store and compare.
	second := newTestStore(t)
	reload := &repository.Batch{
		Hosts:      first.Hosts,
		Interfaces: first.Interfaces,
		Links:      first.Links,
		Conflicts:  first.Conflicts,
		Merges:     first.Merges,
	}
	assertNoError(t, second.ApplyBatch(ctx, reload))

	copied, err := second.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)

	first.GeneratedAt, copied.GeneratedAt = time.Time{}, time.Time{}
	first.Sort()
	copied.Sort()
	if !reflect.DeepEqual(first.Hosts, copied.Hosts) {
		t.Errorf("hosts diverged after round trip")
	}
	if !reflect.DeepEqual(first.Interfaces, copied.Interfaces) {
		t.Errorf("interfaces diverged after round trip")
	}
	if !reflect.DeepEqual(first.Links, copied.Links) {
		t.Errorf("links diverged after round trip")
	}
}

// ============================================================================
// Staleness Sweep
// ============================================================================

func TestMarkStaleLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	batch.Links[0].Status = domain.LinkStatusConfirmed
	fresh := domain.NewAdjacency("if-cccc", "if-dddd", later)
	fresh.Status = domain.LinkStatusConfirmed
	batch.Links = append(batch.Links, *fresh)
	assertNoError(t, store.ApplyBatch(ctx, batch))

	ids, err := store.MarkStaleLinks(ctx, seenAt.Add(time.Minute))
	assertNoError(t, err)
	assertEqual(t, []string{batch.Links[0].ID}, ids)

	demoted, err := store.GetLink(ctx, batch.Links[0].ID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusStale, demoted.Status)

	kept, err := store.GetLink(ctx, fresh.ID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusConfirmed, kept.Status)
}

// ============================================================================
// Recreate
// ============================================================================

func TestRecreateDropsAllData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assertNoError(t, store.ApplyBatch(ctx, sampleBatch()))
	assertNoError(t, store.Recreate(ctx))

	graph, err := store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)
	assertEqual(t, 0, len(graph.Hosts))
	assertEqual(t, 0, len(graph.Links))
}

// ============================================================================
// Endpoint Listing
// ============================================================================

func TestListLinksByEndpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := sampleBatch()
	route := domain.NewRoute("host-aaaa", "host-gw", "10.0.0.0/24", "10.0.0.1", 1, seenAt)
	batch.Links = append(batch.Links, *route)
	assertNoError(t, store.ApplyBatch(ctx, batch))

	links, err := store.ListLinksByEndpoint(ctx, "host-gw")
	assertNoError(t, err)
	assertEqual(t, 1, len(links))
	assertEqual(t, route.ID, links[0].ID)
}
