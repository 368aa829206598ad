package service

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"netfuse/internal/domain"
	"netfuse/internal/repository/sqlite"
)

// ============================================================================
// Test Helpers
// ============================================================================

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeClock lets tests control the service's idea of now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestService builds a service over an in-memory store.
func newTestService(t *testing.T, opts Options) (*Service, *fakeClock) {
	t.Helper()
	return newTestServiceAt(t, ":memory:", opts)
}

func newTestServiceAt(t *testing.T, path string, opts Options) (*Service, *fakeClock) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc, err := New(context.Background(), store, nil, opts)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	clock := newFakeClock()
	svc.now = clock.Now
	return svc, clock
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func assertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

// assertSameGraph compares two snapshots ignoring generation time.
func assertSameGraph(t *testing.T, a, b *domain.Graph) {
	t.Helper()
	a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
	a.Sort()
	b.Sort()
	if !reflect.DeepEqual(a.Hosts, b.Hosts) {
		t.Errorf("hosts diverged:\n%+v\n%+v", a.Hosts, b.Hosts)
	}
	if !reflect.DeepEqual(a.Interfaces, b.Interfaces) {
		t.Errorf("interfaces diverged:\n%+v\n%+v", a.Interfaces, b.Interfaces)
	}
	if !reflect.DeepEqual(a.Links, b.Links) {
		t.Errorf("links diverged:\n%+v\n%+v", a.Links, b.Links)
	}
	if !reflect.DeepEqual(a.Conflicts, b.Conflicts) {
		t.Errorf("conflicts diverged:\n%+v\n%+v", a.Conflicts, b.Conflicts)
	}
}

func rawArp(src, local, ip, mac string, at time.Time) domain.RawRecord {
	return domain.RawRecord{
		Kind:           domain.RecordKindArp,
		SourceHost:     src,
		ObservedAt:     at,
		LocalInterface: local,
		NeighborIP:     ip,
		NeighborMAC:    mac,
	}
}

func rawRoute(src, dest, gw, dev string, at time.Time) domain.RawRecord {
	return domain.RawRecord{
		Kind:         domain.RecordKindRoute,
		SourceHost:   src,
		ObservedAt:   at,
		Destination:  dest,
		Gateway:      gw,
		OutInterface: dev,
	}
}

// ============================================================================
// Report Semantics
// ============================================================================

func TestIngestReportsPartialRejection(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	raws := []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
		rawArp("ops-box", "eth0", "not-an-ip", "aa:bb:cc:dd:ee:02", t0),
	}
	report, err := svc.Ingest(context.Background(), "ops-box", raws, domain.IngestOptions{})
	assertNoError(t, err)

	assertEqual(t, 1, report.Accepted)
	assertEqual(t, 1, report.Rejected)
	assertEqual(t, 1, len(report.Errors))
	if report.BatchID == "" {
		t.Error("expected a batch ID")
	}
	if len(report.NewHosts) == 0 || len(report.NewLinks) == 0 {
		t.Errorf("expected new entities in report, got %+v", report)
	}
}

// ============================================================================
// Idempotence
// ============================================================================

func TestIngestTwiceIsNoOp(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	raws := []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
		rawRoute("ops-box", "0.0.0.0/0", "10.0.0.1", "eth0", t0),
	}
	_, err := svc.Ingest(ctx, "ops-box", raws, domain.IngestOptions{})
	assertNoError(t, err)

	first, err := svc.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)

	report, err := svc.Ingest(ctx, "ops-box", raws, domain.IngestOptions{})
	assertNoError(t, err)
	assertEqual(t, 0, len(report.NewHosts))
	assertEqual(t, 0, len(report.NewInterfaces))
	assertEqual(t, 0, len(report.NewLinks))

	second, err := svc.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)
	assertSameGraph(t, first, second)
}

// ============================================================================
// Order Independence
// ============================================================================

func TestBatchOrderIndependence(t *testing.T) {
	ctx := context.Background()

	arpBatch := []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
		rawArp("ops-box", "eth0", "10.0.0.7", "aa:bb:cc:dd:ee:07", t0),
	}
	routeBatch := []domain.RawRecord{
		rawRoute("ops-box", "0.0.0.0/0", "10.0.0.1", "eth0", t0.Add(time.Minute)),
		rawRoute("ops-box", "10.0.0.0/24", "", "eth0", t0.Add(time.Minute)),
	}

	forward, _ := newTestService(t, Options{})
	_, err := forward.Ingest(ctx, "ops-box", arpBatch, domain.IngestOptions{})
	assertNoError(t, err)
	_, err = forward.Ingest(ctx, "ops-box", routeBatch, domain.IngestOptions{})
	assertNoError(t, err)

	reverse, _ := newTestService(t, Options{})
	_, err = reverse.Ingest(ctx, "ops-box", routeBatch, domain.IngestOptions{})
	assertNoError(t, err)
	_, err = reverse.Ingest(ctx, "ops-box", arpBatch, domain.IngestOptions{})
	assertNoError(t, err)

	fg, err := forward.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	rg, err := reverse.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	assertSameGraph(t, fg, rg)
}

// ============================================================================
// Gateway Placeholder Reconciliation
// ============================================================================

func TestRouteBeforeArpResolvesPlaceholder(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	route := []domain.RawRecord{rawRoute("ops-box", "0.0.0.0/0", "10.0.0.1", "eth0", t0)}
	_, err := svc.Ingest(ctx, "ops-box", route, domain.IngestOptions{})
	assertNoError(t, err)

	placeholderID := domain.HostIDForGateway("10.0.0.1")
	ph, err := svc.store.GetHost(ctx, placeholderID)
	assertNoError(t, err)
	assertEqual(t, domain.HostKindGateway, ph.Kind)

	// The ARP neighbor claims the gateway IP and absorbs the placeholder.
	arp := []domain.RawRecord{rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0.Add(time.Minute))}
	report, err := svc.Ingest(ctx, "ops-box", arp, domain.IngestOptions{})
	assertNoError(t, err)
	assertEqual(t, 1, len(report.Merges))

	realHost := domain.HostIDForLinkAddr("aabbccddee01")
	assertEqual(t, realHost, report.Merges[0].SurvivorID)
	assertEqual(t, placeholderID, report.Merges[0].AbsorbedID)

	// The route edge kept its identity but points at the real host now.
	fromHost := domain.HostIDForSource("ops-box")
	link, err := svc.store.GetLink(ctx, domain.RouteID(fromHost, "0.0.0.0/0", "10.0.0.1"))
	assertNoError(t, err)
	assertEqual(t, realHost, link.ToID)

	ph, err = svc.store.GetHost(ctx, placeholderID)
	assertNoError(t, err)
	assertEqual(t, realHost, ph.MergedInto)

	// Default view folds the absorbed placeholder away.
	g, err := svc.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	if _, ok := g.Host(placeholderID); ok {
		t.Error("merged placeholder still visible in default view")
	}
}

// ============================================================================
// Conflict Safety
// ============================================================================

func TestConflictingClaimsStayDistinct(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "host-a", []domain.RawRecord{
		rawArp("host-a", "eth0", "10.0.0.5", "aa:bb:cc:dd:ee:a1", t0),
	}, domain.IngestOptions{})
	assertNoError(t, err)

	report, err := svc.Ingest(ctx, "host-b", []domain.RawRecord{
		rawArp("host-b", "eth0", "10.0.0.5", "aa:bb:cc:dd:ee:a2", t0.Add(time.Hour)),
	}, domain.IngestOptions{})
	assertNoError(t, err)
	assertEqual(t, 1, len(report.Conflicts))

	conflicts, err := svc.Conflicts(ctx)
	assertNoError(t, err)
	assertEqual(t, 1, len(conflicts))
	assertEqual(t, "10.0.0.5", conflicts[0].IP)

	ifaceA := domain.InterfaceIDForLinkAddr("aabbccddeea1")
	ifaceB := domain.InterfaceIDForLinkAddr("aabbccddeea2")
	expected := []string{ifaceA, ifaceB}
	sort.Strings(expected)
	assertEqual(t, expected, conflicts[0].InterfaceIDs)

	// Both interfaces survive, annotated, on distinct hosts.
	a, err := svc.store.GetInterface(ctx, ifaceA)
	assertNoError(t, err)
	b, err := svc.store.GetInterface(ctx, ifaceB)
	assertNoError(t, err)
	if a.HostID == b.HostID {
		t.Error("conflicting interfaces were merged onto one host")
	}
	claim, ok := b.Claim("10.0.0.5")
	if !ok || len(claim.ConflictsWith) == 0 {
		t.Errorf("expected conflict annotation on claim, got %+v", claim)
	}

	// The annotation references the observation behind each claim and
	// does not change when the batches are replayed.
	if len(conflicts[0].Observations) != 2 {
		t.Fatalf("conflict must reference both observations, got %v", conflicts[0].Observations)
	}
	_, err = svc.Ingest(ctx, "host-b", []domain.RawRecord{
		rawArp("host-b", "eth0", "10.0.0.5", "aa:bb:cc:dd:ee:a2", t0.Add(time.Hour)),
	}, domain.IngestOptions{})
	assertNoError(t, err)
	_, err = svc.Ingest(ctx, "host-a", []domain.RawRecord{
		rawArp("host-a", "eth0", "10.0.0.5", "aa:bb:cc:dd:ee:a1", t0),
	}, domain.IngestOptions{})
	assertNoError(t, err)

	replayed, err := svc.Conflicts(ctx)
	assertNoError(t, err)
	assertEqual(t, conflicts, replayed)
}

// ============================================================================
// Edge Lifecycle
// ============================================================================

func TestEdgeLifecycle(t *testing.T) {
	svc, clock := newTestService(t, Options{StalenessWindow: 24 * time.Hour})
	ctx := context.Background()

	ingestArpAt := func(at time.Time) *domain.MergeReport {
		report, err := svc.Ingest(ctx, "ops-box", []domain.RawRecord{
			rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", at),
		}, domain.IngestOptions{})
		assertNoError(t, err)
		return report
	}

	localIface := domain.InterfaceIDForName("ops-box", "eth0")
	nbrIface := domain.InterfaceIDForLinkAddr("aabbccddee01")
	linkID := domain.AdjacencyID(localIface, nbrIface)

	// One observation proposes.
	ingestArpAt(t0)
	link, err := svc.store.GetLink(ctx, linkID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusProposed, link.Status)

	// A second corroboration confirms.
	ingestArpAt(t0.Add(time.Hour))
	link, err = svc.store.GetLink(ctx, linkID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusConfirmed, link.Status)
	if link.Confidence <= 0.5 {
		t.Errorf("expected confidence above base after corroboration, got %v", link.Confidence)
	}

	// Past the window the sweep demotes it.
	clock.Advance(72 * time.Hour)
	demoted, err := svc.Sweep(ctx)
	assertNoError(t, err)
	assertEqual(t, []string{linkID}, demoted)
	link, err = svc.store.GetLink(ctx, linkID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusStale, link.Status)

	// Fresh corroboration revives it.
	ingestArpAt(clock.Now())
	link, err = svc.store.GetLink(ctx, linkID)
	assertNoError(t, err)
	assertEqual(t, domain.LinkStatusConfirmed, link.Status)
}

func TestStalenessDerivedOnQuery(t *testing.T) {
	svc, clock := newTestService(t, Options{StalenessWindow: 24 * time.Hour})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "ops-box", []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0.Add(time.Hour)),
	}, domain.IngestOptions{})
	assertNoError(t, err)

	clock.Advance(72 * time.Hour)

	// No sweep ran, but the default view already hides the stale edge.
	g, err := svc.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	assertEqual(t, 0, len(g.Links))

	g, err = svc.GetGraph(ctx, domain.GraphFilter{IncludeStale: true})
	assertNoError(t, err)
	assertEqual(t, 1, len(g.Links))
	assertEqual(t, domain.LinkStatusStale, g.Links[0].Status)
}

func TestHighTrustConfirmsImmediately(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "ops-box", []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
	}, domain.IngestOptions{Trust: domain.TrustHigh})
	assertNoError(t, err)

	g, err := svc.GetGraph(ctx, domain.GraphFilter{})
	assertNoError(t, err)
	assertEqual(t, 1, len(g.Links))
	assertEqual(t, domain.LinkStatusConfirmed, g.Links[0].Status)
}

// ============================================================================
// Dry Run
// ============================================================================

func TestDryRunLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	report, err := svc.Ingest(ctx, "ops-box", []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
	}, domain.IngestOptions{DryRun: true})
	assertNoError(t, err)

	assertEqual(t, true, report.DryRun)
	assertEqual(t, 1, report.Accepted)
	if len(report.NewHosts) == 0 {
		t.Error("dry run should still report what it would create")
	}

	g, err := svc.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	assertNoError(t, err)
	assertEqual(t, 0, len(g.Hosts))
	assertEqual(t, 0, len(g.Links))
}

// ============================================================================
// Force Recreate
// ============================================================================

func TestForceRecreateDropsPriorGraph(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "old-box", []domain.RawRecord{
		rawArp("old-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
	}, domain.IngestOptions{})
	assertNoError(t, err)

	_, err = svc.Ingest(ctx, "new-box", []domain.RawRecord{
		rawArp("new-box", "eth0", "10.9.9.1", "aa:bb:cc:dd:ee:99", t0.Add(time.Hour)),
	}, domain.IngestOptions{ForceRecreate: true})
	assertNoError(t, err)

	_, err = svc.store.GetHost(ctx, domain.HostIDForSource("old-box"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected old host gone after recreate, got %v", err)
	}
	_, err = svc.store.GetHost(ctx, domain.HostIDForSource("new-box"))
	assertNoError(t, err)
}

// ============================================================================
// Restart and Aliases
// ============================================================================

func TestIdentitySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netfuse.db")
	ctx := context.Background()

	svc1, _ := newTestServiceAt(t, path, Options{})
	_, err := svc1.Ingest(ctx, "ops-box", []domain.RawRecord{
		rawArp("ops-box", "eth0", "10.0.0.1", "aa:bb:cc:dd:ee:01", t0),
	}, domain.IngestOptions{})
	assertNoError(t, err)
	assertNoError(t, svc1.store.Close())

	// A fresh process ingests a route through the already-claimed IP. It
	// must resolve to the real host, not mint a placeholder.
	svc2, _ := newTestServiceAt(t, path, Options{})
	_, err = svc2.Ingest(ctx, "ops-box", []domain.RawRecord{
		rawRoute("ops-box", "0.0.0.0/0", "10.0.0.1", "eth0", t0.Add(time.Hour)),
	}, domain.IngestOptions{})
	assertNoError(t, err)

	_, err = svc2.store.GetHost(ctx, domain.HostIDForGateway("10.0.0.1"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no placeholder host, got %v", err)
	}

	fromHost := domain.HostIDForSource("ops-box")
	link, err := svc2.store.GetLink(ctx, domain.RouteID(fromHost, "0.0.0.0/0", "10.0.0.1"))
	assertNoError(t, err)
	assertEqual(t, domain.HostIDForLinkAddr("aabbccddee01"), link.ToID)
}

func TestAliasesMergeHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netfuse.db")
	ctx := context.Background()

	svc1, _ := newTestServiceAt(t, path, Options{})
	_, err := svc1.Ingest(ctx, "host-a", []domain.RawRecord{
		rawArp("host-a", "eth0", "10.0.0.9", "aa:bb:cc:dd:ee:09", t0),
	}, domain.IngestOptions{})
	assertNoError(t, err)
	assertNoError(t, svc1.store.Close())

	// The operator asserts the neighbor MAC is host-a itself, seen from
	// another vantage point.
	svc2, _ := newTestServiceAt(t, path, Options{
		Aliases: [][]string{{"host-a", "aa:bb:cc:dd:ee:09"}},
	})

	srcHost := domain.HostIDForSource("host-a")
	macHost := domain.HostIDForLinkAddr("aabbccddee09")

	absorbed, err := svc2.store.GetHost(ctx, macHost)
	assertNoError(t, err)
	if absorbed.MergedInto != srcHost {
		// Survivor election is deterministic but not directional; accept
		// either winner as long as the two ended up one host.
		survivor, err := svc2.store.GetHost(ctx, srcHost)
		assertNoError(t, err)
		if survivor.MergedInto != macHost {
			t.Fatalf("alias did not merge hosts: %+v / %+v", absorbed, survivor)
		}
	}
}
