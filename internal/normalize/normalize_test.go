package normalize

import (
	"errors"
	"testing"
	"time"

	"netfuse/internal/domain"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeArp(t *testing.T) {
	raw := domain.RawRecord{
		Kind:           domain.RecordKindArp,
		SourceHost:     "ops-box",
		ObservedAt:     testTime,
		LocalInterface: "eth0",
		NeighborIP:     "10.137.2.1",
		NeighborMAC:    "FE-FF-FF-00-11-22",
	}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Kind != domain.RecordKindArp || rec.Arp == nil {
		t.Fatal("expected arp payload")
	}
	if rec.Arp.NeighborMAC != "feffff001122" {
		t.Errorf("expected canonical MAC feffff001122, got %s", rec.Arp.NeighborMAC)
	}
	if rec.Arp.NeighborIP.String() != "10.137.2.1" {
		t.Errorf("unexpected IP %s", rec.Arp.NeighborIP)
	}
	if rec.ID == "" {
		t.Error("expected computed observation ID")
	}
}

func TestNormalizeArpCanonicalizesMACSpellings(t *testing.T) {
	for _, spelling := range []string{"00:16:3e:5e:6c:06", "00-16-3E-5E-6C-06", "0016.3e5e.6c06"} {
		raw := domain.RawRecord{
			Kind:           domain.RecordKindArp,
			SourceHost:     "h",
			ObservedAt:     testTime,
			LocalInterface: "eth0",
			NeighborIP:     "10.0.0.1",
			NeighborMAC:    spelling,
		}
		rec, err := Normalize(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", spelling, err)
		}
		if rec.Arp.NeighborMAC != "00163e5e6c06" {
			t.Errorf("%s: got %s", spelling, rec.Arp.NeighborMAC)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	raw := domain.RawRecord{
		Kind:         domain.RecordKindRoute,
		SourceHost:   "ops-box",
		ObservedAt:   testTime,
		Destination:  "10.137.0.0/16",
		Gateway:      "10.137.4.1",
		OutInterface: "eth0",
		Metric:       2,
	}

	rec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Route.Destination.String() != "10.137.0.0/16" {
		t.Errorf("unexpected destination %s", rec.Route.Destination)
	}
	if rec.Route.Gateway.String() != "10.137.4.1" {
		t.Errorf("unexpected gateway %s", rec.Route.Gateway)
	}
}

func TestNormalizeRouteOnLink(t *testing.T) {
	for _, gw := range []string{"", "*", "0.0.0.0"} {
		raw := domain.RawRecord{
			Kind:        domain.RecordKindRoute,
			SourceHost:  "h",
			ObservedAt:  testTime,
			Destination: "192.168.1.0/24",
			Gateway:     gw,
		}
		rec, err := Normalize(raw)
		if err != nil {
			t.Fatalf("gateway %q: unexpected error: %v", gw, err)
		}
		if rec.Route.Gateway.IsValid() {
			t.Errorf("gateway %q: expected on-link route with zero gateway, got %s", gw, rec.Route.Gateway)
		}
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  domain.RawRecord
	}{
		{
			name: "bad neighbor IP",
			raw: domain.RawRecord{
				Kind: domain.RecordKindArp, SourceHost: "h", ObservedAt: testTime,
				LocalInterface: "eth0", NeighborIP: "10.0.0.256", NeighborMAC: "aa:bb:cc:dd:ee:ff",
			},
		},
		{
			name: "bad link address",
			raw: domain.RawRecord{
				Kind: domain.RecordKindArp, SourceHost: "h", ObservedAt: testTime,
				LocalInterface: "eth0", NeighborIP: "10.0.0.1", NeighborMAC: "not-a-mac",
			},
		},
		{
			name: "missing local interface",
			raw: domain.RawRecord{
				Kind: domain.RecordKindArp, SourceHost: "h", ObservedAt: testTime,
				NeighborIP: "10.0.0.1", NeighborMAC: "aa:bb:cc:dd:ee:ff",
			},
		},
		{
			name: "CIDR with host bits set",
			raw: domain.RawRecord{
				Kind: domain.RecordKindRoute, SourceHost: "h", ObservedAt: testTime,
				Destination: "10.0.0.5/24",
			},
		},
		{
			name: "bad destination",
			raw: domain.RawRecord{
				Kind: domain.RecordKindRoute, SourceHost: "h", ObservedAt: testTime,
				Destination: "not-a-cidr",
			},
		},
		{
			name: "bad gateway",
			raw: domain.RawRecord{
				Kind: domain.RecordKindRoute, SourceHost: "h", ObservedAt: testTime,
				Destination: "10.0.0.0/24", Gateway: "999.1.1.1",
			},
		},
		{
			name: "missing source host",
			raw: domain.RawRecord{
				Kind: domain.RecordKindArp, ObservedAt: testTime,
				LocalInterface: "eth0", NeighborIP: "10.0.0.1", NeighborMAC: "aa:bb:cc:dd:ee:ff",
			},
		},
		{
			name: "unknown kind",
			raw: domain.RawRecord{
				Kind: domain.RecordKind("traceroute"), SourceHost: "h", ObservedAt: testTime,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			if err == nil {
				t.Fatal("expected rejection, got nil error")
			}
			var nerr *domain.NormalizationError
			if !errors.As(err, &nerr) {
				t.Fatalf("expected NormalizationError, got %T", err)
			}
			if nerr.Reason == "" {
				t.Error("expected a reason")
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := domain.RawRecord{
		Kind: domain.RecordKindArp, SourceHost: "h", ObservedAt: testTime,
		LocalInterface: "eth0", NeighborIP: "10.0.0.1", NeighborMAC: "aa:bb:cc:dd:ee:ff",
	}
	a, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("normalizing the same record twice produced different IDs: %s vs %s", a.ID, b.ID)
	}
}
