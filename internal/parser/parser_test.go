package parser

import (
	"strings"
	"testing"

	"netfuse/internal/domain"
)

// ============================================================================
// Sample Dumps
// ============================================================================

const windowsArpDump = `
Interface: 10.137.2.16 --- 0x11
  Internet Address      Physical Address      Type
  10.137.2.1            fe-ff-ff-ff-ff-ff     dynamic
  10.137.2.5            00-16-3e-5e-6c-06     dynamic
  224.0.0.22            01-00-5e-00-00-16     static
`

const linuxArpDump = `Address                  HWtype  HWaddress           Flags Mask            Iface
10.137.1.8               ether   00:16:3e:5e:6c:06   C                     vif2.0
10.137.1.1               ether   fe:ff:ff:ff:ff:ff   C                     eth0
`

const openbsdArpDump = `Host                                 Ethernet Address   Netif Expire Flags
10.0.0.1                             aa:bb:cc:dd:ee:ff    em0 19m59s
10.0.0.7                             00:16:3e:00:11:22    em0 permanent l
`

const procfsArpDump = `IP address       HW type     Flags       HW address            Mask     Device
10.0.0.1         0x1         0x2         aa:bb:cc:dd:ee:01     *        eth0
10.0.0.9         0x1         0x0         00:00:00:00:00:00     *        eth0
`

const linuxRouteDump = `Kernel IP routing table
Destination     Gateway         Genmask         Flags Metric Ref    Use Iface
0.0.0.0         10.137.2.1      0.0.0.0         UG    0      0        0 eth0
10.137.2.0      0.0.0.0         255.255.255.0   U     1      0        0 eth0
`

const windowsRouteDump = `===========================================================================
Interface List
 17...00 16 3e 5e 6c 06 ......Intel(R) PRO/1000 MT
===========================================================================
IPv4 Route Table
===========================================================================
Active Routes:
Network Destination        Netmask          Gateway       Interface  Metric
          0.0.0.0          0.0.0.0       10.137.2.1      10.137.2.16     10
       10.137.2.0    255.255.255.0          On-link       10.137.2.16    266
===========================================================================
`

const procfsRouteDump = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	00000000	0102890A	0003	0	0	100	00000000	0	0	0
eth0	0002890A	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

// ============================================================================
// Test Helpers
// ============================================================================

func parseAs(t *testing.T, dumpType, os, dump string) []domain.RawRecord {
	t.Helper()
	parse, ok := Lookup(dumpType, os)
	if !ok {
		t.Fatalf("no parser registered for (%s, %s)", dumpType, os)
	}
	records, err := parse(strings.NewReader(dump))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return records
}

func assertGuess(t *testing.T, dump, wantType, wantOS string) {
	t.Helper()
	gotType, gotOS, err := Guess(strings.NewReader(dump))
	if err != nil {
		t.Fatalf("guess failed: %v", err)
	}
	if gotType != wantType || gotOS != wantOS {
		t.Fatalf("guessed (%s, %s), want (%s, %s)", gotType, gotOS, wantType, wantOS)
	}
}

// ============================================================================
// Format Guessing
// ============================================================================

func TestGuess(t *testing.T) {
	assertGuess(t, windowsArpDump, "arp", "windows")
	assertGuess(t, linuxArpDump, "arp", "linux")
	assertGuess(t, openbsdArpDump, "arp", "openbsd")
	assertGuess(t, procfsArpDump, "arp", "procfs")
	assertGuess(t, linuxRouteDump, "route", "linux")
	assertGuess(t, windowsRouteDump, "route", "windows")
	assertGuess(t, procfsRouteDump, "route", "procfs")
}

func TestGuessUnrecognized(t *testing.T) {
	if _, _, err := Guess(strings.NewReader("nothing to see here\n")); err == nil {
		t.Fatal("expected an error for an unrecognizable dump")
	}
}

// ============================================================================
// ARP Parsers
// ============================================================================

func TestParseWindowsArp(t *testing.T) {
	records := parseAs(t, "arp", "windows", windowsArpDump)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	first := records[0]
	if first.LocalInterface != "10.137.2.16" {
		t.Errorf("local interface: got %q", first.LocalInterface)
	}
	if first.NeighborIP != "10.137.2.1" || first.NeighborMAC != "fe-ff-ff-ff-ff-ff" {
		t.Errorf("neighbor: got %q / %q", first.NeighborIP, first.NeighborMAC)
	}
	if first.Kind != domain.RecordKindArp {
		t.Errorf("kind: got %q", first.Kind)
	}
}

func TestParseWindowsArpRowBeforeBanner(t *testing.T) {
	parse, _ := Lookup("arp", "windows")
	_, err := parse(strings.NewReader("  10.137.2.1            fe-ff-ff-ff-ff-ff     dynamic\n"))
	if err == nil {
		t.Fatal("expected an error for a row without an Interface banner")
	}
}

func TestParseLinuxArp(t *testing.T) {
	records := parseAs(t, "arp", "linux", linuxArpDump)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].LocalInterface != "vif2.0" {
		t.Errorf("local interface: got %q", records[0].LocalInterface)
	}
	if records[0].NeighborIP != "10.137.1.8" || records[0].NeighborMAC != "00:16:3e:5e:6c:06" {
		t.Errorf("neighbor: got %q / %q", records[0].NeighborIP, records[0].NeighborMAC)
	}
}

func TestParseOpenBSDArp(t *testing.T) {
	records := parseAs(t, "arp", "openbsd", openbsdArpDump)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].LocalInterface != "em0" || records[0].NeighborMAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("unexpected first record: %+v", records[0])
	}
}

func TestParseProcfsArpSkipsIncomplete(t *testing.T) {
	records := parseAs(t, "arp", "procfs", procfsArpDump)
	if len(records) != 1 {
		t.Fatalf("expected the zero-MAC entry skipped, got %d records", len(records))
	}
	if records[0].NeighborIP != "10.0.0.1" {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

// ============================================================================
// Route Parsers
// ============================================================================

func TestParseLinuxRoute(t *testing.T) {
	records := parseAs(t, "route", "linux", linuxRouteDump)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	def := records[0]
	if def.Destination != "0.0.0.0/0" || def.Gateway != "10.137.2.1" || def.OutInterface != "eth0" {
		t.Errorf("default route: %+v", def)
	}

	onlink := records[1]
	if onlink.Destination != "10.137.2.0/24" || onlink.Gateway != "0.0.0.0" {
		t.Errorf("on-link route: %+v", onlink)
	}
	if onlink.Metric != 1 {
		t.Errorf("metric: got %d", onlink.Metric)
	}
}

func TestParseWindowsRoute(t *testing.T) {
	records := parseAs(t, "route", "windows", windowsRouteDump)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	def := records[0]
	if def.Destination != "0.0.0.0/0" || def.Gateway != "10.137.2.1" {
		t.Errorf("default route: %+v", def)
	}
	if def.OutInterface != "10.137.2.16" || def.Metric != 10 {
		t.Errorf("default route egress: %+v", def)
	}

	if records[1].Gateway != "" {
		t.Errorf("On-link gateway should be empty, got %q", records[1].Gateway)
	}
}

func TestParseProcfsRoute(t *testing.T) {
	records := parseAs(t, "route", "procfs", procfsRouteDump)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	def := records[0]
	if def.Destination != "0.0.0.0/0" || def.Gateway != "10.137.2.1" {
		t.Errorf("default route: %+v", def)
	}

	onlink := records[1]
	if onlink.Destination != "10.137.2.0/24" || onlink.Gateway != "" {
		t.Errorf("on-link route: %+v", onlink)
	}
}
