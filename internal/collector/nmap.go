package collector

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"netfuse/internal/domain"
)

// Nmap discovers L2 neighbors with an nmap ping sweep. On a local segment
// nmap resolves answering hosts to their MAC addresses, which is exactly the
// evidence an ARP dump carries.
type Nmap struct {
	targets []string
	timeout time.Duration
	// hostname overrides os.Hostname as the source identity.
	hostname string
}

// NewNmap creates a sweep collector for the given CIDR targets.
func NewNmap(targets []string, timeout time.Duration) *Nmap {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Nmap{targets: targets, timeout: timeout}
}

// Name identifies the collector.
func (n *Nmap) Name() string { return "nmap" }

// Collect sweeps every target and emits one ARP record per answering host
// that exposed a MAC address.
func (n *Nmap) Collect(ctx context.Context) ([]domain.RawRecord, error) {
	if len(n.targets) == 0 {
		return nil, fmt.Errorf("no sweep targets configured")
	}
	source := n.hostname
	if source == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve local hostname: %w", err)
		}
		source = name
	}

	cctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(
		cctx,
		nmap.WithTargets(n.targets...),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	log.Printf("Nmap: sweeping %v", n.targets)
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("sweep failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("Nmap: warnings: %v", *warnings)
	}

	now := time.Now()
	var records []domain.RawRecord
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		var ip, mac string
		for _, addr := range host.Addresses {
			switch addr.AddrType {
			case "ipv4":
				ip = addr.Addr
			case "mac":
				mac = addr.Addr
			}
		}
		// Hosts beyond the local segment answer without a MAC; they
		// carry no link-layer evidence and are skipped.
		if ip == "" || mac == "" {
			continue
		}
		records = append(records, domain.RawRecord{
			Kind:           domain.RecordKindArp,
			SourceHost:     source,
			ObservedAt:     now,
			LocalInterface: "sweep",
			NeighborIP:     ip,
			NeighborMAC:    mac,
		})
	}

	log.Printf("Nmap: %d neighbors with link addresses", len(records))
	return records, nil
}
