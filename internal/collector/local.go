package collector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"netfuse/internal/domain"
	"netfuse/internal/parser"
)

// Local reads the local host's own ARP and routing tables from procfs.
// Self-observation is the highest-trust evidence the engine gets; the caller
// ingests these records with TrustHigh.
type Local struct {
	// ArpPath and RoutePath default to the procfs tables and exist so
	// tests can point at fixtures.
	ArpPath   string
	RoutePath string
	// Hostname overrides os.Hostname as the source identity.
	Hostname string
}

// NewLocal creates a collector for the local host's tables.
func NewLocal() *Local {
	return &Local{
		ArpPath:   "/proc/net/arp",
		RoutePath: "/proc/net/route",
	}
}

// Name identifies the collector.
func (l *Local) Name() string { return "local" }

// Collect parses both procfs tables.
func (l *Local) Collect(ctx context.Context) ([]domain.RawRecord, error) {
	source := l.Hostname
	if source == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve local hostname: %w", err)
		}
		source = name
	}
	now := time.Now()

	var records []domain.RawRecord
	for _, table := range []struct {
		path     string
		dumpType string
	}{
		{l.ArpPath, "arp"},
		{l.RoutePath, "route"},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(table.path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table.path, err)
		}
		parse, ok := parser.Lookup(table.dumpType, "procfs")
		if !ok {
			return nil, fmt.Errorf("no procfs parser for %s", table.dumpType)
		}
		parsed, err := parse(strings.NewReader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", table.path, err)
		}
		records = append(records, parsed...)
	}

	for i := range records {
		records[i].SourceHost = source
		records[i].ObservedAt = now
	}
	return records, nil
}
