// Package collector gathers raw records from live sources instead of dump
// files: the local host's own tables, an nmap ARP sweep, or remote hosts
// over SSH. Collectors produce the same RawRecords the dump parsers do, so
// everything downstream treats them identically.
package collector

import (
	"context"

	"netfuse/internal/domain"
)

// Collector produces one batch of raw records from a live source.
type Collector interface {
	// Name identifies the collector in logs and reports.
	Name() string
	// Collect gathers records. The SourceHost field is set on every
	// record; observation times default to collection time.
	Collect(ctx context.Context) ([]domain.RawRecord, error)
}
