package domain

import "time"

// IngestOptions tunes one ingest call.
type IngestOptions struct {
	// ForceRecreate drops and rebuilds the store before ingesting. For
	// development and test use.
	ForceRecreate bool `json:"force_recreate,omitempty"`
	// DryRun runs the full normalize/resolve/fuse pass and produces a
	// complete report without touching the store.
	DryRun bool `json:"dry_run,omitempty"`
	// Trust overrides the trust level attached to every record in the
	// batch. Empty means TrustNormal.
	Trust TrustLevel `json:"trust,omitempty"`
}

// MergeReport enumerates everything one ingest call did: counts, every
// rejected record, every identity conflict raised, and the entities the batch
// created. Partial rejection is not a failure; the operator reads the report
// and fixes the source dump.
type MergeReport struct {
	BatchID    string    `json:"batch_id"`
	SourceHost string    `json:"source_host"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
	DryRun     bool      `json:"dry_run,omitempty"`

	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
	Errors   []NormalizationError `json:"errors,omitempty"`

	NewHosts      []string     `json:"new_hosts,omitempty"`
	NewInterfaces []string     `json:"new_interfaces,omitempty"`
	NewLinks      []string     `json:"new_links,omitempty"`
	Conflicts     []IPConflict `json:"conflicts,omitempty"`
	Merges        []HostMerge  `json:"merges,omitempty"`
}
