package repository

import (
	"context"
	"time"

	"netfuse/internal/domain"
)

// Batch is the unit of atomic application: every entity one ingest batch
// touched, fully merged and ready to upsert. Absorbed hosts appear in Hosts
// with MergedInto set; nothing is ever deleted.
type Batch struct {
	Hosts        []domain.Host
	Interfaces   []domain.Interface
	Links        []domain.Link
	Observations []domain.ObservationRecord
	Conflicts    []domain.IPConflict
	Merges       []domain.HostMerge
}

// Empty reports whether the batch carries no mutations.
func (b *Batch) Empty() bool {
	return len(b.Hosts) == 0 && len(b.Interfaces) == 0 && len(b.Links) == 0 &&
		len(b.Observations) == 0 && len(b.Conflicts) == 0 && len(b.Merges) == 0
}

// Store is the graph store contract. Implementations must make ApplyBatch
// atomic and classify failures per domain.StoreError.
type Store interface {
	// Read operations
	GetGraph(ctx context.Context, filter domain.GraphFilter) (*domain.Graph, error)
	GetHost(ctx context.Context, id string) (*domain.Host, error)
	GetInterface(ctx context.Context, id string) (*domain.Interface, error)
	GetLink(ctx context.Context, id string) (*domain.Link, error)
	ListInterfacesByHost(ctx context.Context, hostID string) ([]domain.Interface, error)
	ListLinksByEndpoint(ctx context.Context, entityID string) ([]domain.Link, error)
	ListConflicts(ctx context.Context) ([]domain.IPConflict, error)

	// Write operations
	ApplyBatch(ctx context.Context, batch *Batch) error
	// MarkStaleLinks demotes confirmed links last corroborated before the
	// cutoff and returns the affected link IDs.
	MarkStaleLinks(ctx context.Context, cutoff time.Time) ([]string, error)
	// Recreate drops all data and rebuilds the schema. Development and
	// test use only.
	Recreate(ctx context.Context) error

	// Close releases resources
	Close() error
}
