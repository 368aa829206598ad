package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"netfuse/internal/domain"
	"netfuse/internal/identity"
	"netfuse/internal/normalize"
	"netfuse/internal/repository"
)

// Options tunes the fusion engine. The zero value gets sensible defaults.
type Options struct {
	// StalenessWindow is how long a confirmed link survives without fresh
	// corroboration before it is demoted to stale.
	StalenessWindow time.Duration
	// SweepInterval is how often RunSweeper persists staleness demotions.
	SweepInterval time.Duration

	// AdjacencyBase and RouteBase are the single-observation confidence of
	// each link kind. Confidence grows toward 1 with corroboration but the
	// two kinds remain independent tracks.
	AdjacencyBase float64
	RouteBase     float64

	// TxTimeout bounds one store transaction attempt.
	TxTimeout time.Duration
	// RetryAttempts and RetryInterval shape the backoff applied to
	// transient store failures.
	RetryAttempts uint64
	RetryInterval time.Duration

	// Aliases are operator-supplied identity assertions: each group lists
	// identifiers (MAC, IP or source-host name) known to be one machine.
	Aliases [][]string
}

func (o *Options) applyDefaults() {
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = 72 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	if o.AdjacencyBase <= 0 {
		o.AdjacencyBase = 0.5
	}
	if o.RouteBase <= 0 {
		o.RouteBase = 0.35
	}
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 4
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 200 * time.Millisecond
	}
}

// Service is the fusion engine facade: ingest, query, sweep.
type Service struct {
	store    repository.Store
	resolver *identity.Resolver
	bus      *EventBus
	opts     Options
	locks    *lockTable

	// stateMu guards the resolver pointer, which Recreate swaps out.
	stateMu sync.RWMutex

	now func() time.Time
}

// New builds a service over an opened store, restoring the identity mapping
// from the persisted graph and applying configured aliases.
func New(ctx context.Context, store repository.Store, bus *EventBus, opts Options) (*Service, error) {
	opts.applyDefaults()
	if bus == nil {
		bus = NewEventBus()
	}
	s := &Service{
		store:    store,
		resolver: identity.NewResolver(),
		bus:      bus,
		opts:     opts,
		locks:    newLockTable(),
		now:      time.Now,
	}

	snapshot, err := store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
	if err != nil {
		return nil, fmt.Errorf("restore identity state: %w", err)
	}
	s.resolver.Restore(snapshot)

	if err := s.applyAliases(ctx, s.resolver); err != nil {
		return nil, fmt.Errorf("apply aliases: %w", err)
	}
	return s, nil
}

// Bus exposes the event bus for subscribers.
func (s *Service) Bus() *EventBus {
	return s.bus
}

// Ingest runs one batch of raw records through the full pipeline: normalize,
// resolve identities, fuse into entities, apply atomically. Malformed records
// are skipped and reported; they never fail the batch.
func (s *Service) Ingest(ctx context.Context, sourceHost string, raws []domain.RawRecord, opts domain.IngestOptions) (*domain.MergeReport, error) {
	started := s.now()
	report := &domain.MergeReport{
		BatchID:    uuid.NewString(),
		SourceHost: sourceHost,
		StartedAt:  started,
		DryRun:     opts.DryRun,
	}

	if opts.ForceRecreate && !opts.DryRun {
		if err := s.recreate(ctx); err != nil {
			return nil, err
		}
	}

	records := make([]domain.ObservationRecord, 0, len(raws))
	for _, raw := range raws {
		if raw.SourceHost == "" {
			raw.SourceHost = sourceHost
		}
		if raw.ObservedAt.IsZero() {
			raw.ObservedAt = started
		}
		rec, err := normalize.Normalize(raw)
		if err != nil {
			nerr, ok := err.(*domain.NormalizationError)
			if !ok {
				return nil, err
			}
			report.Rejected++
			report.Errors = append(report.Errors, *nerr)
			continue
		}
		if opts.Trust != "" {
			rec.Trust = opts.Trust
		}
		records = append(records, rec)
	}
	report.Accepted = len(records)

	if len(records) == 0 {
		report.Duration = s.now().Sub(started).String()
		return report, nil
	}

	release := s.locks.acquire(lockKeys(records))
	defer release()

	s.stateMu.RLock()
	resolver := s.resolver
	s.stateMu.RUnlock()

	if opts.DryRun {
		// A dry run must leave no identity state behind, so it fuses
		// against a throwaway resolver rebuilt from the store.
		snapshot, err := s.store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true, IncludeMerged: true})
		if err != nil {
			return nil, fmt.Errorf("snapshot for dry run: %w", err)
		}
		resolver = identity.NewResolver()
		resolver.Restore(snapshot)
	}

	b := newBatchState(s, resolver, started)
	for i := range records {
		rec := &records[i]
		if _, dup := b.obs[rec.ID]; dup {
			continue
		}
		b.obs[rec.ID] = *rec

		var err error
		switch rec.Kind {
		case domain.RecordKindArp:
			err = b.fuseArp(ctx, rec)
		case domain.RecordKindRoute:
			err = b.fuseRoute(ctx, rec)
		}
		if err != nil {
			return report, err
		}
	}

	report.Conflicts = b.conflictList()
	report.Merges = b.merges
	report.NewHosts = sortedSet(b.newHosts)
	report.NewInterfaces = sortedSet(b.newIfaces)
	report.NewLinks = sortedSet(b.newLinks)
	report.Duration = s.now().Sub(started).String()

	if opts.DryRun {
		return report, nil
	}

	batch := b.build()
	if err := s.withRetry(ctx, func(cctx context.Context) error {
		return s.store.ApplyBatch(cctx, batch)
	}); err != nil {
		return report, fmt.Errorf("apply batch: %w", err)
	}

	s.bus.Publish(Event{Type: EventBatchApplied, Payload: report})
	for _, c := range report.Conflicts {
		s.bus.Publish(Event{Type: EventConflictRaised, Payload: c})
	}
	for _, m := range report.Merges {
		s.bus.Publish(Event{Type: EventHostsMerged, Payload: m})
	}
	return report, nil
}

// GetGraph returns a snapshot, deriving staleness lazily so a confirmed link
// past the window reads as stale even before a sweep persists the demotion.
func (s *Service) GetGraph(ctx context.Context, filter domain.GraphFilter) (*domain.Graph, error) {
	g, err := s.store.GetGraph(ctx, filter)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-s.opts.StalenessWindow)
	kept := g.Links[:0]
	for _, l := range g.Links {
		if l.Status == domain.LinkStatusConfirmed && l.LastSeen.Before(cutoff) {
			l.Status = domain.LinkStatusStale
			if !filter.IncludeStale {
				continue
			}
		}
		kept = append(kept, l)
	}
	g.Links = kept

	// The topology view hides synthetic placeholder interfaces along with
	// merged hosts; provenance views keep both.
	if !filter.IncludeMerged {
		ifaces := g.Interfaces[:0]
		for _, iface := range g.Interfaces {
			if iface.Placeholder {
				continue
			}
			ifaces = append(ifaces, iface)
		}
		g.Interfaces = ifaces
	}
	g.Sort()
	return g, nil
}

// HostView is one host with its interfaces and the links touching it.
type HostView struct {
	Host       domain.Host        `json:"host"`
	Interfaces []domain.Interface `json:"interfaces,omitempty"`
	Links      []domain.Link      `json:"links,omitempty"`
}

// DescribeHost looks a host up by ID, or by display label when no ID matches.
func (s *Service) DescribeHost(ctx context.Context, idOrLabel string) (*HostView, error) {
	host, err := s.store.GetHost(ctx, idOrLabel)
	if errors.Is(err, domain.ErrNotFound) {
		host, err = s.findHostByLabel(ctx, idOrLabel)
	}
	if err != nil {
		return nil, err
	}

	view := &HostView{Host: *host}
	if view.Interfaces, err = s.store.ListInterfacesByHost(ctx, host.ID); err != nil {
		return nil, err
	}

	endpoints := []string{host.ID}
	for _, iface := range view.Interfaces {
		endpoints = append(endpoints, iface.ID)
	}
	seen := make(map[string]struct{})
	for _, ep := range endpoints {
		links, err := s.store.ListLinksByEndpoint(ctx, ep)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if _, ok := seen[l.ID]; ok {
				continue
			}
			seen[l.ID] = struct{}{}
			view.Links = append(view.Links, l)
		}
	}
	return view, nil
}

func (s *Service) findHostByLabel(ctx context.Context, label string) (*domain.Host, error) {
	g, err := s.store.GetGraph(ctx, domain.GraphFilter{IncludeStale: true})
	if err != nil {
		return nil, err
	}
	for i := range g.Hosts {
		for _, l := range g.Hosts[i].Labels {
			if l.Value == label {
				return &g.Hosts[i], nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// Conflicts returns every IP conflict annotation on record.
func (s *Service) Conflicts(ctx context.Context) ([]domain.IPConflict, error) {
	return s.store.ListConflicts(ctx)
}

// recreate drops the store and resets the identity mapping.
func (s *Service) recreate(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if err := s.withRetry(ctx, s.store.Recreate); err != nil {
		return fmt.Errorf("recreate store: %w", err)
	}
	s.resolver = identity.NewResolver()
	if err := s.applyAliases(ctx, s.resolver); err != nil {
		return fmt.Errorf("apply aliases: %w", err)
	}
	s.bus.Publish(Event{Type: EventGraphRecreated})
	return nil
}

// applyAliases folds configured identity assertions into the resolver and
// persists any host merges they produce. Each alias group unions every
// resolvable identifier with the group's first.
func (s *Service) applyAliases(ctx context.Context, resolver *identity.Resolver) error {
	now := s.now()
	b := newBatchState(s, resolver, now)

	for _, group := range s.opts.Aliases {
		var anchor string
		for _, token := range group {
			res, name, mac, ok := resolveAliasToken(resolver, token)
			if !ok {
				log.Printf("alias: no known interface for %q, skipping", token)
				continue
			}
			if _, err := b.ensureInterface(ctx, res, name, mac, false, now); err != nil {
				return err
			}
			if anchor == "" {
				anchor = res.InterfaceID
				continue
			}
			if merge, merged := resolver.Union(anchor, res.InterfaceID, "alias", "", now); merged {
				if err := b.materializeMerge(ctx, merge); err != nil {
					return err
				}
			}
		}
	}

	if len(b.merges) == 0 {
		return nil
	}
	return s.withRetry(ctx, func(cctx context.Context) error {
		return s.store.ApplyBatch(cctx, b.build())
	})
}

// resolveAliasToken maps one alias identifier to an interface resolution.
// MAC spellings resolve by link address, IPs by their current owner, and
// anything else is treated as a dump source name.
func resolveAliasToken(resolver *identity.Resolver, token string) (res identity.Resolution, name, mac string, ok bool) {
	if mac, err := normalize.CanonicalMAC(token); err == nil {
		return resolver.ResolveLinkInterface(mac), "", mac, true
	}
	if addr, err := netip.ParseAddr(token); err == nil {
		owner, found := resolver.CurrentOwner(addr.Unmap().String())
		if !found {
			return identity.Resolution{}, "", "", false
		}
		return identity.Resolution{InterfaceID: owner, HostID: resolver.HostOf(owner)}, "", "", true
	}
	return resolver.ResolveNamedInterface(token, "self"), "self", "", true
}

// withRetry runs one store operation under the transaction timeout, retrying
// transient failures with exponential backoff.
func (s *Service) withRetry(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryInterval

	return backoff.Retry(func() error {
		cctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
		defer cancel()

		err := op(cctx)
		if err == nil {
			return nil
		}
		if domain.IsTransientStoreError(err) {
			log.Printf("store busy, retrying: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.opts.RetryAttempts), ctx))
}

// refreshLink re-derives confidence and status from the link's evidence.
// Confidence is 1-(1-base)^n over n distinct observations; a link confirms on
// a second corroboration or any high-trust one, and reads stale once its last
// corroboration falls outside the window.
func (s *Service) refreshLink(l *domain.Link, now time.Time) {
	base := s.opts.AdjacencyBase
	if l.Kind == domain.LinkKindRoute {
		base = s.opts.RouteBase
	}
	n := l.Corroborations()
	l.Confidence = 1 - math.Pow(1-base, float64(n))

	switch {
	case n < 2 && !l.HighTrust:
		l.Status = domain.LinkStatusProposed
	case l.LastSeen.Before(now.Add(-s.opts.StalenessWindow)):
		l.Status = domain.LinkStatusStale
	default:
		l.Status = domain.LinkStatusConfirmed
	}
}

