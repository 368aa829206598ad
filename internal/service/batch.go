package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"netfuse/internal/domain"
	"netfuse/internal/identity"
	"netfuse/internal/repository"
)

// batchState accumulates the entities one ingest batch touches. Entities are
// loaded from the store on first touch, mutated in memory, and written back as
// one atomic repository.Batch.
type batchState struct {
	svc      *Service
	resolver *identity.Resolver
	now      time.Time

	hosts     map[string]*domain.Host
	ifaces    map[string]*domain.Interface
	links     map[string]*domain.Link
	obs       map[string]domain.ObservationRecord
	conflicts map[string]*domain.IPConflict
	merges    []domain.HostMerge

	newHosts  map[string]struct{}
	newIfaces map[string]struct{}
	newLinks  map[string]struct{}
}

func newBatchState(svc *Service, resolver *identity.Resolver, now time.Time) *batchState {
	return &batchState{
		svc:       svc,
		resolver:  resolver,
		now:       now,
		hosts:     make(map[string]*domain.Host),
		ifaces:    make(map[string]*domain.Interface),
		links:     make(map[string]*domain.Link),
		obs:       make(map[string]domain.ObservationRecord),
		conflicts: make(map[string]*domain.IPConflict),
		newHosts:  make(map[string]struct{}),
		newIfaces: make(map[string]struct{}),
		newLinks:  make(map[string]struct{}),
	}
}

// host returns the staged host, loading it from the store on first touch.
// A nil host with nil error means the host does not exist anywhere yet.
func (b *batchState) host(ctx context.Context, id string) (*domain.Host, error) {
	if h, ok := b.hosts[id]; ok {
		return h, nil
	}
	h, err := b.svc.store.GetHost(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load host %s: %w", id, err)
	}
	b.hosts[id] = h
	return h, nil
}

func (b *batchState) ensureHost(ctx context.Context, id string, kind domain.HostKind, at time.Time) (*domain.Host, error) {
	h, err := b.host(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = domain.NewHost(id, kind, at)
		b.hosts[id] = h
		b.newHosts[id] = struct{}{}
	}
	return h, nil
}

func (b *batchState) iface(ctx context.Context, id string) (*domain.Interface, error) {
	if i, ok := b.ifaces[id]; ok {
		return i, nil
	}
	i, err := b.svc.store.GetInterface(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load interface %s: %w", id, err)
	}
	b.ifaces[id] = i
	return i, nil
}

// ensureInterface stages the interface behind a resolution, creating it when
// the resolver saw the identifier for the first time. The host assignment
// always tracks the resolver's current cluster so earlier merges stick.
func (b *batchState) ensureInterface(ctx context.Context, res identity.Resolution, name, mac string, placeholder bool, at time.Time) (*domain.Interface, error) {
	iface, err := b.iface(ctx, res.InterfaceID)
	if err != nil {
		return nil, err
	}
	if iface == nil {
		iface = domain.NewInterface(res.InterfaceID, res.HostID, at)
		iface.Name = name
		iface.MAC = mac
		iface.Placeholder = placeholder
		b.ifaces[res.InterfaceID] = iface
		b.newIfaces[res.InterfaceID] = struct{}{}
	}
	if host := b.resolver.HostOf(res.InterfaceID); host != "" {
		iface.HostID = host
	}
	return iface, nil
}

func (b *batchState) link(ctx context.Context, id string) (*domain.Link, error) {
	if l, ok := b.links[id]; ok {
		return l, nil
	}
	l, err := b.svc.store.GetLink(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load link %s: %w", id, err)
	}
	b.links[id] = l
	return l, nil
}

// observeLink folds one observation into a link and re-derives its confidence
// and status from the widened evidence set.
func (b *batchState) observeLink(l *domain.Link, rec *domain.ObservationRecord) {
	l.Observe(rec.ID, rec.ObservedAt)
	if rec.Trust == domain.TrustHigh {
		l.HighTrust = true
	}
	b.svc.refreshLink(l, b.now)
}

// claim records IP ownership evidence in the resolver and materializes its
// consequences: conflict annotations on every disputing interface and host
// merges when the claim resolves a gateway placeholder.
func (b *batchState) claim(ctx context.Context, ifaceID, ip string, rec *domain.ObservationRecord) error {
	result := b.resolver.ClaimIP(ifaceID, ip, rec.ID, rec.ObservedAt)

	if result.Conflict != nil {
		b.conflicts[result.Conflict.ID] = result.Conflict
		for _, partyID := range result.Conflict.InterfaceIDs {
			party, err := b.iface(ctx, partyID)
			if err != nil {
				return err
			}
			if party == nil {
				continue
			}
			for _, otherID := range result.Conflict.InterfaceIDs {
				if otherID != partyID {
					party.MarkIPConflict(ip, otherID)
				}
			}
		}
	}

	for _, merge := range result.Merges {
		if err := b.materializeMerge(ctx, merge); err != nil {
			return err
		}
	}
	return nil
}

// materializeMerge applies one identity-layer host merge to the entity graph:
// the absorbed host keeps its row but points at the survivor, its interfaces
// move over, and every edge touching it is rewired.
func (b *batchState) materializeMerge(ctx context.Context, merge domain.HostMerge) error {
	survivor, err := b.ensureHost(ctx, merge.SurvivorID, domain.HostKindMachine, merge.MergedAt)
	if err != nil {
		return err
	}
	absorbed, err := b.ensureHost(ctx, merge.AbsorbedID, domain.HostKindGateway, merge.MergedAt)
	if err != nil {
		return err
	}
	absorbed.MergedInto = merge.SurvivorID

	// Reassign interfaces, both persisted and staged.
	stored, err := b.svc.store.ListInterfacesByHost(ctx, merge.AbsorbedID)
	if err != nil {
		return fmt.Errorf("list interfaces of %s: %w", merge.AbsorbedID, err)
	}
	for i := range stored {
		if _, err := b.iface(ctx, stored[i].ID); err != nil {
			return err
		}
	}
	for _, iface := range b.ifaces {
		if iface.HostID != merge.AbsorbedID {
			continue
		}
		// Placeholder interfaces stay behind on the absorbed row. Grafting
		// them onto the survivor would make its interface set depend on
		// whether route evidence arrived before the resolving claim.
		if iface.Placeholder {
			continue
		}
		iface.HostID = merge.SurvivorID
		survivor.AddInterface(iface.ID)
		absorbed.RemoveInterface(iface.ID)
	}

	// Rewire edges. Only route links carry host endpoints.
	linked, err := b.svc.store.ListLinksByEndpoint(ctx, merge.AbsorbedID)
	if err != nil {
		return fmt.Errorf("list links of %s: %w", merge.AbsorbedID, err)
	}
	for i := range linked {
		if _, err := b.link(ctx, linked[i].ID); err != nil {
			return err
		}
	}
	for _, l := range b.links {
		if l.FromID == merge.AbsorbedID {
			l.FromID = merge.SurvivorID
		}
		if l.ToID == merge.AbsorbedID {
			l.ToID = merge.SurvivorID
		}
	}

	if merge.ObservationID != "" {
		survivor.Observe(merge.ObservationID, merge.MergedAt)
	}
	b.merges = append(b.merges, merge)
	return nil
}

// build freezes the staged state into an atomic batch.
func (b *batchState) build() *repository.Batch {
	batch := &repository.Batch{}
	for _, h := range b.hosts {
		batch.Hosts = append(batch.Hosts, *h)
	}
	for _, i := range b.ifaces {
		batch.Interfaces = append(batch.Interfaces, *i)
	}
	for _, l := range b.links {
		batch.Links = append(batch.Links, *l)
	}
	for _, o := range b.obs {
		batch.Observations = append(batch.Observations, o)
	}
	for _, c := range b.conflicts {
		batch.Conflicts = append(batch.Conflicts, *c)
	}
	batch.Merges = b.merges

	sort.Slice(batch.Hosts, func(i, j int) bool { return batch.Hosts[i].ID < batch.Hosts[j].ID })
	sort.Slice(batch.Interfaces, func(i, j int) bool { return batch.Interfaces[i].ID < batch.Interfaces[j].ID })
	sort.Slice(batch.Links, func(i, j int) bool { return batch.Links[i].ID < batch.Links[j].ID })
	sort.Slice(batch.Observations, func(i, j int) bool { return batch.Observations[i].ID < batch.Observations[j].ID })
	sort.Slice(batch.Conflicts, func(i, j int) bool { return batch.Conflicts[i].ID < batch.Conflicts[j].ID })
	return batch
}

func (b *batchState) conflictList() []domain.IPConflict {
	out := make([]domain.IPConflict, 0, len(b.conflicts))
	for _, c := range b.conflicts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
