package service

import (
	"context"
	"net/netip"

	"netfuse/internal/domain"
)

// fuseArp merges one ARP observation into the graph. The reporting host gains
// a named local interface; the neighbor becomes a MAC-keyed interface holding
// the neighbor IP; an adjacency edge connects the two.
func (b *batchState) fuseArp(ctx context.Context, rec *domain.ObservationRecord) error {
	arp := rec.Arp
	at := rec.ObservedAt

	localRes := b.resolver.ResolveNamedInterface(rec.SourceHost, arp.LocalInterface)
	localIface, err := b.ensureInterface(ctx, localRes, arp.LocalInterface, "", false, at)
	if err != nil {
		return err
	}
	localIface.Observe(rec.ID, at)

	srcHost, err := b.ensureHost(ctx, localIface.HostID, domain.HostKindMachine, at)
	if err != nil {
		return err
	}
	srcHost.AddLabel(rec.SourceHost, rec.ID)
	srcHost.AddInterface(localRes.InterfaceID)
	srcHost.Observe(rec.ID, at)

	// Windows dumps name the local interface by its IP. That spelling is
	// ownership evidence: it lets routes through this IP resolve to the
	// reporting host instead of a placeholder.
	if addr, perr := netip.ParseAddr(arp.LocalInterface); perr == nil {
		ip := addr.Unmap().String()
		localIface.ClaimIP(ip, rec.ID, at)
		if err := b.claim(ctx, localRes.InterfaceID, ip, rec); err != nil {
			return err
		}
	}

	nbrRes := b.resolver.ResolveLinkInterface(arp.NeighborMAC)
	nbrIface, err := b.ensureInterface(ctx, nbrRes, "", arp.NeighborMAC, false, at)
	if err != nil {
		return err
	}
	nbrIP := arp.NeighborIP.String()
	nbrIface.ClaimIP(nbrIP, rec.ID, at)
	nbrIface.Observe(rec.ID, at)
	if err := b.claim(ctx, nbrRes.InterfaceID, nbrIP, rec); err != nil {
		return err
	}

	nbrHost, err := b.ensureHost(ctx, nbrIface.HostID, domain.HostKindMachine, at)
	if err != nil {
		return err
	}
	nbrHost.AddLabel(nbrIP, rec.ID)
	nbrHost.AddInterface(nbrRes.InterfaceID)
	nbrHost.Observe(rec.ID, at)

	id := domain.AdjacencyID(localRes.InterfaceID, nbrRes.InterfaceID)
	l, err := b.link(ctx, id)
	if err != nil {
		return err
	}
	if l == nil {
		l = domain.NewAdjacency(localRes.InterfaceID, nbrRes.InterfaceID, at)
		b.links[id] = l
		b.newLinks[id] = struct{}{}
	}
	b.observeLink(l, rec)
	return nil
}

// fuseRoute merges one routing observation into the graph. A route with a
// gateway becomes an edge toward the host currently owning the gateway IP, or
// toward a placeholder when nothing owns it yet. An on-link route points at a
// network node instead.
func (b *batchState) fuseRoute(ctx context.Context, rec *domain.ObservationRecord) error {
	rt := rec.Route
	at := rec.ObservedAt

	outName := rt.OutInterface
	if outName == "" {
		outName = "unknown"
	}
	localRes := b.resolver.ResolveNamedInterface(rec.SourceHost, outName)
	localIface, err := b.ensureInterface(ctx, localRes, outName, "", false, at)
	if err != nil {
		return err
	}
	localIface.Observe(rec.ID, at)

	srcHost, err := b.ensureHost(ctx, localIface.HostID, domain.HostKindMachine, at)
	if err != nil {
		return err
	}
	srcHost.AddLabel(rec.SourceHost, rec.ID)
	srcHost.AddInterface(localRes.InterfaceID)
	srcHost.Observe(rec.ID, at)

	fromHost := localIface.HostID
	network := rt.Destination.String()

	var toHost, gateway string
	if rt.Gateway.IsValid() {
		gateway = rt.Gateway.String()
		if owner, ok := b.resolver.ResolveGatewayHost(gateway); ok {
			toHost = owner
		} else {
			phRes := b.resolver.ResolveGatewayPlaceholder(gateway)
			phIface, err := b.ensureInterface(ctx, phRes, gateway, "", true, at)
			if err != nil {
				return err
			}
			phIface.ClaimIP(gateway, rec.ID, at)
			phIface.Observe(rec.ID, at)

			phHost, err := b.ensureHost(ctx, phIface.HostID, domain.HostKindGateway, at)
			if err != nil {
				return err
			}
			phHost.AddLabel(gateway, rec.ID)
			phHost.AddInterface(phRes.InterfaceID)
			phHost.Observe(rec.ID, at)
			toHost = phIface.HostID
		}
	} else {
		netID := domain.HostIDForNetwork(network)
		netHost, err := b.ensureHost(ctx, netID, domain.HostKindNetwork, at)
		if err != nil {
			return err
		}
		netHost.Network = network
		netHost.AddLabel(network, rec.ID)
		netHost.Observe(rec.ID, at)
		toHost = netID
	}

	id := domain.RouteID(fromHost, network, gateway)
	l, err := b.link(ctx, id)
	if err != nil {
		return err
	}
	if l == nil {
		l = domain.NewRoute(fromHost, toHost, network, gateway, rt.Metric, at)
		b.links[id] = l
		b.newLinks[id] = struct{}{}
	} else {
		// The gateway IP may have resolved to a real host since the edge
		// was first drawn.
		l.ToID = toHost
		if rt.Metric < l.Metric {
			l.Metric = rt.Metric
		}
	}
	b.observeLink(l, rec)
	return nil
}
