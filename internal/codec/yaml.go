package codec

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"netfuse/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlGraph mirrors domain.Graph with yaml field names.
type yamlGraph struct {
	Hosts       []yamlHost      `yaml:"hosts"`
	Interfaces  []yamlInterface `yaml:"interfaces"`
	Links       []yamlLink      `yaml:"links"`
	Conflicts   []yamlConflict  `yaml:"conflicts,omitempty"`
	Merges      []yamlMerge     `yaml:"merges,omitempty"`
	GeneratedAt time.Time       `yaml:"generated_at"`
}

type yamlHost struct {
	ID           string      `yaml:"id"`
	Kind         string      `yaml:"kind"`
	Labels       []yamlLabel `yaml:"labels,omitempty"`
	Interfaces   []string    `yaml:"interfaces,omitempty"`
	Network      string      `yaml:"network,omitempty"`
	MergedInto   string      `yaml:"merged_into,omitempty"`
	FirstSeen    time.Time   `yaml:"first_seen"`
	LastSeen     time.Time   `yaml:"last_seen"`
	Observations []string    `yaml:"observations,omitempty"`
}

type yamlLabel struct {
	Value         string `yaml:"value"`
	ObservationID string `yaml:"observation_id,omitempty"`
}

type yamlInterface struct {
	ID           string        `yaml:"id"`
	HostID       string        `yaml:"host_id"`
	Name         string        `yaml:"name,omitempty"`
	MAC          string        `yaml:"mac,omitempty"`
	Placeholder  bool          `yaml:"placeholder,omitempty"`
	IPs          []yamlIPClaim `yaml:"ips,omitempty"`
	FirstSeen    time.Time     `yaml:"first_seen"`
	LastSeen     time.Time     `yaml:"last_seen"`
	Observations []string      `yaml:"observations,omitempty"`
}

type yamlIPClaim struct {
	Addr          string    `yaml:"addr"`
	LastSeen      time.Time `yaml:"last_seen"`
	Observations  []string  `yaml:"observations,omitempty"`
	ConflictsWith []string  `yaml:"conflicts_with,omitempty"`
}

type yamlLink struct {
	ID           string    `yaml:"id"`
	Kind         string    `yaml:"kind"`
	FromID       string    `yaml:"from_id"`
	ToID         string    `yaml:"to_id"`
	Network      string    `yaml:"network,omitempty"`
	Gateway      string    `yaml:"gateway,omitempty"`
	Metric       int       `yaml:"metric,omitempty"`
	Confidence   float64   `yaml:"confidence"`
	Status       string    `yaml:"status"`
	HighTrust    bool      `yaml:"high_trust,omitempty"`
	FirstSeen    time.Time `yaml:"first_seen"`
	LastSeen     time.Time `yaml:"last_seen"`
	Observations []string  `yaml:"observations,omitempty"`
}

type yamlConflict struct {
	ID           string    `yaml:"id"`
	IP           string    `yaml:"ip"`
	InterfaceIDs []string  `yaml:"interface_ids"`
	Observations []string  `yaml:"observations,omitempty"`
	FirstSeen    time.Time `yaml:"first_seen"`
	LastSeen     time.Time `yaml:"last_seen"`
}

type yamlMerge struct {
	SurvivorID    string    `yaml:"survivor_id"`
	AbsorbedID    string    `yaml:"absorbed_id"`
	ObservationID string    `yaml:"observation_id,omitempty"`
	Reason        string    `yaml:"reason"`
	MergedAt      time.Time `yaml:"merged_at"`
}

// Parse imports a graph snapshot from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Graph, error) {
	var yg yamlGraph
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&yg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	graph := &domain.Graph{GeneratedAt: yg.GeneratedAt}
	for _, yh := range yg.Hosts {
		host := domain.Host{
			ID:           yh.ID,
			Kind:         domain.HostKind(yh.Kind),
			Interfaces:   yh.Interfaces,
			Network:      yh.Network,
			MergedInto:   yh.MergedInto,
			FirstSeen:    yh.FirstSeen,
			LastSeen:     yh.LastSeen,
			Observations: yh.Observations,
		}
		for _, yl := range yh.Labels {
			host.Labels = append(host.Labels, domain.Label{Value: yl.Value, ObservationID: yl.ObservationID})
		}
		graph.Hosts = append(graph.Hosts, host)
	}
	for _, yi := range yg.Interfaces {
		iface := domain.Interface{
			ID:           yi.ID,
			HostID:       yi.HostID,
			Name:         yi.Name,
			MAC:          yi.MAC,
			Placeholder:  yi.Placeholder,
			FirstSeen:    yi.FirstSeen,
			LastSeen:     yi.LastSeen,
			Observations: yi.Observations,
		}
		for _, yc := range yi.IPs {
			iface.IPs = append(iface.IPs, domain.IPClaim{
				Addr:          yc.Addr,
				LastSeen:      yc.LastSeen,
				Observations:  yc.Observations,
				ConflictsWith: yc.ConflictsWith,
			})
		}
		graph.Interfaces = append(graph.Interfaces, iface)
	}
	for _, yl := range yg.Links {
		graph.Links = append(graph.Links, domain.Link{
			ID:           yl.ID,
			Kind:         domain.LinkKind(yl.Kind),
			FromID:       yl.FromID,
			ToID:         yl.ToID,
			Network:      yl.Network,
			Gateway:      yl.Gateway,
			Metric:       yl.Metric,
			Confidence:   yl.Confidence,
			Status:       domain.LinkStatus(yl.Status),
			HighTrust:    yl.HighTrust,
			FirstSeen:    yl.FirstSeen,
			LastSeen:     yl.LastSeen,
			Observations: yl.Observations,
		})
	}
	for _, yc := range yg.Conflicts {
		graph.Conflicts = append(graph.Conflicts, domain.IPConflict{
			ID:           yc.ID,
			IP:           yc.IP,
			InterfaceIDs: yc.InterfaceIDs,
			Observations: yc.Observations,
			FirstSeen:    yc.FirstSeen,
			LastSeen:     yc.LastSeen,
		})
	}
	for _, ym := range yg.Merges {
		graph.Merges = append(graph.Merges, domain.HostMerge{
			SurvivorID:    ym.SurvivorID,
			AbsorbedID:    ym.AbsorbedID,
			ObservationID: ym.ObservationID,
			Reason:        ym.Reason,
			MergedAt:      ym.MergedAt,
		})
	}
	graph.Sort()
	return graph, nil
}

// Export writes a graph snapshot as YAML
func (c *YAMLCodec) Export(graph *domain.Graph, w io.Writer) error {
	yg := yamlGraph{GeneratedAt: graph.GeneratedAt}
	for _, h := range graph.Hosts {
		yh := yamlHost{
			ID:           h.ID,
			Kind:         string(h.Kind),
			Interfaces:   h.Interfaces,
			Network:      h.Network,
			MergedInto:   h.MergedInto,
			FirstSeen:    h.FirstSeen,
			LastSeen:     h.LastSeen,
			Observations: h.Observations,
		}
		for _, l := range h.Labels {
			yh.Labels = append(yh.Labels, yamlLabel{Value: l.Value, ObservationID: l.ObservationID})
		}
		yg.Hosts = append(yg.Hosts, yh)
	}
	for _, i := range graph.Interfaces {
		yi := yamlInterface{
			ID:           i.ID,
			HostID:       i.HostID,
			Name:         i.Name,
			MAC:          i.MAC,
			Placeholder:  i.Placeholder,
			FirstSeen:    i.FirstSeen,
			LastSeen:     i.LastSeen,
			Observations: i.Observations,
		}
		for _, c := range i.IPs {
			yi.IPs = append(yi.IPs, yamlIPClaim{
				Addr:          c.Addr,
				LastSeen:      c.LastSeen,
				Observations:  c.Observations,
				ConflictsWith: c.ConflictsWith,
			})
		}
		yg.Interfaces = append(yg.Interfaces, yi)
	}
	for _, l := range graph.Links {
		yg.Links = append(yg.Links, yamlLink{
			ID:           l.ID,
			Kind:         string(l.Kind),
			FromID:       l.FromID,
			ToID:         l.ToID,
			Network:      l.Network,
			Gateway:      l.Gateway,
			Metric:       l.Metric,
			Confidence:   l.Confidence,
			Status:       string(l.Status),
			HighTrust:    l.HighTrust,
			FirstSeen:    l.FirstSeen,
			LastSeen:     l.LastSeen,
			Observations: l.Observations,
		})
	}
	for _, c := range graph.Conflicts {
		yg.Conflicts = append(yg.Conflicts, yamlConflict{
			ID:           c.ID,
			IP:           c.IP,
			InterfaceIDs: c.InterfaceIDs,
			Observations: c.Observations,
			FirstSeen:    c.FirstSeen,
			LastSeen:     c.LastSeen,
		})
	}
	for _, m := range graph.Merges {
		yg.Merges = append(yg.Merges, yamlMerge{
			SurvivorID:    m.SurvivorID,
			AbsorbedID:    m.AbsorbedID,
			ObservationID: m.ObservationID,
			Reason:        m.Reason,
			MergedAt:      m.MergedAt,
		})
	}

	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	if err := encoder.Encode(&yg); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
