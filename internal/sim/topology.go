package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bcpnet/gobcp/internal/wire"
)

// Topology is a static, seeded network layout for end-to-end tests
// (spec.md §8 scenarios): a fixed set of nodes and their direct neighbors,
// loaded from a YAML fixture rather than built up by hand in every test.
type Topology struct {
	Nodes []TopologyNode `yaml:"nodes"`
}

// TopologyNode describes one node's address, role, and direct neighbors.
type TopologyNode struct {
	Addr      string   `yaml:"addr"`
	Sink      bool     `yaml:"sink"`
	Neighbors []string `yaml:"neighbors"`
}

// LoadTopology reads a Topology fixture from a YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	return &t, nil
}

// Adjacency parses every node's address and neighbor list into a
// wire.NodeAddr adjacency map suitable for NewNetworkWithTopology.
func (t *Topology) Adjacency() (map[wire.NodeAddr][]wire.NodeAddr, error) {
	out := make(map[wire.NodeAddr][]wire.NodeAddr, len(t.Nodes))
	for _, n := range t.Nodes {
		self, err := parseAddr(n.Addr)
		if err != nil {
			return nil, err
		}
		neighbors := make([]wire.NodeAddr, 0, len(n.Neighbors))
		for _, raw := range n.Neighbors {
			addr, err := parseAddr(raw)
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, addr)
		}
		out[self] = neighbors
	}
	return out, nil
}

// SinkAddrs returns the addresses of every node flagged as a sink.
func (t *Topology) SinkAddrs() ([]wire.NodeAddr, error) {
	var sinks []wire.NodeAddr
	for _, n := range t.Nodes {
		if !n.Sink {
			continue
		}
		addr, err := parseAddr(n.Addr)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, addr)
	}
	return sinks, nil
}

func parseAddr(s string) (wire.NodeAddr, error) {
	var hi, lo int
	if _, err := fmt.Sscanf(s, "%d.%d", &hi, &lo); err != nil {
		return wire.NodeAddr{}, fmt.Errorf("parse node address %q: %w", s, err)
	}
	if hi < 0 || hi > 255 || lo < 0 || lo > 255 {
		return wire.NodeAddr{}, fmt.Errorf("node address %q out of range", s)
	}
	return wire.NodeAddr{byte(hi), byte(lo)}, nil
}
