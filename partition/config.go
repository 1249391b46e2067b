package partition

import (
	"fmt"

	"github.com/pkg/errors"
)

// BalanceMode selects the metric used to split global IDs between hosts.
type BalanceMode int

const (
	// BalanceEdges balances the number of edges of the masters.
	BalanceEdges BalanceMode = iota
	// BalanceNodes balances the number of masters.
	BalanceNodes
	// BalanceNodesAndEdges balances nodeWeight*nodes + edgeWeight*edges.
	BalanceNodesAndEdges
)

var balanceNames = map[BalanceMode]string{
	BalanceEdges:         "edges",
	BalanceNodes:         "nodes",
	BalanceNodesAndEdges: "both",
}

func (m BalanceMode) String() string {
	if name, ok := balanceNames[m]; ok {
		return name
	}
	return fmt.Sprintf("BalanceMode(%d)", int(m))
}

func (m BalanceMode) MarshalText() ([]byte, error) {
	if _, ok := balanceNames[m]; !ok {
		return nil, errors.Errorf("unknown balance mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *BalanceMode) UnmarshalText(text []byte) error {
	for mode, name := range balanceNames {
		if name == string(text) {
			*m = mode
			return nil
		}
	}
	return errors.Errorf("unknown balance mode %q", string(text))
}

// Config collects every partitioning knob. The same value is handed to
// the partition table construction and to the sync engine.
type Config struct {
	Balance    BalanceMode `json:"balance"`
	NodeWeight uint64      `json:"nodeWeight,omitempty"`
	EdgeWeight uint64      `json:"edgeWeight,omitempty"`
	// ScaleFactor weighs each host's share. Empty means uniform.
	ScaleFactor []uint32 `json:"scaleFactor,omitempty"`
	// Bipartite only counts nodes with at least one edge as divisible.
	Bipartite bool `json:"bipartite,omitempty"`
	Kind      Kind `json:"kind"`
	// UseGIDMetadata ships global IDs instead of list positions in
	// offsets-encoded sync messages.
	UseGIDMetadata bool `json:"useGidMetadata,omitempty"`
}

var ErrScaleFactor = errors.New("scale factor length does not match number of hosts")

func (c Config) validate(numHosts uint32) error {
	if numHosts == 0 {
		return errors.New("number of hosts must be positive")
	}
	if len(c.ScaleFactor) != 0 && len(c.ScaleFactor) != int(numHosts) {
		return errors.Wrapf(ErrScaleFactor, "got %d factors for %d hosts",
			len(c.ScaleFactor), numHosts)
	}
	for i, f := range c.ScaleFactor {
		if f == 0 {
			return errors.Errorf("scale factor of host %d is zero", i)
		}
	}
	return nil
}

// weights returns the node and edge weights with the defaults of the
// balancing mode applied.
func (c Config) weights(g Summary) (nodeWeight, edgeWeight uint64) {
	nodeWeight, edgeWeight = c.NodeWeight, c.EdgeWeight
	switch c.Balance {
	case BalanceEdges:
		nodeWeight = 0
		if edgeWeight == 0 {
			edgeWeight = 1
		}
	case BalanceNodesAndEdges:
		if nodeWeight == 0 && g.NumNodes() > 0 {
			nodeWeight = g.NumEdges() / g.NumNodes()
		}
		if edgeWeight == 0 {
			edgeWeight = 1
		}
	}
	return nodeWeight, edgeWeight
}

// scale returns the per-host factors and their prefix sums.
func (c Config) scale(numHosts uint32) (factors []uint64, prefix []uint64) {
	factors = make([]uint64, numHosts)
	prefix = make([]uint64, numHosts+1)
	for i := range factors {
		factors[i] = 1
		if len(c.ScaleFactor) != 0 {
			factors[i] = uint64(c.ScaleFactor[i])
		}
		prefix[i+1] = prefix[i] + factors[i]
	}
	return factors, prefix
}
