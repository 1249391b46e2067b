package partition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// degreeSummary is a Summary built from per-node degrees.
type degreeSummary struct {
	prefix []uint64
}

func createTestSummary(degrees []uint64) *degreeSummary {
	prefix := make([]uint64, len(degrees)+1)
	for i, d := range degrees {
		prefix[i+1] = prefix[i] + d
	}
	return &degreeSummary{prefix: prefix}
}

func (s *degreeSummary) NumNodes() uint64          { return uint64(len(s.prefix) - 1) }
func (s *degreeSummary) NumEdges() uint64          { return s.prefix[len(s.prefix)-1] }
func (s *degreeSummary) EdgeBegin(n uint64) uint64 { return s.prefix[n] }
func (s *degreeSummary) EdgeEnd(n uint64) uint64   { return s.prefix[n+1] }

// skewedDegrees has a few hubs and some isolated nodes.
func skewedDegrees(n int) []uint64 {
	degrees := make([]uint64, n)
	for i := range degrees {
		switch {
		case i%17 == 0:
			degrees[i] = 40
		case i%5 == 0:
			degrees[i] = 0
		default:
			degrees[i] = uint64(i%4 + 1)
		}
	}
	return degrees
}

func assertCoverage(t *testing.T, table *Table, total uint64) {
	t.Helper()
	seen := make([]int, total)
	for h := uint32(0); h < table.NumHosts(); h++ {
		r := table.Range(h)
		for gid := r.Start; gid < r.End; gid++ {
			seen[gid]++
			owner, ok := table.Owner(gid)
			require.True(t, ok)
			assert.Equal(t, h, owner, "owner of %d", gid)
		}
	}
	for gid, c := range seen {
		assert.Equal(t, 1, c, "node %d covered %d times", gid, c)
	}
}

func TestComputeMastersCoverage(t *testing.T) {
	g := createTestSummary(skewedDegrees(211))
	modes := []BalanceMode{BalanceNodes, BalanceEdges, BalanceNodesAndEdges}

	for _, numHosts := range []uint32{1, 2, 3, 7} {
		nonUniform := make([]uint32, numHosts)
		for i := range nonUniform {
			nonUniform[i] = uint32(i%3 + 1)
		}
		for _, mode := range modes {
			for _, scale := range [][]uint32{nil, nonUniform} {
				for _, bipartite := range []bool{false, true} {
					cfg := Config{Balance: mode, ScaleFactor: scale, Bipartite: bipartite}
					table, err := ComputeMasters(g, cfg, numHosts)
					require.NoError(t, err, "mode %v hosts %d", mode, numHosts)
					assert.Equal(t, numHosts, table.NumHosts())
					assertCoverage(t, table, g.NumNodes())
				}
			}
		}
	}
}

func TestComputeRangeMatchesTable(t *testing.T) {
	g := createTestSummary(skewedDegrees(97))
	for _, mode := range []BalanceMode{BalanceNodes, BalanceEdges, BalanceNodesAndEdges} {
		cfg := Config{Balance: mode, ScaleFactor: []uint32{2, 1, 1}}
		table, err := ComputeMasters(g, cfg, 3)
		require.NoError(t, err)
		for h := uint32(0); h < 3; h++ {
			r, err := ComputeRange(g, cfg, h, 3)
			require.NoError(t, err)
			assert.Equal(t, table.Range(h), r, "mode %v host %d", mode, h)
		}
	}
}

func TestBlockedNodesScaleFactor(t *testing.T) {
	g := createTestSummary(make([]uint64, 100))
	table, err := ComputeMasters(g, Config{Balance: BalanceNodes, ScaleFactor: []uint32{1, 3}}, 2)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 25}, table.Range(0))
	assert.Equal(t, Range{25, 100}, table.Range(1))
}

func TestBalancedEdgesSplitsEdgesEvenly(t *testing.T) {
	// the first 10 nodes hold as many edges as the remaining 90
	degrees := make([]uint64, 100)
	for i := range degrees {
		degrees[i] = 1
		if i < 10 {
			degrees[i] = 9
		}
	}
	g := createTestSummary(degrees)

	table, err := ComputeMasters(g, Config{Balance: BalanceEdges}, 2)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 10}, table.Range(0))
	assert.Equal(t, Range{10, 100}, table.Range(1))
}

func TestBipartiteExtendsOverIsolatedNodes(t *testing.T) {
	// isolated nodes 0, 3, 4 and 7
	g := createTestSummary([]uint64{0, 2, 2, 0, 0, 2, 2, 0})
	table, err := ComputeMasters(g, Config{Balance: BalanceNodes, Bipartite: true}, 2)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 5}, table.Range(0))
	assert.Equal(t, Range{5, 8}, table.Range(1))
}

func TestScaleFactorMismatch(t *testing.T) {
	g := createTestSummary(skewedDegrees(10))
	_, err := ComputeMasters(g, Config{ScaleFactor: []uint32{1, 2, 3}}, 2)
	assert.ErrorIs(t, err, ErrScaleFactor)
}

func TestNewTableRejectsGaps(t *testing.T) {
	_, err := NewTable([]Range{{0, 4}, {5, 10}}, 10)
	assert.Error(t, err)
	_, err = NewTable([]Range{{0, 4}, {4, 9}}, 10)
	assert.Error(t, err)
	table, err := NewTable([]Range{{0, 4}, {4, 4}, {4, 10}}, 10)
	require.NoError(t, err)
	owner, ok := table.Owner(4)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), owner)
	_, ok = table.Owner(10)
	assert.False(t, ok)
}

func TestConfigJSON(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"balance":"both","kind":"vertex-cut","scaleFactor":[1,2]}`), &cfg))
	assert.Equal(t, BalanceNodesAndEdges, cfg.Balance)
	assert.Equal(t, VertexCut, cfg.Kind)
	assert.True(t, cfg.Kind.IsVertexCut())
	assert.False(t, cfg.Kind.IsTransposed())

	out, err := json.Marshal(Config{Kind: EdgeCutDestination})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"kind":"edge-cut-destination"`)
	assert.Contains(t, string(out), `"balance":"edges"`)
}
