package accel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgsync/comm"
	"dgsync/dgraph"
	"dgsync/graph"
	"dgsync/partition"
)

func createTestCluster(t *testing.T, numHosts uint32, cfg dgraph.Config) []*dgraph.DistGraph {
	t.Helper()
	offline, err := graph.Generate(graph.GeneratorConfig{NumNodes: 200, Seed: 11})
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()

	gs := make([]*dgraph.DistGraph, numHosts)
	for i, tr := range comm.NewMemoryNetwork(numHosts) {
		g, err := dgraph.New(tr, cfg, nil, logger, nil)
		require.NoError(t, err)
		gs[i] = g
	}
	runCollective(t, gs, func(g *dgraph.DistGraph) error {
		return g.Load(offline)
	})
	return gs
}

func runCollective(t *testing.T, gs []*dgraph.DistGraph, fn func(g *dgraph.DistGraph) error) {
	t.Helper()
	errs := make([]error, len(gs))
	var wg sync.WaitGroup
	for i, g := range gs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(g)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "host %d", i)
	}
}

func newArrays(t *testing.T, gs []*dgraph.DistGraph, name string, op Op, opts ...Option) []*Array[float64] {
	t.Helper()
	arrays := make([]*Array[float64], len(gs))
	for i, g := range gs {
		arrays[i] = NewArray[float64](name, g.Local().NumNodes(), op, opts...)
		require.NoError(t, arrays[i].LoadShared(g))
	}
	return arrays
}

func TestArrayInDegree(t *testing.T) {
	variants := []struct {
		name string
		cfg  dgraph.Config
		opts []Option
	}{
		{name: "delta"},
		{name: "delta only data", cfg: dgraph.Config{EnforceDataMode: dgraph.OnlyData}},
		{name: "delta offsets gid", cfg: dgraph.Config{
			EnforceDataMode: dgraph.OffsetsData,
			Partition:       partition.Config{UseGIDMetadata: true},
		}},
		{name: "dense", opts: []Option{DenseOnly()}},
		{name: "dense only data", cfg: dgraph.Config{EnforceDataMode: dgraph.OnlyData}, opts: []Option{DenseOnly()}},
	}
	for _, v := range variants {
		for _, kind := range []partition.Kind{partition.EdgeCutSource, partition.VertexCut} {
			t.Run(fmt.Sprintf("%s/%v", v.name, kind), func(t *testing.T) {
				cfg := v.cfg
				cfg.Partition.Kind = kind
				gs := createTestCluster(t, 3, cfg)
				arrays := newArrays(t, gs, "in_degree", OpSum, v.opts...)

				expected := map[uint64]float64{}
				for i, g := range gs {
					l := g.Local()
					for lid := uint32(0); lid < l.NumNodes(); lid++ {
						for _, dst := range l.Edges(lid) {
							arrays[i].Add(dst, 1)
							expected[l.L2G(dst)]++
						}
					}
				}

				runCollective(t, gs, func(g *dgraph.DistGraph) error {
					return dgraph.Sync[float64](g, arrays[g.ID()], dgraph.Destination, dgraph.Any, "in_degree")
				})
				for i, g := range gs {
					l := g.Local()
					values := arrays[i].Download()
					for lid := uint32(0); lid < l.NumNodes(); lid++ {
						require.Equal(t, expected[l.L2G(lid)], values[lid], "node %d on host %d", l.L2G(lid), i)
					}
					assert.Positive(t, arrays[i].BatchCalls())
				}
			})
		}
	}
}

func TestArrayMinReduce(t *testing.T) {
	gs := createTestCluster(t, 3, dgraph.Config{Partition: partition.Config{Kind: partition.VertexCut}})
	arrays := newArrays(t, gs, "dist", OpMin)

	expected := map[uint64]float64{}
	for i, g := range gs {
		l := g.Local()
		for lid := uint32(0); lid < l.NumNodes(); lid++ {
			gid := l.L2G(lid)
			v := float64(gid%17) + float64(i)
			arrays[i].Add(lid, v)
			if old, ok := expected[gid]; !ok || v < old {
				expected[gid] = v
			}
		}
	}

	runCollective(t, gs, func(g *dgraph.DistGraph) error {
		if err := dgraph.Reduce[float64](g, arrays[g.ID()], "dist"); err != nil {
			return err
		}
		return dgraph.Broadcast[float64](g, arrays[g.ID()], "dist")
	})
	for i, g := range gs {
		l := g.Local()
		for lid := uint32(0); lid < l.NumNodes(); lid++ {
			require.Equal(t, expected[l.L2G(lid)], arrays[i].Extract(lid))
		}
	}
}

func TestArrayIdentity(t *testing.T) {
	assert.Equal(t, int32(0), NewArray[int32]("s", 1, OpSum).Extract(0))
	assert.Equal(t, uint32(0xffffffff), NewArray[uint32]("m", 1, OpMin).Extract(0))
	assert.Equal(t, int64(-1<<63), NewArray[int64]("x", 1, OpMax).Extract(0))

	a := NewArray[uint64]("m", 4, OpMin)
	assert.False(t, a.Dirty().Test(2))
	a.Add(2, 9)
	a.Add(2, 12)
	assert.Equal(t, uint64(9), a.Extract(2))
	assert.True(t, a.Dirty().Test(2))
	a.Reset(2)
	assert.Equal(t, uint64(9), a.Extract(2))

	sum := NewArray[float32]("s", 2, OpSum)
	sum.Add(1, 2.5)
	sum.Reset(1)
	assert.Zero(t, sum.Extract(1))
}

func TestArrayNotLoaded(t *testing.T) {
	a := NewArray[float64]("f", 4, OpSum)
	out := make([]float64, 4)
	assert.False(t, a.BatchExtract(0, out))
	assert.False(t, a.BatchReduce(0, out))
	var d dgraph.Delta[float64]
	assert.False(t, a.BatchExtractDelta(0, dgraph.SyncReduce, dgraph.NoData, &d))
	assert.Zero(t, a.BatchCalls())
}

func TestLoadSharedSizeMismatch(t *testing.T) {
	gs := createTestCluster(t, 1, dgraph.Config{})
	a := NewArray[float64]("f", gs[0].Local().NumNodes()+1, OpSum)
	assert.Error(t, a.LoadShared(gs[0]))
}
