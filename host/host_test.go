package host

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgsync/accel"
	"dgsync/checkpoint"
	"dgsync/comm"
	"dgsync/dgraph"
	"dgsync/graph"
	"dgsync/partition"
	"dgsync/rdg"
)

var allKinds = []partition.Kind{partition.EdgeCutSource, partition.EdgeCutDestination, partition.VertexCut}

func createTestGraph(t *testing.T) *graph.Offline {
	t.Helper()
	g, err := graph.Generate(graph.GeneratorConfig{NumNodes: 150, Seed: 21})
	require.NoError(t, err)
	return g
}

// createTestHosts builds numHosts hosts on an in-memory network.
func createTestHosts(t *testing.T, numHosts uint32, cfg Config) []*Host {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hosts := make([]*Host, numHosts)
	for i, tr := range comm.NewMemoryNetwork(numHosts) {
		hcfg := cfg
		hcfg.HostID = uint32(i)
		h, err := NewWithTransport(hcfg, tr, logger)
		require.NoError(t, err)
		hosts[i] = h
	}
	t.Cleanup(func() {
		for _, h := range hosts {
			h.Close()
		}
	})
	return hosts
}

func runHosts(t *testing.T, hosts []*Host, offline *graph.Offline) []Result {
	t.Helper()
	results := make([]Result, len(hosts))
	errs := make([]error, len(hosts))
	var wg sync.WaitGroup
	for i, h := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.RunOn(context.Background(), offline)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "host %d", i)
	}
	return results
}

// byGID maps every owned node's result to its global ID.
func byGID(hosts []*Host, results []Result) map[uint64]float64 {
	out := map[uint64]float64{}
	for i, h := range hosts {
		l := h.Graph().Local()
		for lid, v := range results[i].Values {
			out[l.L2G(uint32(lid))] = v
		}
	}
	return out
}

func referencePageRank(g *graph.Offline, iterations int, damping float64) []float64 {
	n := g.NumNodes()
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1 / float64(n)
	}
	for it := 0; it < iterations; it++ {
		contrib := make([]float64, n)
		for src := uint64(0); src < n; src++ {
			if d := g.Degree(src); d > 0 {
				for _, dst := range g.Edges(src) {
					contrib[dst] += rank[src] / float64(d)
				}
			}
		}
		for i := range rank {
			rank[i] = (1-damping)/float64(n) + damping*contrib[i]
		}
	}
	return rank
}

func referenceBFS(g *graph.Offline, source uint64) []float64 {
	dist := make([]float64, g.NumNodes())
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[source] = 0
	queue := []uint64{source}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, d := range g.Edges(n) {
			if math.IsInf(dist[d], 1) {
				dist[d] = dist[n] + 1
				queue = append(queue, d)
			}
		}
	}
	return dist
}

func TestInDegreeApp(t *testing.T) {
	offline := createTestGraph(t)
	for _, kind := range allKinds {
		hosts := createTestHosts(t, 3, Config{Peers: make([]string, 3), Graph: dgraph.Config{Partition: partition.Config{Kind: kind}}})
		got := byGID(hosts, runHosts(t, hosts, offline))
		require.Len(t, got, int(offline.NumNodes()))
		for n := uint64(0); n < offline.NumNodes(); n++ {
			assert.Equal(t, float64(offline.InDegree(n)), got[n], "node %d %v", n, kind)
		}
	}
}

func TestPageRankApp(t *testing.T) {
	offline := createTestGraph(t)
	want := referencePageRank(offline, 8, 0.85)
	for _, kind := range allKinds {
		for _, useAccel := range []bool{false, true} {
			app := AppConfig{Name: PAGE_RANK, MaxIterations: 8, Accel: useAccel}
			hosts := createTestHosts(t, 3, Config{Peers: make([]string, 3), App: app,
				Graph: dgraph.Config{Partition: partition.Config{Kind: kind}}})
			results := runHosts(t, hosts, offline)
			assert.Equal(t, uint32(8), results[0].Iterations)
			got := byGID(hosts, results)
			for n, w := range want {
				assert.InDelta(t, w, got[uint64(n)], 1e-12, "node %d %v accel=%v", n, kind, useAccel)
			}
		}
	}
}

func TestShortestPathApp(t *testing.T) {
	offline := createTestGraph(t)
	want := referenceBFS(offline, 3)
	for _, kind := range allKinds {
		for _, useAccel := range []bool{false, true} {
			app := AppConfig{Name: SHORTEST_PATH, Source: 3, Accel: useAccel}
			hosts := createTestHosts(t, 2, Config{Peers: make([]string, 2), App: app,
				Graph: dgraph.Config{Partition: partition.Config{Kind: kind}}})
			got := byGID(hosts, runHosts(t, hosts, offline))
			for n, w := range want {
				assert.Equal(t, w, got[uint64(n)], "node %d %v accel=%v", n, kind, useAccel)
			}
		}
	}
}

func TestAppCheckpointsAndOutput(t *testing.T) {
	offline := createTestGraph(t)
	dir := t.TempDir()
	cfg := Config{
		Peers:      make([]string, 2),
		JobID:      "job",
		App:        AppConfig{Name: PAGE_RANK, MaxIterations: 4, CheckpointEvery: 2},
		Checkpoint: &checkpoint.Config{Backend: checkpoint.BackendBolt, Dir: dir},
		Output:     &OutputConfig{Bucket: rdg.Config{Dir: dir}, Path: "out"},
	}
	hosts := createTestHosts(t, 2, cfg)
	results := runHosts(t, hosts, offline)

	for i, h := range hosts {
		_, ok := h.Graph().HeldCheckpoint("rank")
		assert.True(t, ok, "host %d holds no checkpoint", i)

		bucket, err := rdg.OpenBucket(cfg.Output.Bucket)
		require.NoError(t, err)
		logger, _ := test.NewNullLogger()
		part, err := rdg.NewHandle(bucket, uint32(i), 2, logger).Load(context.Background(), "out", nil, nil)
		require.NoError(t, err)
		prop, ok := rdg.Find(part.NodeProps, PAGE_RANK)
		require.True(t, ok)
		values, err := rdg.PropertyValues[float64](prop)
		require.NoError(t, err)
		assert.Equal(t, results[i].Values, values)
	}
}

func TestUnknownApp(t *testing.T) {
	hosts := createTestHosts(t, 1, Config{Peers: make([]string, 1), App: AppConfig{Name: "Triangles"}})
	_, err := hosts[0].RunOn(context.Background(), createTestGraph(t))
	assert.ErrorContains(t, err, "unknown app")
}

func TestStatusRouter(t *testing.T) {
	offline := createTestGraph(t)
	hosts := createTestHosts(t, 2, Config{Peers: make([]string, 2), JobID: "job-1"})
	runHosts(t, hosts, offline)

	router := hosts[1].router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "job-1", st.JobID)
	assert.Equal(t, uint32(1), st.HostID)
	assert.True(t, st.Loaded)
	assert.Equal(t, IN_DEGREE, st.App)
	assert.Positive(t, st.Stats.Reduces)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dgsync_")
}

// TestStatusDuringRun polls /status while the hosts are inside
// collective calls. Run with -race.
func TestStatusDuringRun(t *testing.T) {
	offline := createTestGraph(t)
	app := AppConfig{Name: PAGE_RANK, MaxIterations: 6}
	hosts := createTestHosts(t, 2, Config{Peers: make([]string, 2), App: app})
	router := hosts[0].router()

	done := make(chan struct{})
	polled := make(chan []Status)
	go func() {
		var seen []Status
		defer func() { polled <- seen }()
		for {
			select {
			case <-done:
				return
			default:
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
			var st Status
			if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &st) != nil {
				return
			}
			seen = append(seen, st)
		}
	}()
	results := runHosts(t, hosts, offline)
	close(done)
	seen := <-polled

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Phase, seen[i-1].Phase)
		if seen[i-1].Loaded {
			assert.True(t, seen[i].Loaded)
		}
		if !seen[i].Loaded {
			assert.Zero(t, seen[i].Replication.Factor)
		}
	}
	assert.Equal(t, uint32(6), results[0].Iterations)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Loaded)
	assert.Equal(t, PAGE_RANK, st.App)
	assert.Equal(t, hosts[0].Graph().Phase(), st.Phase)
	assert.GreaterOrEqual(t, st.Replication.Factor, 1.0)
}

func TestSumFieldAccelIsLoaded(t *testing.T) {
	offline := createTestGraph(t)
	hosts := createTestHosts(t, 2, Config{Peers: make([]string, 2)})
	runHosts(t, hosts, offline)

	g := hosts[0].Graph()
	f, add, err := newSumField(g, "x", true)
	require.NoError(t, err)
	a, ok := f.(*accel.Array[float64])
	require.True(t, ok)
	add(0, 2)
	assert.Equal(t, 2.0, a.Extract(0))
	out := make([]float64, len(g.MasterNodes(1)))
	assert.True(t, a.BatchExtract(1, out))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.validate())
	assert.Error(t, Config{HostID: 2, Peers: []string{"a", "b"}}.validate())
	assert.NoError(t, Config{HostID: 1, Peers: []string{"a", "b"}}.validate())
}
