package host

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dgsync/accel"
	"dgsync/dgraph"
	"dgsync/graph"
)

// constants are used as app names in host configs
const (
	IN_DEGREE     = "InDegree"
	PAGE_RANK     = "PageRank"
	SHORTEST_PATH = "ShortestPath"
)

const unreachable = math.MaxUint32

type AppConfig struct {
	Name string `json:"name"`
	// MaxIterations bounds PageRank and ShortestPath rounds.
	MaxIterations uint32  `json:"max_iterations"`
	Damping       float64 `json:"damping"`
	Tolerance     float64 `json:"tolerance"`
	// Source is the start node of ShortestPath.
	Source uint64 `json:"source"`
	// CheckpointEvery > 0 checkpoints the result field to the next host
	// (and to the durable store when one is configured) every that many
	// iterations.
	CheckpointEvery uint32 `json:"checkpoint_every"`
	// Accel keeps fields in accelerator arrays instead of plain slices.
	Accel bool `json:"accel"`
}

// Result holds the final value of every owned node, in local ID order.
type Result struct {
	App        string
	Iterations uint32
	Values     []float64
}

// forEachEdge calls fn for every local edge in input direction. The local
// graph of a destination edge-cut is stored transposed.
func forEachEdge(l *graph.Local, fn func(src, dst uint32)) {
	transposed := l.Kind().IsTransposed()
	for lid := uint32(0); lid < l.NumNodes(); lid++ {
		for _, e := range l.Edges(lid) {
			if transposed {
				fn(e, lid)
			} else {
				fn(lid, e)
			}
		}
	}
}

func RunApp(g *dgraph.DistGraph, cfg AppConfig, logger logrus.FieldLogger) (Result, error) {
	switch cfg.Name {
	case IN_DEGREE, "":
		return InDegree(g)
	case PAGE_RANK:
		return PageRank(g, cfg, logger)
	case SHORTEST_PATH:
		return ShortestPath(g, cfg, logger)
	default:
		return Result{}, errors.Errorf("unknown app %q", cfg.Name)
	}
}

func newSumField(g *dgraph.DistGraph, name string, useAccel bool) (dgraph.Field[float64], func(lid uint32, v float64), error) {
	n := g.Local().NumNodes()
	if useAccel {
		a := accel.NewArray[float64](name, n, accel.OpSum)
		if err := a.LoadShared(g); err != nil {
			return nil, nil, err
		}
		return a, a.Add, nil
	}
	f := dgraph.NewSliceField[float64](name, n, dgraph.Sum[float64], 0, dgraph.NewAtomicBitset(n))
	return f, func(lid uint32, v float64) {
		f.Values[lid] += v
		f.Dirty().Set(lid)
	}, nil
}

func ownedValues(f dgraph.Field[float64], numOwned uint32) []float64 {
	out := make([]float64, numOwned)
	for lid := range out {
		out[lid] = f.Extract(uint32(lid))
	}
	return out
}

func InDegree(g *dgraph.DistGraph) (Result, error) {
	deg, add, err := newSumField(g, "in_degree", false)
	if err != nil {
		return Result{}, err
	}
	forEachEdge(g.Local(), func(_, dst uint32) {
		add(dst, 1)
	})
	if err := dgraph.Sync[float64](g, deg, dgraph.Destination, dgraph.Any, IN_DEGREE); err != nil {
		return Result{}, err
	}
	return Result{App: IN_DEGREE, Values: ownedValues(deg, g.Local().NumOwned())}, nil
}

// PageRank pushes rank along out-edges until the summed change drops below
// the tolerance. Dangling nodes do not redistribute their rank.
func PageRank(g *dgraph.DistGraph, cfg AppConfig, logger logrus.FieldLogger) (Result, error) {
	if cfg.Damping == 0 {
		cfg.Damping = 0.85
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	l := g.Local()
	numOwned := l.NumOwned()
	total := float64(g.Table().TotalNodes())

	outDeg, addDeg, err := newSumField(g, "out_degree", cfg.Accel)
	if err != nil {
		return Result{}, err
	}
	forEachEdge(l, func(src, _ uint32) {
		addDeg(src, 1)
	})
	if err := dgraph.Sync[float64](g, outDeg, dgraph.Source, dgraph.Source, PAGE_RANK); err != nil {
		return Result{}, err
	}

	rank := dgraph.NewSliceField[float64]("rank", l.NumNodes(), dgraph.Sum[float64], 0, dgraph.NewAtomicBitset(l.NumNodes()))
	for lid := range rank.Values {
		rank.Values[lid] = 1 / total
	}
	contrib, addContrib, err := newSumField(g, "contrib", cfg.Accel)
	if err != nil {
		return Result{}, err
	}

	var it uint32
	for it = 1; it <= cfg.MaxIterations; it++ {
		g.SetNumIteration(it)
		forEachEdge(l, func(src, dst uint32) {
			if d := outDeg.Extract(src); d > 0 {
				addContrib(dst, rank.Values[src]/d)
			}
		})
		if err := dgraph.Reduce[float64](g, contrib, PAGE_RANK); err != nil {
			return Result{}, err
		}

		var delta float64
		for lid := uint32(0); lid < numOwned; lid++ {
			next := (1-cfg.Damping)/total + cfg.Damping*contrib.Extract(lid)
			contrib.SetVal(lid, 0)
			if next != rank.Values[lid] {
				delta += math.Abs(next - rank.Values[lid])
				rank.Values[lid] = next
				rank.Dirty().Set(lid)
			}
		}
		if err := dgraph.Broadcast[float64](g, rank, PAGE_RANK); err != nil {
			return Result{}, err
		}
		if err := checkpointEvery[float64](g, rank, cfg, it); err != nil {
			return Result{}, err
		}

		sum, err := dgraph.Accumulate(g, delta, dgraph.Sum[float64])
		if err != nil {
			return Result{}, err
		}
		logger.WithFields(logrus.Fields{"action": "pagerank", "iteration": it, "delta": sum}).Debug("iteration done")
		if sum <= cfg.Tolerance {
			break
		}
	}
	return Result{App: PAGE_RANK, Iterations: min(it, cfg.MaxIterations), Values: ownedValues(rank, numOwned)}, nil
}

// ShortestPath computes hop distances from cfg.Source by relaxing every
// local edge each round until no host lowers a distance.
func ShortestPath(g *dgraph.DistGraph, cfg AppConfig, logger logrus.FieldLogger) (Result, error) {
	l := g.Local()
	if cfg.Source >= g.Table().TotalNodes() {
		return Result{}, errors.Errorf("source node %d outside graph of %d nodes", cfg.Source, g.Table().TotalNodes())
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = math.MaxUint32
	}
	dist := accel.NewArray[uint32]("dist", l.NumNodes(), accel.OpMin, denseUnless(cfg.Accel)...)
	if err := dist.LoadShared(g); err != nil {
		return Result{}, err
	}
	if lid, ok := l.G2L(cfg.Source); ok {
		dist.Add(lid, 0)
	}

	var it uint32
	for it = 1; it <= cfg.MaxIterations; it++ {
		g.SetNumIteration(it)
		var changed uint64
		forEachEdge(l, func(src, dst uint32) {
			if d := dist.Extract(src); d != unreachable && d+1 < dist.Extract(dst) {
				dist.Add(dst, d+1)
				changed++
			}
		})
		if err := dgraph.Sync[uint32](g, dist, dgraph.Destination, dgraph.Source, SHORTEST_PATH); err != nil {
			return Result{}, err
		}
		if err := checkpointEvery[uint32](g, dist, cfg, it); err != nil {
			return Result{}, err
		}
		total, err := dgraph.Accumulate(g, changed, dgraph.Sum[uint64])
		if err != nil {
			return Result{}, err
		}
		logger.WithFields(logrus.Fields{"action": "shortest_path", "round": it, "changed": total}).Debug("round done")
		if total == 0 {
			break
		}
	}

	values := make([]float64, l.NumOwned())
	for lid := range values {
		d := dist.Extract(uint32(lid))
		if d == unreachable {
			values[lid] = math.Inf(1)
		} else {
			values[lid] = float64(d)
		}
	}
	return Result{App: SHORTEST_PATH, Iterations: min(it, cfg.MaxIterations), Values: values}, nil
}

// denseUnless turns off the delta accessors when accel is not requested,
// so dist syncs through the generic dirty-bitset path.
func denseUnless(useAccel bool) []accel.Option {
	if useAccel {
		return nil
	}
	return []accel.Option{accel.DenseOnly()}
}

func checkpointEvery[V dgraph.Value](g *dgraph.DistGraph, f dgraph.Field[V], cfg AppConfig, it uint32) error {
	if cfg.CheckpointEvery == 0 || it%cfg.CheckpointEvery != 0 {
		return nil
	}
	if err := dgraph.CheckpointToMemory[V](g, f, cfg.Name); err != nil {
		return err
	}
	if g.HasStore() {
		return dgraph.Checkpoint[V](g, f, cfg.Name)
	}
	return nil
}
