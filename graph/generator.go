package graph

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// DegreeClass gives a fraction of the nodes a triangular out-degree
// distribution that peaks at Min and has mean Mean.
type DegreeClass struct {
	Fraction float64
	Min      uint64
	Mean     uint64
}

type GeneratorConfig struct {
	NumNodes uint64
	Seed     uint64
	Classes  []DegreeClass
	// MaxDegree, when set, is given to one node of the last class.
	MaxDegree uint64
	// AllowSelfLoops keeps edges n->n.
	AllowSelfLoops bool
}

// DefaultClasses mirrors a social graph: most nodes have a handful of
// neighbors, a few are hubs.
func DefaultClasses() []DegreeClass {
	return []DegreeClass{
		{Fraction: 0.90, Min: 1, Mean: 4},
		{Fraction: 0.09, Min: 10, Mean: 30},
		{Fraction: 0.01, Min: 100, Mean: 200},
	}
}

// Generate draws per-node degrees by class and picks destinations
// uniformly. The result only depends on the config.
func Generate(cfg GeneratorConfig) (*Offline, error) {
	if cfg.NumNodes == 0 {
		return nil, errors.New("generator needs at least one node")
	}
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = DefaultClasses()
	}
	var total float64
	for _, c := range classes {
		if c.Fraction < 0 || c.Mean < c.Min {
			return nil, errors.Errorf("invalid degree class %+v", c)
		}
		total += c.Fraction
	}
	if total > 1+1e-9 {
		return nil, errors.Errorf("degree class fractions sum to %f", total)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	degrees := make([]uint64, cfg.NumNodes)
	var n uint64
	for i, c := range classes {
		count := uint64(c.Fraction * float64(cfg.NumNodes))
		if i == len(classes)-1 {
			count = min(count, cfg.NumNodes-n)
		}
		for k := uint64(0); k < count && n < cfg.NumNodes; k++ {
			degrees[n] = triangular(rng, c.Min, c.Mean)
			n++
		}
	}
	if cfg.MaxDegree > 0 && n > 0 {
		degrees[rng.Uint64N(n)] = cfg.MaxDegree
	}

	var edges []Edge
	for src, d := range degrees {
		if cfg.NumNodes == 1 && !cfg.AllowSelfLoops {
			break
		}
		for k := uint64(0); k < d; k++ {
			dst := rng.Uint64N(cfg.NumNodes)
			for !cfg.AllowSelfLoops && dst == uint64(src) {
				dst = rng.Uint64N(cfg.NumNodes)
			}
			edges = append(edges, Edge{Src: uint64(src), Dst: dst})
		}
	}
	return FromEdges(cfg.NumNodes, edges)
}

// triangular samples a distribution with density peaking at lower and
// falling to zero at 3*mean-lower, whose mean is mean.
func triangular(rng *rand.Rand, lower, mean uint64) uint64 {
	upper := float64(3*mean-lower) + 1
	lo := float64(lower)
	if upper <= lo {
		return lower
	}
	u := rng.Float64()
	return uint64(upper - (upper-lo)*math.Sqrt(1-u))
}
