package partition

import (
	"sort"
)

// BlockRange splits [begin, end) into num contiguous blocks of ceil size
// and returns block id. Trailing blocks may be empty.
func BlockRange(begin, end, id, num uint64) (uint64, uint64) {
	dist := end - begin
	numPer := (dist + num - 1) / num
	if numPer == 0 {
		numPer = 1
	}
	a := min(numPer*id, dist)
	b := min(numPer*(id+1), dist)
	return begin + a, begin + b
}

// divisible is the sequence of nodes that count towards balancing. Its
// boundaries are mapped back to global IDs so that nodes left out of the
// sequence fall into the range preceding them.
type divisible struct {
	g    Summary
	gids []uint64 // nil when every node counts
}

func newDivisible(g Summary, bipartite bool) divisible {
	d := divisible{g: g}
	if !bipartite {
		return d
	}
	d.gids = make([]uint64, 0)
	for n := uint64(0); n < g.NumNodes(); n++ {
		if g.EdgeEnd(n) > g.EdgeBegin(n) {
			d.gids = append(d.gids, n)
		}
	}
	return d
}

func (d divisible) len() uint64 {
	if d.gids == nil {
		return d.g.NumNodes()
	}
	return uint64(len(d.gids))
}

// boundary maps a rank to the global ID where a range starting at that
// rank begins.
func (d divisible) boundary(rank uint64) uint64 {
	if rank >= d.len() {
		return d.g.NumNodes()
	}
	if d.gids == nil {
		return rank
	}
	return d.gids[rank]
}

// edgesBefore counts the edges of all divisible nodes ranked before rank.
// Excluded nodes have no edges, so the global edge prefix is exact.
func (d divisible) edgesBefore(rank uint64) uint64 {
	if rank >= d.len() {
		return d.g.NumEdges()
	}
	return d.g.EdgeBegin(d.boundary(rank))
}

func (d divisible) toRange(host, numHosts uint32, startRank, endRank uint64) Range {
	r := Range{Start: d.boundary(startRank), End: d.boundary(endRank)}
	if host == 0 {
		r.Start = 0
	}
	if host == numHosts-1 {
		r.End = d.g.NumNodes()
	}
	return r
}

// mulDiv returns a*b/c without overflowing for small b and c.
func mulDiv(a, b, c uint64) uint64 {
	return (a/c)*b + (a%c)*b/c
}

// DivideByNode returns the range of host id when the metric of a prefix
// of r divisible nodes is nodeWeight*r + edgeWeight*edges(prefix). Each
// host's share of the total metric is proportional to its scale factor.
func DivideByNode(g Summary, cfg Config, id, numHosts uint32) (Range, error) {
	if err := cfg.validate(numHosts); err != nil {
		return Range{}, err
	}
	d := newDivisible(g, cfg.Bipartite)
	nodeWeight, edgeWeight := cfg.weights(g)
	_, prefix := cfg.scale(numHosts)
	start, end := d.divide(nodeWeight, edgeWeight, prefix, id)
	return d.toRange(id, numHosts, start, end), nil
}

func (d divisible) divide(nodeWeight, edgeWeight uint64, prefix []uint64, id uint32) (uint64, uint64) {
	numHosts := uint32(len(prefix) - 1)
	n := d.len()
	weight := func(rank uint64) uint64 {
		return nodeWeight*rank + edgeWeight*d.edgesBefore(rank)
	}
	total := weight(n)
	scaleSum := prefix[numHosts]

	rankOf := func(host uint32) uint64 {
		if host == 0 {
			return 0
		}
		if host >= numHosts {
			return n
		}
		target := mulDiv(total, prefix[host], scaleSum)
		return uint64(sort.Search(int(n)+1, func(r int) bool {
			return weight(uint64(r)) >= target
		}))
	}
	return rankOf(id), rankOf(id + 1)
}

// blocked splits the divisible nodes by count, proportionally to the
// scale factors.
func (d divisible) blocked(cfg Config, numHosts uint32) []Range {
	n := d.len()
	ranges := make([]Range, numHosts)
	if len(cfg.ScaleFactor) == 0 || numHosts == 1 {
		for h := uint32(0); h < numHosts; h++ {
			s, e := BlockRange(0, n, uint64(h), uint64(numHosts))
			ranges[h] = d.toRange(h, numHosts, s, e)
		}
		return ranges
	}

	factors, prefix := cfg.scale(numHosts)
	numBlocks := prefix[numHosts]
	for h := uint32(0); h < numHosts; h++ {
		firstBlock := prefix[h]
		lastBlock := prefix[h] + factors[h] - 1
		s, _ := BlockRange(0, n, firstBlock, numBlocks)
		_, e := BlockRange(0, n, lastBlock, numBlocks)
		ranges[h] = d.toRange(h, numHosts, s, e)
	}
	return ranges
}

// ComputeRange returns the range of a single host. For the edge modes
// this is what each host computes before the ranges are exchanged.
func ComputeRange(g Summary, cfg Config, id, numHosts uint32) (Range, error) {
	if cfg.Balance == BalanceNodes {
		t, err := ComputeMasters(g, cfg, numHosts)
		if err != nil {
			return Range{}, err
		}
		return t.Range(id), nil
	}
	return DivideByNode(g, cfg, id, numHosts)
}

// ComputeMasters builds the full table locally.
func ComputeMasters(g Summary, cfg Config, numHosts uint32) (*Table, error) {
	if err := cfg.validate(numHosts); err != nil {
		return nil, err
	}
	d := newDivisible(g, cfg.Bipartite)

	var ranges []Range
	switch cfg.Balance {
	case BalanceNodes:
		ranges = d.blocked(cfg, numHosts)
	default:
		nodeWeight, edgeWeight := cfg.weights(g)
		_, prefix := cfg.scale(numHosts)
		ranges = make([]Range, numHosts)
		for h := uint32(0); h < numHosts; h++ {
			s, e := d.divide(nodeWeight, edgeWeight, prefix, h)
			ranges[h] = d.toRange(h, numHosts, s, e)
		}
	}
	return NewTable(ranges, g.NumNodes())
}
