package graph

import (
	"sort"

	"dgsync/partition"
	"dgsync/util"

	"github.com/pkg/errors"
)

// Local is one host's share of the graph. Masters hold local IDs
// [0, NumOwned) in global ID order; mirrors follow, also in global ID
// order, so the mirrors of each remote owner are contiguous.
type Local struct {
	hostID   uint32
	numHosts uint32
	kind     partition.Kind
	table    *partition.Table

	numOwned     uint32
	globalOffset uint64
	l2g          []uint64
	g2l          map[uint64]uint32 // mirrors only

	index []uint64 // CSR over local IDs, len NumNodes+1
	dst   []uint32

	mirrorSpan    []span // per owner host, into l2g
	numOwnedEdges uint64
	isolatedOwned uint32
}

type span struct {
	begin, end uint32
}

// Build loads the local graph of hostID. For EdgeCutSource the out-edges
// of every master are local, for EdgeCutDestination the in-edges (the
// local graph is transposed), for VertexCut each edge lands on the host
// its hash selects.
func Build(g *Offline, table *partition.Table, kind partition.Kind, hostID uint32) (*Local, error) {
	if g.NumNodes() != table.TotalNodes() {
		return nil, errors.Errorf("graph has %d nodes but partition table covers %d",
			g.NumNodes(), table.TotalNodes())
	}
	if hostID >= table.NumHosts() {
		return nil, errors.Errorf("host %d outside partition table of %d hosts", hostID, table.NumHosts())
	}

	owned := table.Range(hostID)
	l := &Local{
		hostID:       hostID,
		numHosts:     table.NumHosts(),
		kind:         kind,
		table:        table,
		numOwned:     uint32(owned.Len()),
		globalOffset: owned.Start,
	}

	var edges []Edge
	switch kind {
	case partition.EdgeCutSource:
		edges = ownedEdges(g, owned)
	case partition.EdgeCutDestination:
		edges = ownedEdges(g.Transpose(), owned)
	case partition.VertexCut:
		for n := uint64(0); n < g.NumNodes(); n++ {
			for _, d := range g.Edges(n) {
				if uint32(util.HashEdge(n, d)%uint64(l.numHosts)) == hostID {
					edges = append(edges, Edge{Src: n, Dst: d})
				}
			}
		}
	default:
		return nil, errors.Errorf("unknown partition kind %v", kind)
	}

	mirrorSet := map[uint64]struct{}{}
	for _, e := range edges {
		for _, gid := range [2]uint64{e.Src, e.Dst} {
			if !owned.Contains(gid) {
				mirrorSet[gid] = struct{}{}
			}
		}
	}
	mirrors := make([]uint64, 0, len(mirrorSet))
	for gid := range mirrorSet {
		mirrors = append(mirrors, gid)
	}
	sort.Slice(mirrors, func(i, j int) bool { return mirrors[i] < mirrors[j] })

	l.l2g = make([]uint64, 0, uint64(l.numOwned)+uint64(len(mirrors)))
	for gid := owned.Start; gid < owned.End; gid++ {
		l.l2g = append(l.l2g, gid)
	}
	l.g2l = make(map[uint64]uint32, len(mirrors))
	for _, gid := range mirrors {
		l.g2l[gid] = uint32(len(l.l2g))
		l.l2g = append(l.l2g, gid)
	}

	l.mirrorSpan = make([]span, l.numHosts)
	for h := uint32(0); h < l.numHosts; h++ {
		r := table.Range(h)
		begin := sort.Search(len(mirrors), func(i int) bool { return mirrors[i] >= r.Start })
		end := sort.Search(len(mirrors), func(i int) bool { return mirrors[i] >= r.End })
		if h == hostID {
			end = begin
		}
		l.mirrorSpan[h] = span{begin: l.numOwned + uint32(begin), end: l.numOwned + uint32(end)}
	}

	l.buildCSR(edges)

	for gid := owned.Start; gid < owned.End; gid++ {
		if g.Degree(gid) == 0 && g.InDegree(gid) == 0 {
			l.isolatedOwned++
		}
	}
	return l, nil
}

func ownedEdges(g *Offline, owned partition.Range) []Edge {
	edges := make([]Edge, 0, g.EdgeBegin(owned.End)-g.EdgeBegin(owned.Start))
	for n := owned.Start; n < owned.End; n++ {
		for _, d := range g.Edges(n) {
			edges = append(edges, Edge{Src: n, Dst: d})
		}
	}
	return edges
}

func (l *Local) buildCSR(edges []Edge) {
	numNodes := uint32(len(l.l2g))
	l.index = make([]uint64, numNodes+1)
	for _, e := range edges {
		src, _ := l.G2L(e.Src)
		l.index[src+1]++
		if src < l.numOwned {
			l.numOwnedEdges++
		}
	}
	for n := uint32(0); n < numNodes; n++ {
		l.index[n+1] += l.index[n]
	}
	l.dst = make([]uint32, len(edges))
	fill := make([]uint64, numNodes)
	copy(fill, l.index[:numNodes])
	for _, e := range edges {
		src, _ := l.G2L(e.Src)
		dst, _ := l.G2L(e.Dst)
		l.dst[fill[src]] = dst
		fill[src]++
	}
}

func (l *Local) HostID() uint32 {
	return l.hostID
}

func (l *Local) NumHosts() uint32 {
	return l.numHosts
}

func (l *Local) Kind() partition.Kind {
	return l.kind
}

func (l *Local) Table() *partition.Table {
	return l.table
}

func (l *Local) NumOwned() uint32 {
	return l.numOwned
}

func (l *Local) NumNodes() uint32 {
	return uint32(len(l.l2g))
}

func (l *Local) NumEdges() uint64 {
	return uint64(len(l.dst))
}

func (l *Local) NumOwnedEdges() uint64 {
	return l.numOwnedEdges
}

// NumIsolatedOwned counts owned nodes without any edge in the input graph.
func (l *Local) NumIsolatedOwned() uint32 {
	return l.isolatedOwned
}

func (l *Local) GlobalOffset() uint64 {
	return l.globalOffset
}

func (l *Local) L2G(lid uint32) uint64 {
	return l.l2g[lid]
}

// G2L returns false for global IDs not present on this host.
func (l *Local) G2L(gid uint64) (uint32, bool) {
	if gid >= l.globalOffset && gid-l.globalOffset < uint64(l.numOwned) {
		return uint32(gid - l.globalOffset), true
	}
	lid, ok := l.g2l[gid]
	return lid, ok
}

func (l *Local) IsOwned(gid uint64) bool {
	return gid >= l.globalOffset && gid-l.globalOffset < uint64(l.numOwned)
}

func (l *Local) Owner(gid uint64) (uint32, bool) {
	return l.table.Owner(gid)
}

func (l *Local) OwnerOfLID(lid uint32) uint32 {
	if lid < l.numOwned {
		return l.hostID
	}
	owner, _ := l.table.Owner(l.l2g[lid])
	return owner
}

// MirrorGIDs lists, in ascending order, the global IDs of the mirrors
// whose master lives on host.
func (l *Local) MirrorGIDs(host uint32) []uint64 {
	s := l.mirrorSpan[host]
	out := make([]uint64, s.end-s.begin)
	copy(out, l.l2g[s.begin:s.end])
	return out
}

func (l *Local) NumMirrors() uint32 {
	return l.NumNodes() - l.numOwned
}

func (l *Local) EdgeBegin(lid uint32) uint64 {
	return l.index[lid]
}

func (l *Local) EdgeEnd(lid uint32) uint64 {
	return l.index[lid+1]
}

func (l *Local) Degree(lid uint32) uint64 {
	return l.index[lid+1] - l.index[lid]
}

func (l *Local) EdgeDst(e uint64) uint32 {
	return l.dst[e]
}

func (l *Local) Edges(lid uint32) []uint32 {
	return l.dst[l.index[lid]:l.index[lid+1]]
}
