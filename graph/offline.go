package graph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Edge is a directed edge between global IDs.
type Edge struct {
	Src uint64
	Dst uint64
}

// Offline is the whole input graph in CSR form over global IDs. It is
// read by every host to place masters and to load its local edges.
type Offline struct {
	index []uint64 // len numNodes+1
	dst   []uint64

	inDegreeOnce sync.Once
	inDegree     []uint64
}

// FromEdges builds the CSR, keeping the input order of each node's edges.
func FromEdges(numNodes uint64, edges []Edge) (*Offline, error) {
	index := make([]uint64, numNodes+1)
	for _, e := range edges {
		if e.Src >= numNodes || e.Dst >= numNodes {
			return nil, errors.Errorf("edge (%d, %d) outside [0, %d)", e.Src, e.Dst, numNodes)
		}
		index[e.Src+1]++
	}
	for n := uint64(0); n < numNodes; n++ {
		index[n+1] += index[n]
	}

	dst := make([]uint64, len(edges))
	fill := make([]uint64, numNodes)
	copy(fill, index[:numNodes])
	for _, e := range edges {
		dst[fill[e.Src]] = e.Dst
		fill[e.Src]++
	}
	return &Offline{index: index, dst: dst}, nil
}

func (g *Offline) NumNodes() uint64 {
	return uint64(len(g.index) - 1)
}

func (g *Offline) NumEdges() uint64 {
	return uint64(len(g.dst))
}

func (g *Offline) EdgeBegin(n uint64) uint64 {
	return g.index[n]
}

func (g *Offline) EdgeEnd(n uint64) uint64 {
	return g.index[n+1]
}

func (g *Offline) Edges(n uint64) []uint64 {
	return g.dst[g.index[n]:g.index[n+1]]
}

func (g *Offline) Degree(n uint64) uint64 {
	return g.index[n+1] - g.index[n]
}

func (g *Offline) InDegree(n uint64) uint64 {
	g.inDegreeOnce.Do(func() {
		g.inDegree = make([]uint64, g.NumNodes())
		for _, d := range g.dst {
			g.inDegree[d]++
		}
	})
	return g.inDegree[n]
}

// Transpose reverses every edge.
func (g *Offline) Transpose() *Offline {
	edges := make([]Edge, 0, g.NumEdges())
	for n := uint64(0); n < g.NumNodes(); n++ {
		for _, d := range g.Edges(n) {
			edges = append(edges, Edge{Src: d, Dst: n})
		}
	}
	t, _ := FromEdges(g.NumNodes(), edges)
	return t
}

// ReadEdgeList parses "src dst" lines. Lines starting with '#' or '%' are
// comments, except "# nodes N" which fixes the node count so trailing
// isolated nodes survive.
func ReadEdgeList(r io.Reader) (*Offline, error) {
	var (
		edges    []Edge
		numNodes uint64
		lineNum  int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '#' || line[0] == '%' {
			fields := strings.Fields(line[1:])
			if len(fields) == 2 && fields[0] == "nodes" {
				n, err := strconv.ParseUint(fields[1], 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "line %d: node count", lineNum)
				}
				numNodes = max(numNodes, n)
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: want \"src dst\", got %q", lineNum, line)
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: src", lineNum)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: dst", lineNum)
		}
		edges = append(edges, Edge{Src: src, Dst: dst})
		numNodes = max(numNodes, src+1, dst+1)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read edge list")
	}
	return FromEdges(numNodes, edges)
}

func ReadEdgeListFile(path string) (*Offline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open edge list")
	}
	defer f.Close()
	return ReadEdgeList(f)
}

func (g *Offline) WriteEdgeList(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# nodes %d\n", g.NumNodes())
	for n := uint64(0); n < g.NumNodes(); n++ {
		for _, d := range g.Edges(n) {
			fmt.Fprintf(bw, "%d %d\n", n, d)
		}
	}
	return errors.Wrap(bw.Flush(), "write edge list")
}

// MarshalTopology encodes the CSR as little endian
// numNodes:u64 numEdges:u64 index:u64[numNodes+1] dst:u64[numEdges].
func (g *Offline) MarshalTopology() []byte {
	buf := make([]byte, 0, 8*(2+len(g.index)+len(g.dst)))
	buf = binary.LittleEndian.AppendUint64(buf, g.NumNodes())
	buf = binary.LittleEndian.AppendUint64(buf, g.NumEdges())
	for _, v := range g.index {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	for _, v := range g.dst {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

func UnmarshalTopology(data []byte) (*Offline, error) {
	if len(data) < 16 {
		return nil, errors.New("topology blob too short")
	}
	numNodes := binary.LittleEndian.Uint64(data)
	numEdges := binary.LittleEndian.Uint64(data[8:])
	want := 16 + 8*(numNodes+1+numEdges)
	if uint64(len(data)) != want {
		return nil, errors.Errorf("topology blob has %d bytes, want %d", len(data), want)
	}
	words := data[16:]
	index := make([]uint64, numNodes+1)
	for i := range index {
		index[i] = binary.LittleEndian.Uint64(words[8*i:])
	}
	words = words[8*len(index):]
	dst := make([]uint64, numEdges)
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint64(words[8*i:])
		if dst[i] >= numNodes {
			return nil, errors.Errorf("edge %d points to %d outside [0, %d)", i, dst[i], numNodes)
		}
	}
	if index[0] != 0 || index[numNodes] != numEdges {
		return nil, errors.New("topology index does not span the edge array")
	}
	for n := uint64(0); n < numNodes; n++ {
		if index[n+1] < index[n] {
			return nil, errors.Errorf("topology index decreases at node %d", n)
		}
	}
	return &Offline{index: index, dst: dst}, nil
}
