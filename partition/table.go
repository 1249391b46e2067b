package partition

import (
	"sort"

	"github.com/pkg/errors"
)

// Summary is the offline view of the input graph needed to place masters.
// EdgeBegin(n) is the number of edges of all nodes before n.
type Summary interface {
	NumNodes() uint64
	NumEdges() uint64
	EdgeBegin(n uint64) uint64
	EdgeEnd(n uint64) uint64
}

// Range is the half-open global ID interval [Start, End) owned by a host.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Len() uint64 {
	return r.End - r.Start
}

func (r Range) Contains(gid uint64) bool {
	return gid >= r.Start && gid < r.End
}

// Table maps every global ID to exactly one host. Immutable once built.
type Table struct {
	ranges []Range
	total  uint64
}

// NewTable checks that ranges cover [0, totalNodes) without gaps or
// overlaps, in host order.
func NewTable(ranges []Range, totalNodes uint64) (*Table, error) {
	if len(ranges) == 0 {
		return nil, errors.New("partition table needs at least one host")
	}
	var next uint64
	for h, r := range ranges {
		if r.Start != next {
			return nil, errors.Errorf("host %d range starts at %d, want %d", h, r.Start, next)
		}
		if r.End < r.Start {
			return nil, errors.Errorf("host %d range [%d, %d) is inverted", h, r.Start, r.End)
		}
		next = r.End
	}
	if next != totalNodes {
		return nil, errors.Errorf("partition table covers [0, %d), want [0, %d)", next, totalNodes)
	}
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	return &Table{ranges: cp, total: totalNodes}, nil
}

func (t *Table) NumHosts() uint32 {
	return uint32(len(t.ranges))
}

func (t *Table) TotalNodes() uint64 {
	return t.total
}

func (t *Table) Range(host uint32) Range {
	return t.ranges[host]
}

func (t *Table) Ranges() []Range {
	cp := make([]Range, len(t.ranges))
	copy(cp, t.ranges)
	return cp
}

// Owner returns the host owning gid.
func (t *Table) Owner(gid uint64) (uint32, bool) {
	if gid >= t.total {
		return 0, false
	}
	h := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].End > gid
	})
	return uint32(h), true
}
