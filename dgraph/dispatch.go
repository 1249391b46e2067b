package dgraph

import (
	"dgsync/partition"
)

// Plan decides which collectives keep a field consistent when it is
// written at w and read at r. An edge-cut keeps one endpoint of every
// edge on its master (the source, or the destination when transposed),
// so only the other endpoint needs replication; a vertex-cut needs both.
func Plan(w, r Location, kind partition.Kind) (reduce, broadcast bool) {
	vc := kind.IsVertexCut()
	tr := kind.IsTransposed()
	switch w {
	case Source:
		switch r {
		case Source:
			return tr || vc, tr || vc
		case Destination:
			if tr {
				return true, vc
			}
			return vc, true
		default:
			return tr || vc, true
		}
	case Destination:
		switch r {
		case Source:
			if tr {
				return vc, true
			}
			return true, vc
		case Destination:
			return !tr || vc, !tr || vc
		default:
			return !tr || vc, true
		}
	default:
		switch r {
		case Source:
			return true, tr || vc
		case Destination:
			return true, !tr || vc
		default:
			return true, true
		}
	}
}

// Sync runs the reduce and broadcast that Plan requires, in that order.
func Sync[V Value](g *DistGraph, f Field[V], w, r Location, loop string) error {
	reduce, broadcast := Plan(w, r, g.cfg.Partition.Kind)
	if reduce {
		if err := Reduce(g, f, loop); err != nil {
			return err
		}
	}
	if broadcast {
		return Broadcast(g, f, loop)
	}
	return nil
}
