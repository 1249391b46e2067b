package partition

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the partitioning strategy of the local graphs. The set is
// closed: an edge-cut keeps every edge next to one of its masters, a
// vertex-cut guarantees neither endpoint is local.
type Kind int

const (
	// EdgeCutSource stores the out-edges of each master.
	EdgeCutSource Kind = iota
	// EdgeCutDestination stores the in-edges of each master (transposed).
	EdgeCutDestination
	// VertexCut places edges independently of both endpoints.
	VertexCut
)

var kindNames = map[Kind]string{
	EdgeCutSource:      "edge-cut-source",
	EdgeCutDestination: "edge-cut-destination",
	VertexCut:          "vertex-cut",
}

func (k Kind) IsVertexCut() bool {
	return k == VertexCut
}

func (k Kind) IsTransposed() bool {
	return k == EdgeCutDestination
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, errors.Errorf("unknown partition kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown partition kind %q", string(text))
}
