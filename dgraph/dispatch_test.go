package dgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dgsync/partition"
)

func TestPlan(t *testing.T) {
	ec, tr, vc := partition.EdgeCutSource, partition.EdgeCutDestination, partition.VertexCut
	cases := []struct {
		w, r      Location
		kind      partition.Kind
		reduce    bool
		broadcast bool
	}{
		{Source, Source, ec, false, false},
		{Source, Source, tr, true, true},
		{Source, Source, vc, true, true},
		{Source, Destination, ec, false, true},
		{Source, Destination, tr, true, false},
		{Source, Destination, vc, true, true},
		{Source, Any, ec, false, true},
		{Source, Any, tr, true, true},
		{Source, Any, vc, true, true},

		{Destination, Source, ec, true, false},
		{Destination, Source, tr, false, true},
		{Destination, Source, vc, true, true},
		{Destination, Destination, ec, true, true},
		{Destination, Destination, tr, false, false},
		{Destination, Destination, vc, true, true},
		{Destination, Any, ec, true, true},
		{Destination, Any, tr, false, true},
		{Destination, Any, vc, true, true},

		{Any, Source, ec, true, false},
		{Any, Source, tr, true, true},
		{Any, Source, vc, true, true},
		{Any, Destination, ec, true, true},
		{Any, Destination, tr, true, false},
		{Any, Destination, vc, true, true},
		{Any, Any, ec, true, true},
		{Any, Any, tr, true, true},
		{Any, Any, vc, true, true},
	}
	for _, c := range cases {
		reduce, broadcast := Plan(c.w, c.r, c.kind)
		assert.Equal(t, c.reduce, reduce, "reduce for write %v read %v on %v", c.w, c.r, c.kind)
		assert.Equal(t, c.broadcast, broadcast, "broadcast for write %v read %v on %v", c.w, c.r, c.kind)
	}
}
