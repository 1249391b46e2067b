package dgraph

import (
	"github.com/pkg/errors"
)

// Accumulate combines one value per host with op and returns the same
// result on every host: values are folded in host order. Collective.
func Accumulate[V Value](g *DistGraph, v V, op func(old, in V) V) (V, error) {
	all := make([]V, g.NumHosts())
	all[g.ID()] = v
	err := g.allToAll(func(uint32) ([]byte, error) {
		return encodeValues([]V{v}), nil
	}, func(from uint32, data []byte) error {
		in, err := decodeValues[V](data, 1)
		if err != nil {
			return errors.Wrapf(err, "accumulator from host %d", from)
		}
		all[from] = in[0]
		return nil
	})
	if err != nil {
		return v, err
	}
	acc := all[0]
	for _, in := range all[1:] {
		acc = op(acc, in)
	}
	return acc, nil
}
