// Package accel holds field state the way an accelerator would: one flat
// buffer per field with the shared-node lists loaded next to it, so sync
// can move a whole peer's values in one batch call.
package accel

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"dgsync/dgraph"
)

type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

// Array is a device-resident field. It implements dgraph.Field,
// dgraph.BatchAccessor and, unless built with DenseOnly, the delta-aware
// dgraph.DeltaBatchAccessor.
type Array[V dgraph.Value] struct {
	name     string
	values   []V
	op       Op
	identity V
	dirty    *dgraph.AtomicBitset

	masters [][]uint32
	mirrors [][]uint32
	loaded  bool
	delta   bool

	batchCalls atomic.Uint64
}

type Option func(*options)

type options struct {
	denseOnly bool
}

// DenseOnly disables the delta-aware accessors; sparse messages then go
// through the generic per-node path.
func DenseOnly() Option {
	return func(o *options) { o.denseOnly = true }
}

func NewArray[V dgraph.Value](name string, numNodes uint32, op Op, opts ...Option) *Array[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &Array[V]{
		name:     name,
		values:   make([]V, numNodes),
		op:       op,
		identity: identity[V](op),
		dirty:    dgraph.NewAtomicBitset(numNodes),
		delta:    !o.denseOnly,
	}
	for i := range a.values {
		a.values[i] = a.identity
	}
	return a
}

func identity[V dgraph.Value](op Op) V {
	var v V
	switch op {
	case OpMin:
		return maxValue[V]()
	case OpMax:
		return minValue[V]()
	default:
		return v
	}
}

func maxValue[V dgraph.Value]() V {
	var v V
	switch p := any(&v).(type) {
	case *int32:
		*p = math.MaxInt32
	case *uint32:
		*p = math.MaxUint32
	case *int64:
		*p = math.MaxInt64
	case *uint64:
		*p = math.MaxUint64
	case *float32:
		*p = float32(math.Inf(1))
	default:
		v = V(math.Inf(1))
	}
	return v
}

func minValue[V dgraph.Value]() V {
	var v V
	switch p := any(&v).(type) {
	case *int32:
		*p = math.MinInt32
	case *int64:
		*p = math.MinInt64
	case *uint32, *uint64:
	case *float32:
		*p = float32(math.Inf(-1))
	default:
		v = V(math.Inf(-1))
	}
	return v
}

func (a *Array[V]) merge(old, in V) V {
	switch a.op {
	case OpMin:
		return dgraph.Min(old, in)
	case OpMax:
		return dgraph.Max(old, in)
	default:
		return dgraph.Sum(old, in)
	}
}

// LoadShared copies the master and mirror lists of g next to the values.
// Must run after g.Load and before any sync of this field.
func (a *Array[V]) LoadShared(g *dgraph.DistGraph) error {
	if uint32(len(a.values)) != g.Local().NumNodes() {
		return errors.Errorf("array %s holds %d nodes, local graph has %d",
			a.name, len(a.values), g.Local().NumNodes())
	}
	n := g.NumHosts()
	a.masters = make([][]uint32, n)
	a.mirrors = make([][]uint32, n)
	for h := uint32(0); h < n; h++ {
		a.masters[h] = append([]uint32(nil), g.MasterNodes(h)...)
		a.mirrors[h] = append([]uint32(nil), g.MirrorNodes(h)...)
	}
	a.loaded = true
	return nil
}

// Upload replaces the device values.
func (a *Array[V]) Upload(values []V) {
	copy(a.values, values)
}

// Download copies the device values out.
func (a *Array[V]) Download() []V {
	return append([]V(nil), a.values...)
}

func (a *Array[V]) BatchCalls() uint64 {
	return a.batchCalls.Load()
}

func (a *Array[V]) Name() string {
	return a.name
}

func (a *Array[V]) Extract(lid uint32) V {
	return a.values[lid]
}

func (a *Array[V]) Reduce(lid uint32, v V) bool {
	old := a.values[lid]
	a.values[lid] = a.merge(old, v)
	return a.values[lid] != old
}

// Reset only clears sums: min and max are idempotent, so a mirror keeps
// its value and stays usable until the next broadcast.
func (a *Array[V]) Reset(lid uint32) {
	if a.op == OpSum {
		a.values[lid] = a.identity
	}
}

func (a *Array[V]) SetVal(lid uint32, v V) {
	a.values[lid] = v
}

// Add merges v into a node during compute and marks it dirty.
func (a *Array[V]) Add(lid uint32, v V) {
	if a.Reduce(lid, v) {
		a.dirty.Set(lid)
	}
}

func (a *Array[V]) Dirty() dgraph.DirtyBitset {
	return a.dirty
}

func (a *Array[V]) BatchExtract(peer uint32, out []V) bool {
	if !a.loaded {
		return false
	}
	a.batchCalls.Add(1)
	for i, lid := range a.masters[peer] {
		out[i] = a.values[lid]
	}
	return true
}

func (a *Array[V]) BatchExtractReset(peer uint32, out []V) bool {
	if !a.loaded {
		return false
	}
	a.batchCalls.Add(1)
	for i, lid := range a.mirrors[peer] {
		out[i] = a.values[lid]
		a.Reset(lid)
	}
	return true
}

func (a *Array[V]) BatchSetVal(peer uint32, in []V) bool {
	if !a.loaded {
		return false
	}
	a.batchCalls.Add(1)
	for i, lid := range a.mirrors[peer] {
		a.values[lid] = in[i]
	}
	return true
}

func (a *Array[V]) BatchReduce(peer uint32, in []V) bool {
	if !a.loaded {
		return false
	}
	a.batchCalls.Add(1)
	for i, lid := range a.masters[peer] {
		if a.Reduce(lid, in[i]) {
			a.dirty.Set(lid)
		}
	}
	return true
}

// BatchExtractDelta picks the dirty nodes shared with peer, chooses the
// encoding and extracts their values.
func (a *Array[V]) BatchExtractDelta(peer uint32, st dgraph.SyncType, enforce dgraph.DataCommMode, d *dgraph.Delta[V]) bool {
	if !a.loaded || !a.delta {
		return false
	}
	a.batchCalls.Add(1)
	shared := a.masters[peer]
	if st == dgraph.SyncReduce {
		shared = a.mirrors[peer]
	}
	n := uint32(len(shared))

	mask := make([]uint64, (n+63)/64)
	var offsets []uint32
	if enforce != dgraph.OnlyData {
		for i, lid := range shared {
			if a.dirty.Test(lid) {
				mask[i/64] |= 1 << (uint(i) % 64)
				offsets = append(offsets, uint32(i))
			}
		}
	}
	var v V
	d.Mode = dgraph.SelectMode(n, uint32(len(offsets)), binary.Size(v), enforce)

	take := func(lid uint32) V {
		v := a.values[lid]
		if st == dgraph.SyncReduce {
			a.Reset(lid)
		}
		return v
	}
	switch d.Mode {
	case dgraph.OnlyData:
		d.Values = make([]V, n)
		for i, lid := range shared {
			d.Values[i] = take(lid)
		}
	case dgraph.BitsetData, dgraph.OffsetsData:
		d.Mask = mask
		d.Offsets = offsets
		d.Values = make([]V, len(offsets))
		for i, off := range offsets {
			d.Values[i] = take(shared[off])
		}
	}
	return true
}

// BatchApplyDelta merges (reduce) or overwrites (broadcast) the nodes a
// decoded message names.
func (a *Array[V]) BatchApplyDelta(peer uint32, st dgraph.SyncType, d *dgraph.Delta[V]) bool {
	if !a.loaded || !a.delta {
		return false
	}
	a.batchCalls.Add(1)
	shared := a.mirrors[peer]
	if st == dgraph.SyncReduce {
		shared = a.masters[peer]
	}
	apply := func(lid uint32, v V) {
		if st == dgraph.SyncBroadcast {
			a.values[lid] = v
		} else if a.Reduce(lid, v) {
			a.dirty.Set(lid)
		}
	}
	switch d.Mode {
	case dgraph.OnlyData:
		for i, lid := range shared {
			apply(lid, d.Values[i])
		}
	case dgraph.BitsetData, dgraph.OffsetsData:
		for i, off := range d.Offsets {
			if int(off) >= len(shared) {
				return false
			}
			apply(shared[off], d.Values[i])
		}
	}
	return true
}
