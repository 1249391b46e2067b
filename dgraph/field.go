package dgraph

// Value is any fixed-size numeric field type.
type Value interface {
	~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Field describes one synchronized per-node attribute. All methods take
// local IDs and may be called concurrently for distinct nodes.
type Field[V Value] interface {
	Name() string
	Extract(lid uint32) V
	// Reduce merges v into the local value and reports whether it changed.
	Reduce(lid uint32, v V) bool
	// Reset restores the reduction identity after a reduce extraction.
	Reset(lid uint32)
	SetVal(lid uint32, v V)
}

type DirtyBitset interface {
	Test(lid uint32) bool
	Set(lid uint32)
	Reset()
	ResetRange(begin, end uint32)
	Size() uint32
}

// Dirtied is implemented by fields that track which nodes changed since
// the last sync. A nil bitset is the same as not implementing it.
type Dirtied interface {
	Dirty() DirtyBitset
}

// BatchAccessor moves all values shared with one peer at once. Extract
// variants read the peer's list in the sending direction: mirrors for
// BatchExtractReset, masters for BatchExtract. BatchReduce applies to
// masters and BatchSetVal to mirrors. A false return means the generic
// per-node path runs instead.
type BatchAccessor[V Value] interface {
	BatchExtract(peer uint32, out []V) bool
	BatchExtractReset(peer uint32, out []V) bool
	BatchSetVal(peer uint32, in []V) bool
	BatchReduce(peer uint32, in []V) bool
}

// Delta is one decoded sync message. Mask and Offsets index into the
// shared-node list with the peer.
type Delta[V Value] struct {
	Mode    DataCommMode
	Mask    []uint64
	Offsets []uint32
	Values  []V
}

// DeltaBatchAccessor is the dirty-aware batch variant: the accessor picks
// the nodes to send itself and fills d.
type DeltaBatchAccessor[V Value] interface {
	BatchExtractDelta(peer uint32, st SyncType, enforce DataCommMode, d *Delta[V]) bool
	BatchApplyDelta(peer uint32, st SyncType, d *Delta[V]) bool
}

// FuncField builds a Field out of closures.
type FuncField[V Value] struct {
	FieldName   string
	ExtractFn   func(lid uint32) V
	ReduceFn    func(lid uint32, v V) bool
	ResetFn     func(lid uint32)
	SetValFn    func(lid uint32, v V)
	DirtyBitset DirtyBitset
}

func (f *FuncField[V]) Name() string {
	return f.FieldName
}

func (f *FuncField[V]) Extract(lid uint32) V {
	return f.ExtractFn(lid)
}

func (f *FuncField[V]) Reduce(lid uint32, v V) bool {
	return f.ReduceFn(lid, v)
}

func (f *FuncField[V]) Reset(lid uint32) {
	if f.ResetFn != nil {
		f.ResetFn(lid)
	}
}

func (f *FuncField[V]) SetVal(lid uint32, v V) {
	f.SetValFn(lid, v)
}

func (f *FuncField[V]) Dirty() DirtyBitset {
	return f.DirtyBitset
}

// SliceField is a field stored in a plain slice indexed by local ID.
// The reduce operator decides how incoming values merge.
type SliceField[V Value] struct {
	name     string
	Values   []V
	op       func(old, in V) V
	identity V
	dirty    DirtyBitset
}

func NewSliceField[V Value](name string, numNodes uint32, op func(old, in V) V, identity V, dirty DirtyBitset) *SliceField[V] {
	return &SliceField[V]{
		name:     name,
		Values:   make([]V, numNodes),
		op:       op,
		identity: identity,
		dirty:    dirty,
	}
}

func (f *SliceField[V]) Name() string {
	return f.name
}

func (f *SliceField[V]) Extract(lid uint32) V {
	return f.Values[lid]
}

func (f *SliceField[V]) Reduce(lid uint32, v V) bool {
	old := f.Values[lid]
	f.Values[lid] = f.op(old, v)
	return f.Values[lid] != old
}

func (f *SliceField[V]) Reset(lid uint32) {
	f.Values[lid] = f.identity
}

func (f *SliceField[V]) SetVal(lid uint32, v V) {
	f.Values[lid] = v
}

func (f *SliceField[V]) Dirty() DirtyBitset {
	return f.dirty
}

func Sum[V Value](old, in V) V {
	return old + in
}

func Min[V Value](old, in V) V {
	if in < old {
		return in
	}
	return old
}

func Max[V Value](old, in V) V {
	if in > old {
		return in
	}
	return old
}

func dirtyOf[V Value](f Field[V]) DirtyBitset {
	if d, ok := f.(Dirtied); ok {
		return d.Dirty()
	}
	return nil
}
