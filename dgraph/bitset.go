package dgraph

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/weaviate/sroar"
)

// AtomicBitset is a fixed-size bitset whose Set is safe from concurrent
// compute goroutines.
type AtomicBitset struct {
	size  uint32
	words []atomic.Uint64
}

func NewAtomicBitset(size uint32) *AtomicBitset {
	return &AtomicBitset{size: size, words: make([]atomic.Uint64, (size+63)/64)}
}

func (b *AtomicBitset) Test(lid uint32) bool {
	return b.words[lid/64].Load()&(1<<(lid%64)) != 0
}

func (b *AtomicBitset) Set(lid uint32) {
	b.words[lid/64].Or(1 << (lid % 64))
}

func (b *AtomicBitset) Reset() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

func (b *AtomicBitset) ResetRange(begin, end uint32) {
	if end > b.size {
		end = b.size
	}
	for begin < end {
		w := begin / 64
		lo := begin % 64
		hi := uint32(64)
		if (w+1)*64 > end {
			hi = end - w*64
		}
		var mask uint64
		if hi-lo == 64 {
			mask = ^uint64(0)
		} else {
			mask = ((uint64(1) << (hi - lo)) - 1) << lo
		}
		b.words[w].And(^mask)
		begin = w*64 + hi
	}
}

func (b *AtomicBitset) Size() uint32 {
	return b.size
}

func (b *AtomicBitset) Count() uint64 {
	var n uint64
	for i := range b.words {
		n += uint64(bits.OnesCount64(b.words[i].Load()))
	}
	return n
}

// RoaringBitset keeps the dirty set compressed, which pays off when only
// a few nodes change per round.
type RoaringBitset struct {
	mu   sync.RWMutex
	size uint32
	bm   *sroar.Bitmap
}

func NewRoaringBitset(size uint32) *RoaringBitset {
	return &RoaringBitset{size: size, bm: sroar.NewBitmap()}
}

func (b *RoaringBitset) Test(lid uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bm.Contains(uint64(lid))
}

func (b *RoaringBitset) Set(lid uint32) {
	b.mu.Lock()
	b.bm.Set(uint64(lid))
	b.mu.Unlock()
}

func (b *RoaringBitset) Reset() {
	b.mu.Lock()
	b.bm = sroar.NewBitmap()
	b.mu.Unlock()
}

func (b *RoaringBitset) ResetRange(begin, end uint32) {
	if begin >= end {
		return
	}
	b.mu.Lock()
	b.bm.RemoveRange(uint64(begin), uint64(end))
	b.mu.Unlock()
}

func (b *RoaringBitset) Size() uint32 {
	return b.size
}

func (b *RoaringBitset) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(b.bm.GetCardinality())
}
