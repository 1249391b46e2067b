package dgraph

import (
	"math/bits"
	"runtime"

	"dgsync/util"
)

// minBlock keeps small loops on few goroutines.
const minBlock = 1024

type block struct {
	begin, end uint32
}

// splitBlocks cuts [0, n) into at most GOMAXPROCS contiguous blocks whose
// boundaries are multiples of align.
func splitBlocks(n, align uint32) []block {
	if n == 0 {
		return nil
	}
	parts := uint32(runtime.GOMAXPROCS(0))
	size := max((n+parts-1)/parts, minBlock)
	size = (size + align - 1) / align * align
	var out []block
	for b := uint32(0); b < n; b += size {
		out = append(out, block{begin: b, end: min(b+size, n)})
	}
	return out
}

func (g *DistGraph) doBlocks(blocks []block, fn func(i int, b block) error) error {
	if len(blocks) == 1 {
		return fn(0, blocks[0])
	}
	eg := util.NewErrorGroup(g.logger)
	for i, b := range blocks {
		eg.Go(func() error {
			return fn(i, b)
		})
	}
	return eg.Wait()
}

// doAll runs fn over [0, n) in parallel blocks.
func (g *DistGraph) doAll(n uint32, fn func(begin, end uint32) error) error {
	return g.doBlocks(splitBlocks(n, 1), func(_ int, b block) error {
		return fn(b.begin, b.end)
	})
}

// dirtyPositions builds the bitmask over the positions of shared whose
// node is dirty, plus the ascending list of those positions. Blocks are
// aligned to mask words so every goroutine writes its own words.
func (g *DistGraph) dirtyPositions(bs DirtyBitset, shared []uint32) ([]uint64, []uint32, error) {
	n := uint32(len(shared))
	mask := make([]uint64, maskWords(n))
	blocks := splitBlocks(n, 64)
	counts := make([]uint32, len(blocks))
	err := g.doBlocks(blocks, func(i int, b block) error {
		for p := b.begin; p < b.end; p++ {
			if bs.Test(shared[p]) {
				mask[p/64] |= 1 << (p % 64)
			}
		}
		counts[i] = popcount(mask, b)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	offsets, err := g.offsetsFromCounts(mask, blocks, counts)
	return mask, offsets, err
}

// offsetsFromMask lists the set positions of a received mask over n
// positions.
func (g *DistGraph) offsetsFromMask(mask []uint64, n uint32) ([]uint32, error) {
	blocks := splitBlocks(n, 64)
	counts := make([]uint32, len(blocks))
	err := g.doBlocks(blocks, func(i int, b block) error {
		counts[i] = popcount(mask, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g.offsetsFromCounts(mask, blocks, counts)
}

func (g *DistGraph) offsetsFromCounts(mask []uint64, blocks []block, counts []uint32) ([]uint32, error) {
	prefix := make([]uint32, len(blocks)+1)
	for i, c := range counts {
		prefix[i+1] = prefix[i] + c
	}
	offsets := make([]uint32, prefix[len(blocks)])
	if len(offsets) == 0 {
		return offsets, nil
	}
	err := g.doBlocks(blocks, func(i int, b block) error {
		at := prefix[i]
		for w := b.begin / 64; w < (b.end+63)/64; w++ {
			for word := mask[w]; word != 0; word &= word - 1 {
				offsets[at] = w*64 + uint32(bits.TrailingZeros64(word))
				at++
			}
		}
		return nil
	})
	return offsets, err
}

func popcount(mask []uint64, b block) uint32 {
	var n int
	for w := b.begin / 64; w < (b.end+63)/64; w++ {
		n += bits.OnesCount64(mask[w])
	}
	return uint32(n)
}
