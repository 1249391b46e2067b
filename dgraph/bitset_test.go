package dgraph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirtyBitsets(t *testing.T) {
	for name, bs := range map[string]DirtyBitset{
		"atomic":  NewAtomicBitset(200),
		"roaring": NewRoaringBitset(200),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, uint32(200), bs.Size())

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := uint32(w); i < 200; i += 4 {
						bs.Set(i)
					}
				}(w)
			}
			wg.Wait()
			for i := uint32(0); i < 200; i++ {
				assert.True(t, bs.Test(i))
			}

			bs.ResetRange(10, 130)
			for i := uint32(0); i < 200; i++ {
				assert.Equal(t, i < 10 || i >= 130, bs.Test(i), "bit %d", i)
			}

			bs.ResetRange(0, 64)
			assert.False(t, bs.Test(0))
			assert.False(t, bs.Test(9))
			assert.True(t, bs.Test(130))

			bs.Reset()
			for i := uint32(0); i < 200; i++ {
				assert.False(t, bs.Test(i))
			}
		})
	}
}

func TestAtomicBitsetCount(t *testing.T) {
	bs := NewAtomicBitset(130)
	bs.Set(0)
	bs.Set(64)
	bs.Set(129)
	assert.Equal(t, uint64(3), bs.Count())
	bs.ResetRange(64, 200)
	assert.Equal(t, uint64(1), bs.Count())
}

func TestRoaringResetRangeAcrossContainers(t *testing.T) {
	bs := NewRoaringBitset(70000)
	for i := uint32(65530); i < 65542; i++ {
		bs.Set(i)
	}
	bs.Set(5)

	bs.ResetRange(65535, 65537)
	for i := uint32(65530); i < 65542; i++ {
		assert.Equal(t, i != 65535 && i != 65536, bs.Test(i), "bit %d", i)
	}

	bs.ResetRange(100, 100)
	assert.True(t, bs.Test(65530))

	bs.ResetRange(65537, bs.Size())
	assert.Equal(t, uint64(6), bs.Count())
	assert.True(t, bs.Test(5))
}
