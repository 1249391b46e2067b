package dgraph

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectMode(t *testing.T) {
	assert.Equal(t, NoData, SelectMode(1000, 0, 8, NoData))
	assert.Equal(t, OffsetsData, SelectMode(1000, 10, 8, NoData))
	assert.Equal(t, BitsetData, SelectMode(1000, 100, 8, NoData))
	assert.Equal(t, OnlyData, SelectMode(1000, 990, 8, NoData))
	assert.Equal(t, OnlyData, SelectMode(1, 1, 4, NoData))
	assert.Equal(t, BitsetData, SelectMode(1000, 0, 8, BitsetData))
	assert.Equal(t, OnlyData, SelectMode(1000, 3, 8, OnlyData))
}

// payloadCost is what a mode adds on top of the mode byte and count.
func payloadCost(mode DataCommMode, n, k uint32, s int) int {
	switch mode {
	case NoData:
		return 0
	case OnlyData:
		return int(n) * s
	case BitsetData:
		return maskWords(n)*8 + int(k)*s
	default:
		return int(k) * (offsetSize + s)
	}
}

func TestSelectModeNeverCostsMoreThanDense(t *testing.T) {
	for _, s := range []int{4, 8} {
		for n := uint32(1); n <= 300; n++ {
			for k := uint32(0); k <= n; k++ {
				mode := SelectMode(n, k, s, NoData)
				if k == 0 {
					require.Equal(t, NoData, mode)
					continue
				}
				require.LessOrEqual(t, payloadCost(mode, n, k, s), int(n)*s, "n=%d k=%d s=%d mode=%v", n, k, s, mode)
			}
		}
	}
}

func TestDeltaWireLayout(t *testing.T) {
	d := Delta[float32]{Mode: OffsetsData, Offsets: []uint32{1, 4}, Values: []float32{0.5, 2}}
	msg := encodeDelta(&d, nil)
	require.Len(t, msg, EncodedSize(OffsetsData, 10, 2, 4))
	assert.Equal(t, byte(OffsetsData), msg[0])
	assert.Equal(t, []byte{2, 0, 0, 0}, msg[1:5])
	assert.Equal(t, []byte{1, 0, 0, 0, 4, 0, 0, 0}, msg[5:13])

	got, gids, err := decodeDelta[float32](msg, 10, false)
	require.NoError(t, err)
	assert.Nil(t, gids)
	assert.Equal(t, d.Offsets, got.Offsets)
	assert.Equal(t, d.Values, got.Values)

	b := Delta[float32]{Mode: BitsetData, Mask: []uint64{0b10010}, Values: []float32{0.5, 2}}
	msg = encodeDelta(&b, nil)
	require.Len(t, msg, EncodedSize(BitsetData, 10, 2, 4))
	got, _, err = decodeDelta[float32](msg, 10, false)
	require.NoError(t, err)
	assert.Equal(t, b.Mask, got.Mask)

	msg = encodeDelta(&Delta[float32]{Mode: NoData}, nil)
	assert.Equal(t, []byte{byte(NoData)}, msg)
}

func TestDeltaGIDMetadata(t *testing.T) {
	d := Delta[int64]{Mode: OffsetsData, Offsets: []uint32{0}, Values: []int64{-3}}
	msg := encodeDelta(&d, []uint64{math.MaxUint32 + 5})
	got, gids, err := decodeDelta[int64](msg, 4, true)
	require.NoError(t, err)
	assert.Equal(t, []uint64{math.MaxUint32 + 5}, gids)
	assert.Equal(t, []int64{-3}, got.Values)
}

func TestDecodeDeltaRejectsBadMessages(t *testing.T) {
	_, _, err := decodeDelta[float64](nil, 4, false)
	assert.Error(t, err)
	_, _, err = decodeDelta[float64]([]byte{byte(OnlyData), 1, 2}, 4, false)
	assert.Error(t, err)
	_, _, err = decodeDelta[float64]([]byte{byte(DataSplit)}, 4, false)
	assert.Error(t, err)

	msg := encodeDelta(&Delta[float64]{Mode: NoData}, nil)
	_, _, err = decodeDelta[float64](append(msg, 0), 4, false)
	assert.Error(t, err)

	// bit 5 is past a shared list of 4 nodes
	msg = encodeDelta(&Delta[float64]{Mode: BitsetData, Mask: []uint64{1 << 5}, Values: []float64{1}}, nil)
	_, _, err = decodeDelta[float64](msg, 4, false)
	assert.Error(t, err)
}

func TestSplitBlocks(t *testing.T) {
	msg := encodeSplit(DataSplitFirst, 3, []uint64{7, 8})
	mode, arg, values, err := decodeSplit[uint64](msg)
	require.NoError(t, err)
	assert.Equal(t, DataSplitFirst, mode)
	assert.Equal(t, uint32(3), arg)
	assert.Equal(t, []uint64{7, 8}, values)

	_, _, _, err = decodeSplit[uint64](msg[:len(msg)-1])
	assert.Error(t, err)
	_, _, _, err = decodeSplit[uint64](encodeDelta(&Delta[uint64]{Mode: NoData}, nil))
	assert.Error(t, err)
}

func TestOffsetsFromMaskParallel(t *testing.T) {
	gs := createTestCluster(t, 1, Config{})
	const n = 100_000
	bs := NewAtomicBitset(n)
	shared := make([]uint32, n)
	var want []uint32
	for i := range shared {
		shared[i] = uint32(n - 1 - i)
		if i%7 == 0 || i%1000 == 999 {
			bs.Set(shared[i])
			want = append(want, uint32(i))
		}
	}
	mask, offsets, err := gs[0].dirtyPositions(bs, shared)
	require.NoError(t, err)
	assert.Equal(t, want, offsets)

	again, err := gs[0].offsetsFromMask(mask, n)
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestDataCommModeText(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"enforce_data_mode":"offsets-data","pipeline_block_size":64}`), &cfg))
	assert.Equal(t, OffsetsData, cfg.EnforceDataMode)
	assert.Equal(t, uint32(64), cfg.PipelineBlockSize)

	require.NoError(t, json.Unmarshal([]byte(`{"enforce_data_mode":"auto"}`), &cfg))
	assert.Equal(t, NoData, cfg.EnforceDataMode)
	assert.Error(t, json.Unmarshal([]byte(`{"enforce_data_mode":"morse"}`), &cfg))
}
