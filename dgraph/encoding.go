package dgraph

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const offsetSize = 4

func maskWords(n uint32) int {
	return int((n + 63) / 64)
}

func valueSize[V Value]() int {
	var v V
	return binary.Size(v)
}

// SelectMode picks the cheapest encoding for k dirty nodes out of n
// shared ones. Offsets win when they are smaller than a bitmask, as long
// as offsets plus values stay below the dense values. A non-zero enforce
// wins over the automatic choice.
func SelectMode(n, k uint32, valueSize int, enforce DataCommMode) DataCommMode {
	if enforce != NoData {
		return enforce
	}
	maskBytes := uint64(maskWords(n)) * 8
	s := uint64(valueSize)
	switch {
	case k == 0:
		return NoData
	case uint64(k)*offsetSize < maskBytes && uint64(k)*(offsetSize+s) < uint64(n)*s:
		return OffsetsData
	case uint64(k)*s+maskBytes < uint64(n)*s:
		return BitsetData
	default:
		return OnlyData
	}
}

// EncodedSize is the payload size of a message in the given mode, the
// mode byte included.
func EncodedSize(mode DataCommMode, n, k uint32, valueSize int) int {
	s := valueSize
	switch mode {
	case NoData:
		return 1
	case OnlyData:
		return 1 + int(n)*s
	case BitsetData:
		return 1 + 4 + maskWords(n)*8 + int(k)*s
	case OffsetsData:
		return 1 + 4 + int(k)*offsetSize + int(k)*s
	default:
		return 0
	}
}

// encodeDelta writes mode:u8 [count:u32] [offsets | bitmask] values.
// With gids set, OffsetsData carries u64 global IDs instead of u32
// positions.
func encodeDelta[V Value](d *Delta[V], gids []uint64) []byte {
	buf := []byte{byte(d.Mode)}
	switch d.Mode {
	case NoData:
		return buf
	case OnlyData:
		buf, _ = binary.Append(buf, binary.LittleEndian, d.Values)
	case BitsetData:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Values)))
		buf, _ = binary.Append(buf, binary.LittleEndian, d.Mask)
		buf, _ = binary.Append(buf, binary.LittleEndian, d.Values)
	case OffsetsData:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.Values)))
		if gids != nil {
			buf, _ = binary.Append(buf, binary.LittleEndian, gids)
		} else {
			buf, _ = binary.Append(buf, binary.LittleEndian, d.Offsets)
		}
		buf, _ = binary.Append(buf, binary.LittleEndian, d.Values)
	}
	return buf
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.err = errors.New("message truncated")
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = errors.New("message truncated")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

// read decodes into a slice of fixed-size elements.
func (r *reader) read(data interface{}) {
	if r.err != nil {
		return
	}
	n, err := binary.Decode(r.buf, binary.LittleEndian, data)
	if err != nil {
		r.err = errors.Wrap(err, "message truncated")
		return
	}
	r.buf = r.buf[n:]
}

func (r *reader) done() error {
	if r.err == nil && len(r.buf) != 0 {
		r.err = errors.Errorf("%d trailing bytes in message", len(r.buf))
	}
	return r.err
}

// decodeDelta parses a message for a shared list of n nodes. gids is
// only returned for OffsetsData when gidMeta is set.
func decodeDelta[V Value](payload []byte, n uint32, gidMeta bool) (Delta[V], []uint64, error) {
	r := &reader{buf: payload}
	d := Delta[V]{Mode: DataCommMode(r.u8())}
	var gids []uint64
	switch d.Mode {
	case NoData:
	case OnlyData:
		d.Values = make([]V, n)
		r.read(d.Values)
	case BitsetData:
		count := r.u32()
		if r.err == nil && count > n {
			return d, nil, errors.Errorf("bitset message has %d values for %d shared nodes", count, n)
		}
		d.Mask = make([]uint64, maskWords(n))
		r.read(d.Mask)
		d.Values = make([]V, count)
		r.read(d.Values)
		if r.err == nil && n%64 != 0 && len(d.Mask) > 0 && d.Mask[len(d.Mask)-1]>>(n%64) != 0 {
			return d, nil, errors.New("bitset message marks positions past the shared list")
		}
	case OffsetsData:
		count := r.u32()
		if r.err == nil && count > n {
			return d, nil, errors.Errorf("offsets message has %d values for %d shared nodes", count, n)
		}
		if gidMeta {
			gids = make([]uint64, count)
			r.read(gids)
		} else {
			d.Offsets = make([]uint32, count)
			r.read(d.Offsets)
		}
		d.Values = make([]V, count)
		r.read(d.Values)
	default:
		return d, nil, errors.Errorf("unexpected data mode %v", d.Mode)
	}
	if err := r.done(); err != nil {
		return d, nil, errors.Wrapf(err, "decode %v message", d.Mode)
	}
	return d, gids, nil
}

// encodeSplit writes one block of a pipelined send:
// DataSplitFirst totalBlocks:u32 count:u32 values, or
// DataSplit start:u32 count:u32 values.
func encodeSplit[V Value](mode DataCommMode, arg uint32, values []V) []byte {
	buf := []byte{byte(mode)}
	buf = binary.LittleEndian.AppendUint32(buf, arg)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(values)))
	buf, _ = binary.Append(buf, binary.LittleEndian, values)
	return buf
}

func decodeSplit[V Value](payload []byte) (DataCommMode, uint32, []V, error) {
	r := &reader{buf: payload}
	mode := DataCommMode(r.u8())
	arg := r.u32()
	count := r.u32()
	if r.err != nil {
		return 0, 0, nil, r.err
	}
	if mode != DataSplit && mode != DataSplitFirst {
		return 0, 0, nil, errors.Errorf("unexpected data mode %v in pipelined sync", mode)
	}
	if uint64(count)*uint64(valueSize[V]()) > uint64(len(r.buf)) {
		return 0, 0, nil, errors.Errorf("%v block of %d values truncated", mode, count)
	}
	values := make([]V, count)
	r.read(values)
	if err := r.done(); err != nil {
		return 0, 0, nil, err
	}
	return mode, arg, values, nil
}

func encodeValues[V Value](values []V) []byte {
	buf, _ := binary.Append(make([]byte, 0, len(values)*valueSize[V]()), binary.LittleEndian, values)
	return buf
}

func decodeValues[V Value](data []byte, n uint32) ([]V, error) {
	if len(data) != int(n)*valueSize[V]() {
		return nil, errors.Errorf("expected %d values (%d bytes), got %d bytes",
			n, int(n)*valueSize[V](), len(data))
	}
	values := make([]V, n)
	if _, err := binary.Decode(data, binary.LittleEndian, values); err != nil {
		return nil, errors.Wrap(err, "decode values")
	}
	return values, nil
}
