package util

import (
	"encoding/binary"
	"hash/fnv"
)

// HashEdge hashes an ordered (src, dst) pair.
func HashEdge(src, dst uint64) uint64 {
	inputBytes := make([]byte, 16)
	binary.LittleEndian.PutUint64(inputBytes, src)
	binary.LittleEndian.PutUint64(inputBytes[8:], dst)

	algorithm := fnv.New64a()
	algorithm.Write(inputBytes)
	return algorithm.Sum64()
}
