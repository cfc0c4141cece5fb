package store

import (
	"encoding/binary"
	"math"
)

// serializeEmbedding converts a float32 slice to the little-endian blob
// format sqlite-vec expects.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
