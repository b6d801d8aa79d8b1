package database

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs an embedding as little-endian float32 values.
// Used by backends without a native vector type.
func EncodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// CheckEmbedding validates an embedding against the store dimension.
// dim == 0 means the store is still empty and accepts any length.
func CheckEmbedding(dim int, vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidEmbedding)
		}
	}
	if dim != 0 && len(vec) != dim {
		return DimensionError(dim, len(vec))
	}
	return nil
}
