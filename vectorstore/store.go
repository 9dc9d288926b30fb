package vectorstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/poiesic/chatvec/core"
)

var (
	// ErrMismatchedInput is returned when vectors and units differ in length.
	ErrMismatchedInput = errors.New("vectors and units differ in length")

	// ErrMissingTalker is returned when a unit carries no talker metadata.
	ErrMissingTalker = errors.New("unit has no talker metadata")
)

// Store persists embedded units.
// Implementations must be thread-safe.
type Store interface {
	// AddAll writes vectors[i] with units[i] and returns the stored IDs in
	// input order. IDs are derived from (talker, seq), so writing the same
	// unit twice replaces the earlier copy.
	AddAll(ctx context.Context, vectors [][]float32, units []core.EmbeddingUnit) ([]string, error)

	// RemoveByTalker deletes every document of a talker.
	RemoveByTalker(ctx context.Context, talker string) error

	// CountByTalker returns how many documents a talker has.
	CountByTalker(ctx context.Context, talker string) (int, error)

	// Close releases the store.
	Close() error
}

// DocumentID returns the stable ID of a unit.
func DocumentID(unit core.EmbeddingUnit) string {
	return strconv.FormatUint(uint64(core.RecordID(unit.Talker(), unit.Seq())), 16)
}

// CheckInput validates the arguments of AddAll.
func CheckInput(vectors [][]float32, units []core.EmbeddingUnit) error {
	if len(vectors) != len(units) {
		return fmt.Errorf("%w: %d vectors, %d units", ErrMismatchedInput, len(vectors), len(units))
	}
	for i, u := range units {
		if u.Talker() == "" {
			return fmt.Errorf("%w: index %d", ErrMissingTalker, i)
		}
	}
	return nil
}

// EncodeEmbedding encodes a float32 vector as a little-endian BLOB.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vectorstore: invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// Normalize scales vec to unit length so stored vectors compare by cosine
// similarity with a plain dot product. A zero vector stays zero.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	mag := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) / mag)
	}
	return out
}
