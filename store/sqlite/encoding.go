package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/arbordb/arbor/metadata"
)

// EncodeEmbedding packs an embedding into a little-endian float32 BLOB,
// 4 bytes per component. A nil or empty embedding encodes to nil.
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

// DecodeEmbedding unpacks a little-endian float32 BLOB produced by
// EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sqlite: embedding blob length %d is not a multiple of 4", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

func encodeMetadata(doc metadata.Metadata) ([]byte, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	return json.Marshal(doc)
}

func decodeMetadata(b []byte) (metadata.Metadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc metadata.Metadata
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
	}
	return doc, nil
}
