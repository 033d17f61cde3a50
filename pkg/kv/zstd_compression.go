package kv

import (
	"fmt"

	"github.com/DataDog/zstd"
	"github.com/kelindar/binary"
)

// Sample is a resolved terrain position as stored in the cache.
type Sample struct {
	Lon    float64
	Lat    float64
	Height float64
}

func EncodeSample(s Sample) ([]byte, error) {
	encoded, err := binary.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode terrain sample: %w", err)
	}
	return encoded, nil
}

func DecodeSample(bb []byte) (Sample, error) {
	var s Sample
	if err := binary.Unmarshal(bb, &s); err != nil {
		return Sample{}, fmt.Errorf("decode terrain sample: %w", err)
	}
	return s, nil
}

func Compress(bb []byte) ([]byte, error) {
	var bbCompressed []byte
	bbCompressed, err := zstd.Compress(bbCompressed, bb)
	if err != nil {
		return []byte{}, err
	}
	return bbCompressed, nil
}

func Decompress(bbCompressed []byte) ([]byte, error) {
	var bb []byte
	bb, err := zstd.Decompress(bb, bbCompressed)
	if err != nil {
		return []byte{}, err
	}

	return bb, nil
}
