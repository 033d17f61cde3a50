package kv

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/uber/h3-go/v4"
)

// h3 resolution 15 cells are ~0.9 m², samples closer than that share an entry.
const sampleCellResolution = 15

const samplePrefix = "terrain:"

// KVDB stores terrain samples in pebble keyed by h3 cell.
type KVDB struct {
	db *pebble.DB
}

func NewKVDB(db *pebble.DB) *KVDB {
	return &KVDB{db}
}

func SampleKey(lat, lon float64) []byte {
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lon), sampleCellResolution)
	return []byte(samplePrefix + cell.String())
}

// GetSample returns the cached sample for the cell containing lat,lon.
func (k *KVDB) GetSample(lat, lon float64) (Sample, bool, error) {
	val, closer, err := k.db.Get(SampleKey(lat, lon))
	if errors.Is(err, pebble.ErrNotFound) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("get terrain sample: %w", err)
	}
	defer closer.Close()

	s, err := DecodeSample(val)
	if err != nil {
		return Sample{}, false, err
	}
	return s, true, nil
}

func (k *KVDB) SaveSample(lat, lon float64, s Sample) error {
	val, err := EncodeSample(s)
	if err != nil {
		return err
	}
	if err := k.db.Set(SampleKey(lat, lon), val, pebble.Sync); err != nil {
		return fmt.Errorf("save terrain sample: %w", err)
	}
	return nil
}

func (k *KVDB) Close() error {
	return k.db.Close()
}
