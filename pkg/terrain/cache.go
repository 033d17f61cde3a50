package terrain

import (
	"context"
	"log/slog"

	"lintang/railroute/pkg/geo"
	"lintang/railroute/pkg/kv"

	"github.com/paulmach/orb"
)

// SampleStore is the persistence the cache needs, satisfied by *kv.KVDB.
type SampleStore interface {
	GetSample(lat, lon float64) (kv.Sample, bool, error)
	SaveSample(lat, lon float64, s kv.Sample) error
}

// CachedSampler memoizes successful samples of another sampler. Failures are never
// stored so a later build asks the source again.
type CachedSampler struct {
	next  Sampler
	store SampleStore
	log   *slog.Logger
}

func NewCachedSampler(next Sampler, store SampleStore, logger *slog.Logger) *CachedSampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSampler{next: next, store: store, log: logger}
}

func (c *CachedSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	cached, ok, err := c.store.GetSample(p.Lat(), p.Lon())
	if err != nil {
		c.log.Warn("terrain cache read failed", "lat", p.Lat(), "lon", p.Lon(), "error", err)
	}
	if ok {
		return geo.LLA{Lon: cached.Lon, Lat: cached.Lat, Height: cached.Height}, nil
	}

	pos, err := c.next.Sample(ctx, p)
	if err != nil {
		return geo.LLA{}, err
	}

	if err := c.store.SaveSample(p.Lat(), p.Lon(), kv.Sample{Lon: pos.Lon, Lat: pos.Lat, Height: pos.Height}); err != nil {
		c.log.Warn("terrain cache write failed", "lat", p.Lat(), "lon", p.Lon(), "error", err)
	}
	return pos, nil
}

// Preload forwards to the wrapped sampler when it can preload.
func (c *CachedSampler) Preload(points []orb.Point) int {
	if p, ok := c.next.(interface{ Preload([]orb.Point) int }); ok {
		return p.Preload(points)
	}
	return 0
}
