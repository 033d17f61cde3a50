package terrain

import (
	"context"
	"errors"

	"lintang/railroute/pkg/geo"

	"github.com/paulmach/orb"
)

var (
	// ErrNoData means the source has no height for the point (outside loaded tiles, voids).
	ErrNoData = errors.New("no terrain data for point")
	// ErrSampleFailed wraps transport and decoding failures of remote sources.
	ErrSampleFailed = errors.New("terrain sample failed")
)

// Sampler resolves the surface height at a point. Any error is a failed sample.
type Sampler interface {
	Sample(ctx context.Context, p orb.Point) (geo.LLA, error)
}

// FlatSampler reports the same height everywhere.
type FlatSampler struct {
	Height float64
}

func (s FlatSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	if err := ctx.Err(); err != nil {
		return geo.LLA{}, err
	}
	return geo.NewLLA(p, s.Height), nil
}
