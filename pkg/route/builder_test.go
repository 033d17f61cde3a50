package route_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"lintang/railroute/pkg/geo"
	"lintang/railroute/pkg/osmparser"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/terrain"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planeFrame maps one degree of lon/lat to 1000 m east/north, heights pass through.
type planeFrame struct {
	origin *geo.LLA
}

func (f *planeFrame) SetOrigin(o geo.LLA) error {
	if f.origin != nil {
		return geo.ErrOriginAlreadySet
	}
	f.origin = &o
	return nil
}

func (f *planeFrame) ToLocal(p geo.LLA) (r3.Vector, error) {
	if f.origin == nil {
		return r3.Vector{}, geo.ErrOriginNotSet
	}
	return r3.Vector{X: p.Lon * 1000, Y: p.Lat * 1000, Z: p.Height}, nil
}

type heightSampler struct {
	mu      sync.Mutex
	heights map[orb.Point]float64
	fail    map[orb.Point]bool
	calls   []orb.Point
}

func (s *heightSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return geo.LLA{}, err
	}
	if s.fail[p] {
		return geo.LLA{}, terrain.ErrNoData
	}
	return geo.NewLLA(p, s.heights[p]), nil
}

func (s *heightSampler) called(p orb.Point) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == p {
			n++
		}
	}
	return n
}

// blockingSampler holds the first sample of block until ctx is done.
type blockingSampler struct {
	next    route.TerrainSampler
	block   orb.Point
	once    atomic.Bool
	reached chan struct{}
}

func (s *blockingSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	if p == s.block && s.once.CompareAndSwap(false, true) {
		close(s.reached)
		<-ctx.Done()
		return geo.LLA{}, ctx.Err()
	}
	return s.next.Sample(ctx, p)
}

type staticSource struct {
	objs osm.Objects
}

func (s staticSource) FetchRelation(ctx context.Context, _ osm.RelationID) (osm.Objects, error) {
	return s.objs, nil
}

func trackRelation(ways ...*osm.Way) *osm.Relation {
	r := &osm.Relation{ID: 1, Tags: osm.Tags{{Key: "name", Value: "Purwokerto - Kutoarjo"}}}
	for _, w := range ways {
		r.Members = append(r.Members, osm.Member{Type: osm.TypeWay, Ref: int64(w.ID)})
	}
	return r
}

// straightTrack lays one way along the equator, step degrees of lon apart, and a sampler
// reporting heights for its points in order.
func straightTrack(step float64, heights ...float64) (osm.Objects, *heightSampler) {
	w := &osm.Way{ID: 10}
	sampler := &heightSampler{heights: make(map[orb.Point]float64), fail: make(map[orb.Point]bool)}
	for i, h := range heights {
		lon := float64(i) * step
		w.Nodes = append(w.Nodes, osm.WayNode{Lat: 0, Lon: lon})
		sampler.heights[orb.Point{lon, 0}] = h
	}
	return osm.Objects{trackRelation(w), w}, sampler
}

func newBuilder(t *testing.T, objs osm.Objects, sampler route.TerrainSampler, cfg route.Config, opts ...route.Option) *route.Builder {
	t.Helper()
	opts = append([]route.Option{route.WithFrameFactory(func() route.Frame { return &planeFrame{} })}, opts...)
	b, err := route.NewBuilder(staticSource{objs: objs}, sampler, cfg, opts...)
	require.NoError(t, err)
	return b
}

func heightsOf(c *route.RouteCurve) []float64 {
	hs := make([]float64, 0, c.Len())
	for _, p := range c.Positions() {
		hs = append(hs, p.Z)
	}
	return hs
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestBuilderEndToEnd(t *testing.T) {
	a := &osm.Way{ID: 1, Nodes: osm.WayNodes{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.1}, {Lat: 0, Lon: 0.2}}}
	b := &osm.Way{ID: 2, Nodes: osm.WayNodes{{Lat: 0, Lon: 0.2}, {Lat: 0, Lon: 0.3}}}
	stop := &osm.Node{ID: 5, Lat: 0.0001, Lon: 0.21, Tags: osm.Tags{{Key: "name", Value: "Kebumen"}}}
	rel := trackRelation(a, b)
	rel.Members = append(rel.Members, osm.Member{Type: osm.TypeNode, Ref: 5, Role: "stop"})
	objs := osm.Objects{rel, a, b, stop}

	sampler := &heightSampler{heights: map[orb.Point]float64{}, fail: map[orb.Point]bool{}}
	reg := prometheus.NewRegistry()
	metrics := route.NewMetrics(reg)

	var done, total int
	cfg := route.DefaultConfig()
	cfg.Progress = func(d, tt int) { done, total = d, tt }

	builder := newBuilder(t, objs, sampler, cfg, route.WithMetrics(metrics))
	res, err := builder.Start(context.Background(), 1)
	require.NoError(t, err)

	assert.Len(t, res.Nodes, 4)
	want := []r3.Vector{{X: 0}, {X: 100}, {X: 200}, {X: 300}}
	if diff := cmp.Diff(want, res.Curve.Positions(), approx); diff != "" {
		t.Errorf("curve positions mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Anomalies)
	assert.Equal(t, "Purwokerto - Kutoarjo", res.Name)
	assert.Equal(t, int64(1), res.RelationID)
	assert.NotEmpty(t, res.Polyline)
	assert.Equal(t, route.TangentAutoSmooth, res.Curve.Mode)
	assert.Equal(t, 4, done)
	assert.Equal(t, 4, total)
	assert.Equal(t, 2, res.Stats.SamplesOK)
	assert.InDelta(t, 33395.8, res.Stats.TrackLength, 0.5)

	require.Len(t, res.Stops, 1)
	assert.Equal(t, "Kebumen", res.Stops[0].Name)
	assert.Equal(t, 2, res.Stops[0].NodeIndex)

	expected := `
# HELP railroute_builds_total The total number of route builds
# TYPE railroute_builds_total counter
railroute_builds_total{outcome="done"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "railroute_builds_total"))
}

func TestBuilderStopAtTerminus(t *testing.T) {
	objs, sampler := straightTrack(0.5, 0, 0, 0)
	rel := objs[0].(*osm.Relation)
	rel.Members = append(rel.Members, osm.Member{Type: osm.TypeNode, Ref: 7, Role: "stop"})
	objs = append(objs, &osm.Node{ID: 7, Lat: 0, Lon: 1})

	res, err := newBuilder(t, objs, sampler, route.DefaultConfig()).Start(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, res.Stops, 1)
	assert.Equal(t, 2, res.Stops[0].NodeIndex)
	assert.InDelta(t, res.Stats.TrackLength, res.Stops[0].DistanceAlong, 0.01)
	assert.InDelta(t, 111319.49, res.Stats.TrackLength, 0.01)
}

func TestBuilderInterpolatesBetweenAnchors(t *testing.T) {
	cfg := route.DefaultConfig()
	cfg.NodesPerSample = 1
	cfg.MaxGradeDegrees = 10

	t.Run("on the anchor line", func(t *testing.T) {
		objs, sampler := straightTrack(0.5, 0, 0, 100)

		res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		require.Equal(t, 3, res.Curve.Len())
		assert.InDelta(t, 50.0, res.Curve.Knots[1].Position.Z, 1e-9)
		assert.InDelta(t, 100.0, res.Curve.Knots[2].Position.Z, 1e-9)
		assert.Empty(t, res.Anomalies)
	})

	t.Run("off the anchor line", func(t *testing.T) {
		// the middle node sits 100 m north of the chord, halfway along the track
		w := &osm.Way{ID: 10, Nodes: osm.WayNodes{{Lat: 0, Lon: 0}, {Lat: 0.1, Lon: 0.5}, {Lat: 0, Lon: 1}}}
		sampler := &heightSampler{
			heights: map[orb.Point]float64{{0, 0}: 0, {1, 0}: 100},
			fail:    map[orb.Point]bool{},
		}

		res, err := newBuilder(t, osm.Objects{trackRelation(w), w}, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		want := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 500, Y: 100, Z: 50}, {X: 1000, Y: 0, Z: 100}}
		if diff := cmp.Diff(want, res.Curve.Positions(), approx); diff != "" {
			t.Errorf("curve positions mismatch (-want +got):\n%s", diff)
		}
		assert.Zero(t, sampler.called(orb.Point{0.5, 0.1}))
		assert.Empty(t, res.Anomalies)
	})
}

func TestBuilderGradeVeto(t *testing.T) {
	t.Run("absolute grade", func(t *testing.T) {
		// a 100 m spike in the middle of a flat track
		objs, sampler := straightTrack(0.5, 0, 0, 100, 0, 0)
		cfg := route.DefaultConfig()
		cfg.NodesPerSample = 1

		res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		if diff := cmp.Diff([]float64{0, 0, 0, 0, 0}, heightsOf(res.Curve), approx); diff != "" {
			t.Errorf("heights mismatch (-want +got):\n%s", diff)
		}
		require.Len(t, res.Anomalies, 1)
		assert.False(t, res.Anomalies[0].Final)
		assert.InDelta(t, 5.739, res.Anomalies[0].Slope, 1e-3)
		assert.Equal(t, r3.Vector{X: 0, Z: 0}, res.Anomalies[0].Start)
		assert.Equal(t, r3.Vector{X: 1000, Z: 100}, res.Anomalies[0].End)
		assert.Equal(t, 1, res.Stats.Vetoes)
	})

	t.Run("grade change", func(t *testing.T) {
		objs, sampler := straightTrack(0.5, 0, 0, 20, 0, 100)
		cfg := route.DefaultConfig()
		cfg.NodesPerSample = 1
		cfg.MaxGradeDegrees = 10

		res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		require.Len(t, res.Anomalies, 2)
		assert.False(t, res.Anomalies[0].Final)
		assert.InDelta(t, 4.589, res.Anomalies[0].Slope, 1e-3)
		// the vetoed batch is forced in at the end and recorded again
		assert.True(t, res.Anomalies[1].Final)
		assert.Equal(t, 1, res.Stats.Vetoes)
		// the vetoed last node closes the curve without a second request
		assert.Equal(t, 1, sampler.called(orb.Point{2, 0}))
		assert.Equal(t, 3, res.Stats.SamplesOK)

		if diff := cmp.Diff([]float64{0, 10, 20, 60, 100}, heightsOf(res.Curve), approx); diff != "" {
			t.Errorf("heights mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("steep final batch is committed", func(t *testing.T) {
		objs, sampler := straightTrack(0.5, 0, 0, 100)

		res, err := newBuilder(t, objs, sampler, route.DefaultConfig()).Start(context.Background(), 1)
		require.NoError(t, err)

		if diff := cmp.Diff([]float64{0, 50, 100}, heightsOf(res.Curve), approx); diff != "" {
			t.Errorf("heights mismatch (-want +got):\n%s", diff)
		}
		require.Len(t, res.Anomalies, 1)
		assert.True(t, res.Anomalies[0].Final)
		assert.Zero(t, res.Stats.Vetoes)
	})
}

func TestBuilderTunnel(t *testing.T) {
	in := &osm.Way{ID: 1, Nodes: osm.WayNodes{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.1}}}
	tunnel := &osm.Way{ID: 2, Tags: osm.Tags{{Key: "tunnel", Value: "yes"}},
		Nodes: osm.WayNodes{{Lat: 0, Lon: 0.1}, {Lat: 0, Lon: 0.2}, {Lat: 0, Lon: 0.3}}}
	out := &osm.Way{ID: 3, Nodes: osm.WayNodes{{Lat: 0, Lon: 0.3}, {Lat: 0, Lon: 0.4}}}
	objs := osm.Objects{trackRelation(in, tunnel, out), in, tunnel, out}

	sampler := &heightSampler{
		heights: map[orb.Point]float64{{0, 0}: 0, {0.4, 0}: 40},
		fail:    map[orb.Point]bool{},
	}
	cfg := route.DefaultConfig()
	cfg.NodesPerSample = 1
	cfg.MaxGradeDegrees = 10

	res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
	require.NoError(t, err)

	for _, p := range []orb.Point{{0.1, 0}, {0.2, 0}, {0.3, 0}} {
		assert.Zero(t, sampler.called(p), "tunnel node %v sampled", p)
	}
	assert.Equal(t, 3, res.Stats.TunnelNodes)
	if diff := cmp.Diff([]float64{0, 10, 20, 30, 40}, heightsOf(res.Curve), approx); diff != "" {
		t.Errorf("heights mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderSampleFailure(t *testing.T) {
	t.Run("failed node is skipped once", func(t *testing.T) {
		objs, sampler := straightTrack(0.1, 0, 0, 0, 0, 0)
		sampler.fail[orb.Point{0.2, 0}] = true
		cfg := route.DefaultConfig()
		cfg.NodesPerSample = 1

		res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		assert.Equal(t, 5, res.Curve.Len())
		assert.Equal(t, 1, res.Stats.SamplesFailed)
		assert.Equal(t, 1, sampler.called(orb.Point{0.2, 0}))
		assert.Zero(t, sampler.called(orb.Point{0.1, 0}))
	})

	t.Run("failed last node is not retried", func(t *testing.T) {
		objs, sampler := straightTrack(0.1, 0, 0, 0)
		sampler.fail[orb.Point{0.2, 0}] = true
		cfg := route.DefaultConfig()
		cfg.NodesPerSample = 1

		res, err := newBuilder(t, objs, sampler, cfg).Start(context.Background(), 1)
		require.NoError(t, err)

		assert.Equal(t, 1, sampler.called(orb.Point{0.2, 0}))
		assert.Equal(t, 1, res.Stats.SamplesFailed)
		if diff := cmp.Diff([]float64{0, 0, 0}, heightsOf(res.Curve), approx); diff != "" {
			t.Errorf("heights mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no sample succeeds", func(t *testing.T) {
		objs, sampler := straightTrack(0.1, 0, 0, 0)
		for p := range sampler.heights {
			sampler.fail[p] = true
		}

		res, err := newBuilder(t, objs, sampler, route.DefaultConfig()).Start(context.Background(), 1)
		require.NoError(t, err)
		assert.Zero(t, res.Curve.Len())
	})
}

func TestBuilderDuplicateIdentifier(t *testing.T) {
	objs, sampler := straightTrack(0.1, 0, 0)
	objs = append(objs, &osm.Way{ID: 10})

	_, err := newBuilder(t, objs, sampler, route.DefaultConfig()).Start(context.Background(), 1)
	require.ErrorIs(t, err, osmparser.ErrDuplicateIdentifier)
}

func TestBuilderCancel(t *testing.T) {
	objs, base := straightTrack(0.125, 0, 10, 20, 40, 50, 60, 70, 70, 70, 75, 80, 90)
	cfg := route.DefaultConfig()
	cfg.NodesPerSample = 2
	cfg.MaxGradeDegrees = 10

	want, err := newBuilder(t, objs, base, cfg).Start(context.Background(), 1)
	require.NoError(t, err)

	t.Run("cancel then restart", func(t *testing.T) {
		sampler := &blockingSampler{next: base, block: orb.Point{0.375, 0}, reached: make(chan struct{})}
		b := newBuilder(t, objs, sampler, cfg)

		go func() {
			<-sampler.reached
			b.Cancel()
		}()
		res, err := b.Start(context.Background(), 1)
		require.ErrorIs(t, err, route.ErrBuildCancelled)
		assert.Nil(t, res)

		res, err = b.Start(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, want.Curve, res.Curve)
		assert.Equal(t, want.Anomalies, res.Anomalies)
	})

	t.Run("start cancels the build in flight", func(t *testing.T) {
		sampler := &blockingSampler{next: base, block: orb.Point{0.375, 0}, reached: make(chan struct{})}
		b := newBuilder(t, objs, sampler, cfg)

		first := make(chan error, 1)
		go func() {
			_, err := b.Start(context.Background(), 1)
			first <- err
		}()
		<-sampler.reached

		res, err := b.Start(context.Background(), 1)
		require.NoError(t, err)
		require.ErrorIs(t, <-first, route.ErrBuildCancelled)
		assert.Equal(t, want.Curve, res.Curve)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newBuilder(t, objs, base, cfg).Start(ctx, 1)
		require.ErrorIs(t, err, route.ErrBuildCancelled)
	})
}

func TestBuilderWithENUFrame(t *testing.T) {
	objs, _ := straightTrack(0.001, 0, 0, 0)
	cfg := route.DefaultConfig()

	b, err := route.NewBuilder(staticSource{objs: objs}, terrain.FlatSampler{Height: 120}, cfg)
	require.NoError(t, err)
	res, err := b.Start(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, 3, res.Curve.Len())
	first := res.Curve.Knots[0].Position
	assert.InDelta(t, 0, first.X, 1e-6)
	assert.InDelta(t, 0, first.Y, 1e-6)
	assert.InDelta(t, -cfg.OriginHeightOffset, first.Z, 1e-6)

	last := res.Curve.Knots[2].Position
	assert.InDelta(t, 222.6, last.X, 0.5)
	assert.InDelta(t, -cfg.OriginHeightOffset, last.Z, 0.01)
}

func TestNewBuilder(t *testing.T) {
	objs, sampler := straightTrack(0.1, 0, 0)

	_, err := route.NewBuilder(nil, sampler, route.DefaultConfig())
	assert.Error(t, err)
	_, err = route.NewBuilder(staticSource{objs: objs}, nil, route.DefaultConfig())
	assert.Error(t, err)

	cfg := route.DefaultConfig()
	cfg.NodesPerSample = 0
	_, err = route.NewBuilder(staticSource{objs: objs}, sampler, cfg)
	assert.Error(t, err)
}
