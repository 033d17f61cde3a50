package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lintang/railroute/pkg/datastructure"
	"lintang/railroute/pkg/geo"
	"lintang/railroute/pkg/osmparser"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

var ErrBuildCancelled = errors.New("route build cancelled")

// TerrainSampler resolves the surface position of a point. Any error counts as a failed sample.
type TerrainSampler interface {
	Sample(ctx context.Context, p orb.Point) (geo.LLA, error)
}

// Frame converts geodetic positions into the local build frame. The origin is set once per build.
type Frame interface {
	SetOrigin(origin geo.LLA) error
	ToLocal(p geo.LLA) (r3.Vector, error)
}

// preloader is implemented by samplers that can warm up before the first sample.
type preloader interface {
	Preload(points []orb.Point) int
}

type Result struct {
	RelationID int64                            `json:"relation_id"`
	Name       string                           `json:"name,omitempty"`
	Curve      *RouteCurve                      `json:"curve"`
	Anomalies  []datastructure.AnomalousSegment `json:"anomalies"`
	Stops      []datastructure.StopMarker       `json:"stops"`
	Nodes      []datastructure.RouteNode        `json:"-"`
	Polyline   string                           `json:"polyline"`
	Stats      Stats                            `json:"stats"`
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.log = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithFrameFactory replaces the WGS-84 ENU frame built for every build.
func WithFrameFactory(newFrame func() Frame) Option {
	return func(b *Builder) {
		if newFrame != nil {
			b.newFrame = newFrame
		}
	}
}

// Builder turns a railway relation into a terrain following curve. One builder runs
// at most one build at a time.
type Builder struct {
	source   osmparser.RelationSource
	sampler  TerrainSampler
	cfg      Config
	log      *slog.Logger
	metrics  *Metrics
	newFrame func() Frame

	run sync.Mutex // held for the whole build

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

func NewBuilder(source osmparser.RelationSource, sampler TerrainSampler, cfg Config, opts ...Option) (*Builder, error) {
	if source == nil {
		return nil, errors.New("route builder needs a relation source")
	}
	if sampler == nil {
		return nil, errors.New("route builder needs a terrain sampler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route config: %w", err)
	}
	b := &Builder{
		source:   source,
		sampler:  sampler,
		cfg:      cfg,
		log:      slog.Default(),
		newFrame: func() Frame { return geo.NewENUFrame() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Builder) Config() Config {
	return b.cfg
}

// Cancel aborts the build in flight, if any. The build returns ErrBuildCancelled.
func (b *Builder) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// Start builds the curve of relationID. A build already running on b is cancelled first
// and Start waits for it to return. relationID 0 takes the first relation of the payload.
func (b *Builder) Start(ctx context.Context, relationID osm.RelationID) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.gen++
	gen := b.gen
	b.cancel = cancel
	b.mu.Unlock()

	b.run.Lock()
	defer b.run.Unlock()
	defer func() {
		b.mu.Lock()
		if b.gen == gen {
			b.cancel = nil
		}
		b.mu.Unlock()
	}()

	started := time.Now()
	res, err := b.build(ctx, relationID)
	switch {
	case errors.Is(err, ErrBuildCancelled):
		b.log.Info("route build cancelled", slog.Int64("relation_id", int64(relationID)))
		b.metrics.build("cancelled", started)
	case err != nil:
		b.log.Error("route build failed", slog.Int64("relation_id", int64(relationID)), slog.String("error", err.Error()))
		b.metrics.build("failed", started)
	default:
		b.log.Info("route build done", slog.Int64("relation_id", res.RelationID),
			slog.Int("knots", res.Curve.Len()), slog.Int("anomalies", len(res.Anomalies)),
			slog.Duration("took", time.Since(started)))
		b.metrics.build("done", started)
	}
	return res, err
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}
	return nil
}

func (b *Builder) build(ctx context.Context, relationID osm.RelationID) (*Result, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	objs, err := b.source.FetchRelation(ctx, relationID)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("fetch relation %d: %w", relationID, err)
	}

	data, err := osmparser.DecodeRelation(objs, relationID)
	if err != nil {
		return nil, err
	}
	nodes := osmparser.Flatten(data)
	b.log.Debug("relation flattened", slog.Int64("relation_id", int64(data.RelationID)),
		slog.Int("ways", len(data.WayIDs)), slog.Int("nodes", len(nodes)))

	if p, ok := b.sampler.(preloader); ok {
		points := make([]orb.Point, 0, len(nodes))
		for _, n := range nodes {
			if !n.Tunnel {
				points = append(points, n.Point)
			}
		}
		b.log.Debug("terrain tiles preloaded", slog.Int("tiles", p.Preload(points)))
	}

	queue := make([]datastructure.RouteNode, len(nodes))
	copy(queue, nodes)
	sm := newSmoother(queue, b.sampler, b.newFrame(), b.cfg, b.log, b.metrics)
	if err := sm.run(ctx); err != nil {
		return nil, err
	}

	curve := sm.committer.curve
	curve.Smooth(b.cfg.TangentMode)
	sm.stats.TrackLength = trackLength(nodes)

	return &Result{
		RelationID: int64(data.RelationID),
		Name:       data.Name,
		Curve:      curve,
		Anomalies:  sm.committer.anomalies,
		Stops:      ProjectStops(data.Stops(), nodes),
		Nodes:      nodes,
		Polyline:   datastructure.RenderRouteNodes(nodes),
		Stats:      sm.stats,
	}, nil
}

// trackLength is the haversine length of the flattened route in meters, measured the
// same way as stop distances.
func trackLength(nodes []datastructure.RouteNode) float64 {
	if len(nodes) == 0 {
		return 0
	}
	along := cumulativeDistances(nodes)
	return along[len(along)-1]
}
