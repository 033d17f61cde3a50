package route

import (
	"fmt"
	"math"

	"lintang/railroute/pkg/datastructure"
	"lintang/railroute/pkg/geo"
	"lintang/railroute/pkg/util"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// CommitResult is the outcome of one commit attempt. Slope is set even when Vetoed.
type CommitResult struct {
	Vetoed bool
	Slope  float64
}

// committer turns batches into curve points and keeps the anomaly diagnostics of one build.
type committer struct {
	frame     Frame
	cfg       Config
	curve     *RouteCurve
	anomalies []datastructure.AnomalousSegment
	metrics   *Metrics
}

func newCommitter(frame Frame, cfg Config, metrics *Metrics) *committer {
	return &committer{
		frame:     frame,
		cfg:       cfg,
		curve:     newRouteCurve(),
		anomalies: make([]datastructure.AnomalousSegment, 0),
		metrics:   metrics,
	}
}

// GradeDegrees is asin(dz/dist) in degrees. A zero dist gives 0 for a flat step and
// +-90 otherwise.
func GradeDegrees(dz, dist float64) float64 {
	if dist <= 0 {
		if dz == 0 {
			return 0
		}
		return math.Copysign(90, dz)
	}
	ratio := util.Clamp(dz/dist, -1, 1)
	return math.Asin(ratio) * 180 / math.Pi
}

func planarDistance(a, b r3.Vector) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// anomalous reports whether slope breaks the absolute grade limit or jumps too far
// from the previously accepted slope.
func (c *committer) anomalous(slope float64, prevSlope *float64) bool {
	if math.Abs(slope) > c.cfg.MaxGradeDegrees {
		return true
	}
	return prevSlope != nil && math.Abs(*prevSlope-slope) > c.cfg.MaxGradeChangeDegrees
}

// planar returns the local positions of batch with Z dropped, and the cumulative planar
// distance from start to each node. The last entry of cum is the distance to end, which
// is the last batch node itself when endIncluded.
func (c *committer) planar(batch []datastructure.RouteNode, start, end r3.Vector,
	startHeight float64, endIncluded bool) ([]r3.Vector, []float64, error) {
	positions := make([]r3.Vector, len(batch))
	steps := make([]float64, len(batch)+1)

	prev := start
	for i, n := range batch {
		p, err := c.frame.ToLocal(geo.NewLLA(n.Point, startHeight))
		if err != nil {
			return nil, nil, fmt.Errorf("local position of node %d: %w", i, err)
		}
		p.Z = 0
		positions[i] = p
		steps[i] = planarDistance(prev, p)
		prev = p
	}
	if !endIncluded {
		steps[len(batch)] = planarDistance(prev, end)
	}

	cum := floats.CumSum(make([]float64, len(steps)), steps)
	return positions, cum, nil
}

// commit tries to turn batch into curve points between the start and end anchors. A non
// final batch with an anomalous grade is vetoed and nothing is emitted. The final batch
// (endIncluded) is always emitted. A final commit with nothing left in the batch only
// closes the curve with its anchor.
func (c *committer) commit(batch []datastructure.RouteNode, start, end geo.LLA,
	prevSlope *float64, endIncluded bool) (CommitResult, error) {
	s, err := c.frame.ToLocal(start)
	if err != nil {
		return CommitResult{}, fmt.Errorf("local start anchor: %w", err)
	}
	e, err := c.frame.ToLocal(end)
	if err != nil {
		return CommitResult{}, fmt.Errorf("local end anchor: %w", err)
	}

	if endIncluded && len(batch) == 0 {
		c.curve.add(s)
		c.metrics.commit()
		return CommitResult{}, nil
	}

	positions, cum, err := c.planar(batch, s, e, start.Height, endIncluded)
	if err != nil {
		return CommitResult{}, err
	}
	total := cum[len(cum)-1]
	slope := GradeDegrees(e.Z-s.Z, total)

	if c.anomalous(slope, prevSlope) {
		c.anomalies = append(c.anomalies, datastructure.AnomalousSegment{
			Start: s,
			End:   e,
			Slope: slope,
			Final: endIncluded,
		})
		c.metrics.anomaly()
		if !endIncluded {
			c.metrics.veto()
			return CommitResult{Vetoed: true, Slope: slope}, nil
		}
	}

	c.curve.add(s)
	height := heightProfile(s.Z, e.Z, total)
	for i, p := range positions {
		p.Z = height(cum[i])
		c.curve.add(p)
	}
	c.metrics.commit()
	return CommitResult{Slope: slope}, nil
}

// emitLeading places nodes queued before the first anchor at the anchor's height.
func (c *committer) emitLeading(batch []datastructure.RouteNode, anchor geo.LLA) error {
	a, err := c.frame.ToLocal(anchor)
	if err != nil {
		return fmt.Errorf("local anchor: %w", err)
	}
	for i, n := range batch {
		p, err := c.frame.ToLocal(geo.NewLLA(n.Point, anchor.Height))
		if err != nil {
			return fmt.Errorf("local position of leading node %d: %w", i, err)
		}
		p.Z = a.Z
		c.curve.add(p)
	}
	return nil
}

// heightProfile interpolates linearly from z0 at distance 0 to z1 at distance total.
func heightProfile(z0, z1, total float64) func(float64) float64 {
	if total <= 0 {
		return func(float64) float64 { return z0 }
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit([]float64{0, total}, []float64{z0, z1}); err != nil {
		return func(d float64) float64 { return util.Lerp(z0, z1, d/total) }
	}
	return pl.Predict
}
