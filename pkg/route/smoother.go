package route

import (
	"context"
	"fmt"
	"log/slog"

	"lintang/railroute/pkg/datastructure"
	"lintang/railroute/pkg/geo"
)

// Stats counts what happened during one build.
type Stats struct {
	Nodes         int `json:"nodes"`
	SamplesOK     int `json:"samples_ok"`
	SamplesFailed int `json:"samples_failed"`
	TunnelNodes   int `json:"tunnel_nodes"`
	Commits       int `json:"commits"`
	Vetoes        int `json:"vetoes"`
	Anomalies     int `json:"anomalies"`

	TrackLength float64 `json:"track_length_m"`
}

// smoother walks the flattened route once. Sampled nodes become anchors, the nodes
// between two anchors form a batch whose heights are interpolated on commit.
type smoother struct {
	cfg       Config
	sampler   TerrainSampler
	frame     Frame
	committer *committer
	log       *slog.Logger
	metrics   *Metrics

	queue       []datastructure.RouteNode
	batch       []datastructure.RouteNode
	anchor      geo.LLA
	anchorSet   bool
	anchorSlope *float64
	originSet   bool

	total int
	done  int
	stats Stats

	// last sample taken, by node index; the final commit reuses it instead of asking again
	lastIndex int
	lastPos   geo.LLA
	lastOK    bool
}

func newSmoother(nodes []datastructure.RouteNode, sampler TerrainSampler, frame Frame,
	cfg Config, logger *slog.Logger, metrics *Metrics) *smoother {
	tunnels := 0
	for _, n := range nodes {
		if n.Tunnel {
			tunnels++
		}
	}
	return &smoother{
		cfg:       cfg,
		sampler:   sampler,
		frame:     frame,
		committer: newCommitter(frame, cfg, metrics),
		log:       logger,
		metrics:   metrics,
		queue:     nodes,
		batch:     make([]datastructure.RouteNode, 0, cfg.NodesPerSample*2),
		total:     len(nodes),
		stats:     Stats{Nodes: len(nodes), TunnelNodes: tunnels},
		lastIndex: -1,
	}
}

func (s *smoother) progress(n int) {
	s.done += n
	if s.cfg.Progress != nil {
		s.cfg.Progress(s.done, s.total)
	}
}

// take moves up to n nodes from the head of the queue into the batch.
func (s *smoother) take(n int) {
	n = min(n, len(s.queue))
	s.batch = append(s.batch, s.queue[:n]...)
	s.queue = s.queue[n:]
	s.progress(n)
}

func (s *smoother) pop() datastructure.RouteNode {
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.progress(1)
	return head
}

func (s *smoother) ensureOrigin(sample geo.LLA) error {
	if s.originSet {
		return nil
	}
	origin := sample
	origin.Height += s.cfg.OriginHeightOffset
	if err := s.frame.SetOrigin(origin); err != nil {
		return fmt.Errorf("set local origin: %w", err)
	}
	s.originSet = true
	s.log.Debug("local origin set", slog.Float64("lat", origin.Lat), slog.Float64("lon", origin.Lon),
		slog.Float64("height", origin.Height))
	return nil
}

// sample asks the sampler for node idx. A node is sampled at most once per build.
func (s *smoother) sample(ctx context.Context, idx int, n datastructure.RouteNode) (geo.LLA, bool) {
	if idx == s.lastIndex {
		return s.lastPos, s.lastOK
	}
	pos, err := s.sampler.Sample(ctx, n.Point)
	if err != nil {
		if ctx.Err() == nil {
			s.stats.SamplesFailed++
			s.metrics.sample(false)
			s.log.Debug("terrain sample failed", slog.Float64("lat", n.Lat()), slog.Float64("lon", n.Lon()),
				slog.String("error", err.Error()))
			s.lastIndex, s.lastPos, s.lastOK = idx, geo.LLA{}, false
		}
		return geo.LLA{}, false
	}
	s.stats.SamplesOK++
	s.metrics.sample(true)
	s.lastIndex, s.lastPos, s.lastOK = idx, pos, true
	return pos, true
}

func (s *smoother) commit(end geo.LLA, endIncluded bool) (CommitResult, error) {
	before := len(s.committer.anomalies)
	res, err := s.committer.commit(s.batch, s.anchor, end, s.anchorSlope, endIncluded)
	if err != nil {
		return res, err
	}
	s.stats.Anomalies += len(s.committer.anomalies) - before
	if res.Vetoed {
		s.stats.Vetoes++
		s.log.Debug("batch vetoed", slog.Float64("slope", res.Slope), slog.Int("batch", len(s.batch)))
		return res, nil
	}
	s.stats.Commits++
	s.batch = s.batch[:0]
	return res, nil
}

// run drains the queue and commits the final batch. Cancellation is observed once per
// iteration.
func (s *smoother) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		if len(s.queue) == 0 {
			break
		}

		head := s.queue[0]
		if head.Tunnel {
			s.take(1)
			continue
		}

		pos, ok := s.sample(ctx, s.total-len(s.queue), head)
		if !ok {
			s.take(s.cfg.NodesPerSample)
			continue
		}
		if err := s.ensureOrigin(pos); err != nil {
			return err
		}
		s.pop()

		vetoed := false
		var slope *float64
		switch {
		case s.anchorSet:
			res, err := s.commit(pos, false)
			if err != nil {
				return err
			}
			if res.Vetoed {
				vetoed = true
				s.batch = append(s.batch, head)
			} else {
				slope = &res.Slope
			}
		case len(s.batch) > 0:
			if err := s.committer.emitLeading(s.batch, pos); err != nil {
				return err
			}
			s.batch = s.batch[:0]
		}

		s.take(s.cfg.NodesPerSample)
		// a vetoed sample never becomes an anchor, the final commit closes on it instead
		if !vetoed {
			s.anchor = pos
			s.anchorSet = true
			s.anchorSlope = slope
		}
	}
	return s.finish(ctx)
}

func (s *smoother) finish(ctx context.Context) error {
	if !s.anchorSet {
		if s.total > 0 {
			s.log.Warn("no terrain sample succeeded, route has no curve", slog.Int("nodes", s.total))
		}
		return nil
	}

	end := s.anchor
	if n := len(s.batch); n > 0 && !s.batch[n-1].Tunnel {
		// the queue is drained, so the batch ends with the route's last node
		if pos, ok := s.sample(ctx, s.total-1, s.batch[n-1]); ok {
			end = pos
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}

	_, err := s.commit(end, true)
	s.batch = nil
	return err
}
