package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lintang/railroute/pkg/kv"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/server"

	"github.com/google/uuid"
	"github.com/paulmach/osm"
)

type RouteBuilder interface {
	Start(ctx context.Context, relationID osm.RelationID) (*route.Result, error)
}

type BuildStatus string

const (
	StatusRunning   BuildStatus = "running"
	StatusDone      BuildStatus = "done"
	StatusFailed    BuildStatus = "failed"
	StatusCancelled BuildStatus = "cancelled"
)

type Build struct {
	ID         string        `json:"build_id"`
	RelationID int64         `json:"relation_id"`
	Status     BuildStatus   `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Result     *route.Result `json:"result,omitempty"`
}

type buildRun struct {
	build  Build
	cancel context.CancelFunc
	done   chan struct{}
}

// BuildService runs route builds in the background. Only the latest build is kept,
// starting a new one cancels the previous.
type BuildService struct {
	builder RouteBuilder
	baseCtx context.Context
	log     *slog.Logger

	mu      sync.Mutex
	current *buildRun
}

func NewBuildService(ctx context.Context, builder RouteBuilder, logger *slog.Logger) *BuildService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BuildService{builder: builder, baseCtx: ctx, log: logger}
}

func (s *BuildService) StartBuild(ctx context.Context, relationID int64) (Build, error) {
	if relationID <= 0 {
		return Build{}, server.WrapErrorf(nil, server.ErrBadParamInput, "relation id must be positive, got %d", relationID)
	}

	buildCtx, cancel := context.WithCancel(s.baseCtx)
	run := &buildRun{
		build: Build{
			ID:         uuid.NewString(),
			RelationID: relationID,
			Status:     StatusRunning,
			StartedAt:  time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.current
	s.current = run
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	started := run.build
	go func() {
		defer close(run.done)
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		res, err := s.builder.Start(buildCtx, osm.RelationID(relationID))
		s.finish(run, res, err)
	}()

	s.log.Info("route build started", slog.String("build_id", started.ID), slog.Int64("relation_id", relationID))
	return started, nil
}

func (s *BuildService) finish(run *buildRun, res *route.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	run.build.FinishedAt = &now
	switch {
	case errors.Is(err, route.ErrBuildCancelled):
		run.build.Status = StatusCancelled
	case err != nil:
		run.build.Status = StatusFailed
		run.build.Error = err.Error()
	default:
		run.build.Status = StatusDone
		run.build.Result = res
	}
}

func (s *BuildService) Current(ctx context.Context) (Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Build{}, server.WrapErrorf(nil, server.ErrNotFound, "no route build started")
	}
	return s.current.build, nil
}

func (s *BuildService) CancelCurrent(ctx context.Context) (Build, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return Build{}, server.WrapErrorf(nil, server.ErrNotFound, "no route build started")
	}

	run.cancel()
	select {
	case <-run.done:
	case <-ctx.Done():
		return Build{}, server.WrapErrorf(ctx.Err(), server.ErrInternalServerError, "waiting for build %s to stop", run.build.ID)
	}
	return s.Current(ctx)
}

// CurrentCurve returns the zstd compressed json of the finished build's curve.
func (s *BuildService) CurrentCurve(ctx context.Context) (string, []byte, error) {
	b, err := s.Current(ctx)
	if err != nil {
		return "", nil, err
	}
	if b.Status != StatusDone {
		return "", nil, server.WrapErrorf(nil, server.ErrConflict, "route build %s is %s", b.ID, b.Status)
	}

	bb, err := json.Marshal(b.Result.Curve)
	if err != nil {
		return "", nil, server.WrapErrorf(err, server.ErrInternalServerError, "encode curve")
	}
	compressed, err := kv.Compress(bb)
	if err != nil {
		return "", nil, server.WrapErrorf(err, server.ErrInternalServerError, "compress curve")
	}
	return b.ID, compressed, nil
}

// Wait blocks until the latest build has returned.
func (s *BuildService) Wait() {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run != nil {
		<-run.done
	}
}
