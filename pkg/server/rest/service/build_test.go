package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"lintang/railroute/pkg/kv"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/server"
	"lintang/railroute/pkg/server/rest/service"

	"github.com/golang/geo/r3"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	mu    sync.Mutex
	block map[osm.RelationID]bool
	fail  error
	calls []osm.RelationID
}

func (f *fakeBuilder) Start(ctx context.Context, id osm.RelationID) (*route.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	block, fail := f.block[id], f.fail
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", route.ErrBuildCancelled, ctx.Err())
	}
	if fail != nil {
		return nil, fail
	}
	return &route.Result{
		RelationID: int64(id),
		Curve:      &route.RouteCurve{Knots: []route.Knot{{Position: r3.Vector{X: 1, Y: 2, Z: 3}}}},
	}, nil
}

func errCode(t *testing.T, err error) error {
	t.Helper()
	var serr *server.Error
	require.True(t, errors.As(err, &serr), "not a server error: %v", err)
	return serr.Code()
}

func TestBuildService(t *testing.T) {
	ctx := context.Background()

	t.Run("build runs to completion", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{}, nil)
		started, err := svc.StartBuild(ctx, 42)
		require.NoError(t, err)
		assert.NotEmpty(t, started.ID)
		assert.Equal(t, service.StatusRunning, started.Status)

		svc.Wait()
		b, err := svc.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, started.ID, b.ID)
		assert.Equal(t, service.StatusDone, b.Status)
		require.NotNil(t, b.Result)
		assert.Equal(t, int64(42), b.Result.RelationID)
		assert.NotNil(t, b.FinishedAt)
	})

	t.Run("started build is a snapshot", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{}, nil)
		for i := 0; i < 50; i++ {
			started, err := svc.StartBuild(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, service.StatusRunning, started.Status)
			assert.Nil(t, started.FinishedAt)
			assert.Nil(t, started.Result)
		}
		svc.Wait()
	})

	t.Run("new build cancels the running one", func(t *testing.T) {
		builder := &fakeBuilder{block: map[osm.RelationID]bool{7: true}}
		svc := service.NewBuildService(ctx, builder, nil)

		_, err := svc.StartBuild(ctx, 7)
		require.NoError(t, err)
		second, err := svc.StartBuild(ctx, 8)
		require.NoError(t, err)

		svc.Wait()
		b, err := svc.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, b.ID)
		assert.Equal(t, service.StatusDone, b.Status)
		assert.Equal(t, []osm.RelationID{7, 8}, builder.calls)
	})

	t.Run("cancel", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{block: map[osm.RelationID]bool{7: true}}, nil)
		_, err := svc.StartBuild(ctx, 7)
		require.NoError(t, err)

		b, err := svc.CancelCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, service.StatusCancelled, b.Status)
		assert.Nil(t, b.Result)
	})

	t.Run("failed build", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{fail: errors.New("relation 9 not found")}, nil)
		_, err := svc.StartBuild(ctx, 9)
		require.NoError(t, err)

		svc.Wait()
		b, err := svc.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, service.StatusFailed, b.Status)
		assert.Equal(t, "relation 9 not found", b.Error)

		_, _, err = svc.CurrentCurve(ctx)
		assert.Equal(t, server.ErrConflict, errCode(t, err))
	})

	t.Run("no build", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{}, nil)

		_, err := svc.Current(ctx)
		assert.Equal(t, server.ErrNotFound, errCode(t, err))
		_, err = svc.CancelCurrent(ctx)
		assert.Equal(t, server.ErrNotFound, errCode(t, err))
		_, err = svc.StartBuild(ctx, 0)
		assert.Equal(t, server.ErrBadParamInput, errCode(t, err))
	})

	t.Run("compressed curve", func(t *testing.T) {
		svc := service.NewBuildService(ctx, &fakeBuilder{}, nil)
		started, err := svc.StartBuild(ctx, 42)
		require.NoError(t, err)
		svc.Wait()

		id, bb, err := svc.CurrentCurve(ctx)
		require.NoError(t, err)
		assert.Equal(t, started.ID, id)

		raw, err := kv.Decompress(bb)
		require.NoError(t, err)
		var curve route.RouteCurve
		require.NoError(t, json.Unmarshal(raw, &curve))
		require.Len(t, curve.Knots, 1)
		assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, curve.Knots[0].Position)
	})
}
