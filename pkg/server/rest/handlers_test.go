package rest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lintang/railroute/pkg/kv"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/server/rest"
	"lintang/railroute/pkg/server/rest/service"

	"github.com/go-chi/chi/v5"
	"github.com/golang/geo/r3"
	"github.com/paulmach/osm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantBuilder struct{}

func (instantBuilder) Start(ctx context.Context, id osm.RelationID) (*route.Result, error) {
	return &route.Result{
		RelationID: int64(id),
		Curve:      &route.RouteCurve{Knots: []route.Knot{{Position: r3.Vector{X: 4}}}},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *service.BuildService) {
	t.Helper()
	svc := service.NewBuildService(context.Background(), instantBuilder{}, nil)
	reg := prometheus.NewRegistry()
	m := rest.NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(rest.PromeHttpMiddleware(m))
	rest.RouteRouter(r, svc, m)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func postBuild(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/routes/builds", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRouteHandler(t *testing.T) {
	t.Run("build lifecycle", func(t *testing.T) {
		srv, svc := newTestServer(t)

		resp := postBuild(t, srv, `{"relation_id": 1234}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		started := decode(t, resp)
		assert.NotEmpty(t, started["build_id"])
		assert.Equal(t, float64(1234), started["relation_id"])
		svc.Wait()

		resp, err := http.Get(srv.URL + "/api/routes/builds/current")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		current := decode(t, resp)
		assert.Equal(t, started["build_id"], current["build_id"])
		assert.Equal(t, "done", current["status"])
		assert.NotNil(t, current["result"])

		curveResp, err := http.Get(srv.URL + "/api/routes/builds/current/curve.json.zst")
		require.NoError(t, err)
		defer curveResp.Body.Close()
		require.Equal(t, http.StatusOK, curveResp.StatusCode)
		assert.Equal(t, "application/zstd", curveResp.Header.Get("Content-Type"))

		bb, err := io.ReadAll(curveResp.Body)
		require.NoError(t, err)
		raw, err := kv.Decompress(bb)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"knots"`)
	})

	t.Run("invalid requests", func(t *testing.T) {
		srv, _ := newTestServer(t)

		resp := postBuild(t, srv, `{"relation_id": -5}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode(t, resp)
		assert.NotEmpty(t, body["validation"])

		resp = postBuild(t, srv, `{"relation_id": 0}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = postBuild(t, srv, `not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("nothing built yet", func(t *testing.T) {
		srv, _ := newTestServer(t)

		resp, err := http.Get(srv.URL + "/api/routes/builds/current")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/routes/builds/current", nil)
		require.NoError(t, err)
		del, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer del.Body.Close()
		assert.Equal(t, http.StatusNotFound, del.StatusCode)
	})

	t.Run("hello", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, err := http.Get(srv.URL + "/api/routes/hello")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
