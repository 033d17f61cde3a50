package osmparser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/paulmach/osm"
)

const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// RelationSource returns the payload holding a route relation with its ways and stops.
type RelationSource interface {
	FetchRelation(ctx context.Context, id osm.RelationID) (osm.Objects, error)
}

// FileSource serves every relation from one local osm file.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) FetchRelation(ctx context.Context, _ osm.RelationID) (osm.Objects, error) {
	return LoadFile(ctx, s.Path)
}

// OverpassSource queries the overpass api for a relation, its member ways with
// geometry and its member nodes.
type OverpassSource struct {
	endpoint   string
	timeout    time.Duration
	retryCount int
	backoff    heimdall.Backoff
}

func NewOverpassSource(endpoint string, timeout time.Duration, retryCount int) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}
	return &OverpassSource{
		endpoint:   endpoint,
		timeout:    timeout,
		retryCount: retryCount,
		backoff:    heimdall.NewConstantBackoff(500*time.Millisecond, 250*time.Millisecond),
	}
}

// client builds a heimdall client whose retrier stops waiting once ctx is done. The
// retry loop sleeps without looking at the request context otherwise.
func (s *OverpassSource) client(ctx context.Context) *httpclient.Client {
	retrier := heimdall.RetriableFunc(func(retry int) time.Duration {
		if ctx.Err() != nil {
			return 0
		}
		return s.backoff.Next(retry)
	})
	return httpclient.NewClient(
		httpclient.WithHTTPTimeout(s.timeout),
		httpclient.WithRetryCount(s.retryCount),
		httpclient.WithRetrier(retrier),
	)
}

func OverpassQuery(id osm.RelationID) string {
	return fmt.Sprintf("[out:json];relation(%d);(._;way(r);node(r););out geom;", id)
}

func (s *OverpassSource) FetchRelation(ctx context.Context, id osm.RelationID) (osm.Objects, error) {
	u := s.endpoint + "?data=" + url.QueryEscape(OverpassQuery(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create overpass request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client(ctx).Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass request: status %d: %s", resp.StatusCode, b)
	}
	return ParseOverpassJSON(resp.Body)
}
