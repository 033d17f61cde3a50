package terrain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lintang/railroute/pkg/geo"

	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/paulmach/orb"
)

const DefaultOpenTopoDataURL = "https://api.opentopodata.org"

type openTopoDataResponse struct {
	Status string               `json:"status"`
	Error  string               `json:"error"`
	Result []openTopoDataResult `json:"results"`
}

type openTopoDataResult struct {
	Elevation *float64 `json:"elevation"`
	Location  struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

// OpenTopoDataSampler asks an opentopodata server for one point per request.
// It does not retry, a failed point is left to the route builder's skip policy.
type OpenTopoDataSampler struct {
	baseURL string
	dataset string
	client  *httpclient.Client
}

func NewOpenTopoDataSampler(baseURL, dataset string, timeout time.Duration) *OpenTopoDataSampler {
	if baseURL == "" {
		baseURL = DefaultOpenTopoDataURL
	}
	if dataset == "" {
		dataset = "srtm30m"
	}
	return &OpenTopoDataSampler{
		baseURL: baseURL,
		dataset: dataset,
		client:  httpclient.NewClient(httpclient.WithHTTPTimeout(timeout)),
	}
}

func (s *OpenTopoDataSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	locations := strconv.FormatFloat(p.Lat(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon(), 'f', -1, 64)
	u := fmt.Sprintf("%s/v1/%s?locations=%s", s.baseURL, s.dataset, locations)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return geo.LLA{}, fmt.Errorf("%w: create request: %v", ErrSampleFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return geo.LLA{}, fmt.Errorf("%w: %v", ErrSampleFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return geo.LLA{}, fmt.Errorf("%w: status %d", ErrSampleFailed, resp.StatusCode)
	}

	var body openTopoDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.LLA{}, fmt.Errorf("%w: decode response: %v", ErrSampleFailed, err)
	}
	if body.Status != "OK" {
		return geo.LLA{}, fmt.Errorf("%w: status %q: %s", ErrSampleFailed, body.Status, body.Error)
	}
	if len(body.Result) == 0 || body.Result[0].Elevation == nil {
		return geo.LLA{}, ErrNoData
	}

	r := body.Result[0]
	return geo.LLA{Lon: r.Location.Lng, Lat: r.Location.Lat, Height: *r.Elevation}, nil
}
