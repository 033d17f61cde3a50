package terrain

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"lintang/railroute/pkg/kv"

	"github.com/cockroachdb/pebble"
)

type Options struct {
	// HGTDir selects local SRTM tiles. It wins over OpenTopoDataURL.
	HGTDir          string
	OpenTopoDataURL string
	OpenTopoDataset string
	// FlatHeight is used when no terrain source is configured.
	FlatHeight float64
	// CacheDir enables the pebble sample cache.
	CacheDir string
	Workers  int
	Timeout  time.Duration
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the sampler described by opts. The closer releases the sample cache.
func Open(opts Options, logger *slog.Logger) (Sampler, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var s Sampler
	switch {
	case opts.HGTDir != "":
		s = NewHGTSampler(opts.HGTDir, opts.Workers, logger)
		logger.Info("terrain from srtm tiles", slog.String("dir", opts.HGTDir))
	case opts.OpenTopoDataURL != "":
		s = NewOpenTopoDataSampler(opts.OpenTopoDataURL, opts.OpenTopoDataset, opts.Timeout)
		logger.Info("terrain from opentopodata", slog.String("url", opts.OpenTopoDataURL))
	default:
		s = FlatSampler{Height: opts.FlatHeight}
		logger.Warn("no terrain source configured, using flat terrain", slog.Float64("height", opts.FlatHeight))
	}

	if opts.CacheDir == "" {
		return s, nopCloser{}, nil
	}
	db, err := pebble.Open(opts.CacheDir, &pebble.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("open terrain cache %s: %w", opts.CacheDir, err)
	}
	kvDB := kv.NewKVDB(db)
	return NewCachedSampler(s, kvDB, logger), kvDB, nil
}
