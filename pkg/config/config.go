package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"lintang/railroute/pkg/osmparser"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/terrain"

	"github.com/joho/godotenv"
)

// Config holds what the railroute commands share. Every flag defaults to an
// environment variable, which may come from a .env file.
type Config struct {
	MapFile         string
	OverpassURL     string
	OverpassTimeout time.Duration
	OverpassRetries int
	LogLevel        string
	Terrain         terrain.Options
	Route           route.Config
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if i, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return i
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}

// LoadEnv reads a .env file from the working directory when there is one.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Register binds the shared flags to fs with environment defaults.
func Register(fs *flag.FlagSet) *Config {
	def := route.DefaultConfig()
	c := &Config{Route: def}

	fs.StringVar(&c.MapFile, "f", getEnv("RAILROUTE_OSM_FILE", ""), "osm file (.osm, .pbf or overpass .json) holding the route relation, overpass is queried when empty")
	fs.StringVar(&c.OverpassURL, "overpass", getEnv("RAILROUTE_OVERPASS_URL", osmparser.DefaultOverpassEndpoint), "overpass api interpreter url")
	fs.DurationVar(&c.OverpassTimeout, "overpass-timeout", getEnvDuration("RAILROUTE_OVERPASS_TIMEOUT", 60*time.Second), "overpass request timeout")
	fs.IntVar(&c.OverpassRetries, "overpass-retries", getEnvInt("RAILROUTE_OVERPASS_RETRIES", 2), "overpass retry count")
	fs.StringVar(&c.LogLevel, "log-level", getEnv("RAILROUTE_LOG_LEVEL", "info"), "debug, info, warn or error")

	fs.StringVar(&c.Terrain.HGTDir, "hgt", getEnv("RAILROUTE_HGT_DIR", ""), "directory of srtm .hgt tiles")
	fs.StringVar(&c.Terrain.OpenTopoDataURL, "opentopodata", getEnv("RAILROUTE_OPENTOPODATA_URL", ""), "opentopodata api base url")
	fs.StringVar(&c.Terrain.OpenTopoDataset, "dataset", getEnv("RAILROUTE_OPENTOPODATA_DATASET", "srtm30m"), "opentopodata dataset")
	fs.Float64Var(&c.Terrain.FlatHeight, "flat-height", getEnvFloat("RAILROUTE_FLAT_HEIGHT", 0), "terrain height when no terrain source is set")
	fs.StringVar(&c.Terrain.CacheDir, "cache", getEnv("RAILROUTE_TERRAIN_CACHE", ""), "pebble directory caching terrain samples")
	fs.IntVar(&c.Terrain.Workers, "workers", getEnvInt("RAILROUTE_WORKERS", runtime.NumCPU()), "tile loading workers")
	fs.DurationVar(&c.Terrain.Timeout, "terrain-timeout", getEnvDuration("RAILROUTE_TERRAIN_TIMEOUT", 10*time.Second), "terrain request timeout")

	fs.IntVar(&c.Route.NodesPerSample, "nodes-per-sample", getEnvInt("RAILROUTE_NODES_PER_SAMPLE", def.NodesPerSample), "route nodes batched per terrain sample")
	fs.Float64Var(&c.Route.MaxGradeDegrees, "max-grade", getEnvFloat("RAILROUTE_MAX_GRADE", def.MaxGradeDegrees), "max grade in degrees")
	fs.Float64Var(&c.Route.MaxGradeChangeDegrees, "max-grade-change", getEnvFloat("RAILROUTE_MAX_GRADE_CHANGE", def.MaxGradeChangeDegrees), "max grade change between batches in degrees")
	fs.Float64Var(&c.Route.OriginHeightOffset, "origin-offset", getEnvFloat("RAILROUTE_ORIGIN_OFFSET", def.OriginHeightOffset), "height of the local origin above the first sample")
	mode, err := route.ParseTangentMode(getEnv("RAILROUTE_TANGENTS", def.TangentMode.String()))
	if err != nil {
		mode = def.TangentMode
	}
	fs.TextVar(&c.Route.TangentMode, "tangents", mode, "auto_smooth or linear")
	return c
}

func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c *Config) Validate() error {
	if c.MapFile != "" {
		if _, err := os.Stat(c.MapFile); err != nil {
			return fmt.Errorf("osm file: %w", err)
		}
	}
	return c.Route.Validate()
}

// RelationSource reads MapFile when set, otherwise it queries overpass.
func (c *Config) RelationSource() osmparser.RelationSource {
	if c.MapFile != "" {
		return osmparser.NewFileSource(c.MapFile)
	}
	return osmparser.NewOverpassSource(c.OverpassURL, c.OverpassTimeout, c.OverpassRetries)
}
