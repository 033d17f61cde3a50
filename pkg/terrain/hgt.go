package terrain

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lintang/railroute/pkg/concurrent"
	"lintang/railroute/pkg/geo"

	"github.com/paulmach/orb"
)

// srtm void value
const hgtVoid = -32768

// hgtTile is one SRTM tile: size x size big-endian int16 samples, rows from north to
// south. Neighbouring tiles share their edge row and column.
type hgtTile struct {
	lat, lon int // south-west corner
	size     int
	data     []int16
}

func (t *hgtTile) at(row, col int) int16 {
	return t.data[row*t.size+col]
}

// HGTSampler reads SRTM1/SRTM3 .hgt (or .hgt.zip) tiles from a directory. Tiles are
// loaded on first use and kept in memory.
type HGTSampler struct {
	dir     string
	workers int
	log     *slog.Logger

	mu    sync.RWMutex
	tiles map[string]*hgtTile // nil value = tile not available
}

func NewHGTSampler(dir string, workers int, logger *slog.Logger) *HGTSampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HGTSampler{
		dir:     dir,
		workers: workers,
		log:     logger,
		tiles:   make(map[string]*hgtTile),
	}
}

// TileName returns the SRTM name of the tile covering lat,lon, e.g. N47E008.
func TileName(lat, lon float64) string {
	la := int(math.Floor(lat))
	lo := int(math.Floor(lon))
	ns, ew := "N", "E"
	if la < 0 {
		ns = "S"
		la = -la
	}
	if lo < 0 {
		ew = "W"
		lo = -lo
	}
	return fmt.Sprintf("%s%02d%s%03d", ns, la, ew, lo)
}

func (s *HGTSampler) Sample(ctx context.Context, p orb.Point) (geo.LLA, error) {
	if err := ctx.Err(); err != nil {
		return geo.LLA{}, err
	}
	tile, err := s.tile(TileName(p.Lat(), p.Lon()))
	if err != nil {
		return geo.LLA{}, err
	}

	h, err := tile.height(p.Lat(), p.Lon())
	if err != nil {
		return geo.LLA{}, err
	}
	return geo.NewLLA(p, h), nil
}

// height interpolates bilinearly between the four surrounding samples.
func (t *hgtTile) height(lat, lon float64) (float64, error) {
	n := float64(t.size - 1)
	x := (lon - float64(t.lon)) * n
	y := (float64(t.lat+1) - lat) * n

	col := int(math.Floor(x))
	row := int(math.Floor(y))
	if col >= t.size-1 {
		col = t.size - 2
	}
	if row >= t.size-1 {
		row = t.size - 2
	}
	if col < 0 || row < 0 {
		return 0, ErrNoData
	}
	fx := x - float64(col)
	fy := y - float64(row)

	corners := [4]struct {
		h int16
		w float64
	}{
		{t.at(row, col), (1 - fx) * (1 - fy)},
		{t.at(row, col+1), fx * (1 - fy)},
		{t.at(row+1, col), (1 - fx) * fy},
		{t.at(row+1, col+1), fx * fy},
	}

	// a void only spoils the sample when it carries weight
	h := 0.0
	for _, c := range corners {
		if c.w == 0 {
			continue
		}
		if c.h == hgtVoid {
			return 0, ErrNoData
		}
		h += c.w * float64(c.h)
	}
	return h, nil
}

func (s *HGTSampler) tile(name string) (*hgtTile, error) {
	s.mu.RLock()
	t, ok := s.tiles[name]
	s.mu.RUnlock()
	if !ok {
		t = s.load(name)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: tile %s not available", ErrNoData, name)
	}
	return t, nil
}

func (s *HGTSampler) load(name string) *hgtTile {
	t, err := readTile(s.dir, name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("failed to read hgt tile", "tile", name, "error", err)
	}

	s.mu.Lock()
	s.tiles[name] = t
	s.mu.Unlock()
	return t
}

// Preload reads the tiles covering points with a worker pool so the build does not
// stall on tile decoding. Missing tiles are remembered as unavailable.
func (s *HGTSampler) Preload(points []orb.Point) int {
	names := make(map[string]struct{})
	for _, p := range points {
		names[TileName(p.Lat(), p.Lon())] = struct{}{}
	}

	workers := concurrent.NewWorkerPool[concurrent.TileJobItem, bool](s.workers, len(names))
	for name := range names {
		workers.AddJob(concurrent.TileJobItem{Name: name, Path: s.dir})
	}
	workers.Close()

	workers.Start(func(job concurrent.TileJobItem) bool {
		return s.load(job.Name) != nil
	})
	workers.Wait()

	loaded := 0
	for ok := range workers.CollectResults() {
		if ok {
			loaded++
		}
	}
	return loaded
}

func readTile(dir, name string) (*hgtTile, error) {
	var (
		b   []byte
		err error
	)
	b, err = os.ReadFile(filepath.Join(dir, name+".hgt"))
	if errors.Is(err, fs.ErrNotExist) {
		b, err = readZippedTile(filepath.Join(dir, name+".hgt.zip"))
	}
	if err != nil {
		return nil, err
	}
	return parseTile(name, b)
}

func readZippedTile(path string) ([]byte, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer z.Close()

	for _, f := range z.File {
		if strings.HasPrefix(filepath.Base(f.Name), ".") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		return b, err
	}
	return nil, fmt.Errorf("empty hgt archive %s", path)
}

func parseTile(name string, b []byte) (*hgtTile, error) {
	var ns, ew string
	var lat, lon int
	if _, err := fmt.Sscanf(name, "%1s%d%1s%d", &ns, &lat, &ew, &lon); err != nil {
		return nil, fmt.Errorf("parse tile name %q: %w", name, err)
	}
	if ns == "S" {
		lat = -lat
	}
	if ew == "W" {
		lon = -lon
	}

	size := int(math.Sqrt(float64(len(b) / 2)))
	if size < 2 || size*size*2 != len(b) {
		return nil, fmt.Errorf("tile %s: unexpected size %d bytes", name, len(b))
	}

	data := make([]int16, size*size)
	for i := range data {
		data[i] = int16(uint16(b[2*i])<<8 | uint16(b[2*i+1]))
	}
	return &hgtTile{lat: lat, lon: lon, size: size, data: data}, nil
}
