package geo

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

var (
	ErrOriginAlreadySet = errors.New("frame origin already set")
	ErrOriginNotSet     = errors.New("frame origin not set")
)

// WGS-84 ellipsoid
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// LLA is a geodetic position. Height is meters above the ellipsoid.
type LLA struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

func NewLLA(p orb.Point, height float64) LLA {
	return LLA{Lon: p.Lon(), Lat: p.Lat(), Height: height}
}

func (l LLA) Point() orb.Point {
	return orb.Point{l.Lon, l.Lat}
}

// ToECEF converts to earth-centered earth-fixed meters.
func (l LLA) ToECEF() r3.Vector {
	lat := degToRad(l.Lat)
	lon := degToRad(l.Lon)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return r3.Vector{
		X: (n + l.Height) * cosLat * math.Cos(lon),
		Y: (n + l.Height) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + l.Height) * sinLat,
	}
}

// ENUFrame is a local east-north-up cartesian frame. X east, Y north, Z up, meters.
// The origin can be set exactly once.
type ENUFrame struct {
	origin    LLA
	originSet bool
	originEC  r3.Vector

	east, north, up r3.Vector
}

func NewENUFrame() *ENUFrame {
	return &ENUFrame{}
}

func (f *ENUFrame) SetOrigin(origin LLA) error {
	if f.originSet {
		return ErrOriginAlreadySet
	}
	lat := degToRad(origin.Lat)
	lon := degToRad(origin.Lon)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	f.origin = origin
	f.originEC = origin.ToECEF()
	f.east = r3.Vector{X: -sinLon, Y: cosLon, Z: 0}
	f.north = r3.Vector{X: -sinLat * cosLon, Y: -sinLat * sinLon, Z: cosLat}
	f.up = r3.Vector{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat}
	f.originSet = true
	return nil
}

func (f *ENUFrame) Origin() (LLA, bool) {
	return f.origin, f.originSet
}

func (f *ENUFrame) ToLocal(p LLA) (r3.Vector, error) {
	if !f.originSet {
		return r3.Vector{}, ErrOriginNotSet
	}
	d := p.ToECEF().Sub(f.originEC)
	return r3.Vector{X: d.Dot(f.east), Y: d.Dot(f.north), Z: d.Dot(f.up)}, nil
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180.0
}
