package datastructure

import (
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// RouteNode is one flattened track point. Point is [lon, lat].
type RouteNode struct {
	Point  orb.Point
	Tunnel bool
}

func NewRouteNode(lat, lon float64, tunnel bool) RouteNode {
	return RouteNode{Point: orb.Point{lon, lat}, Tunnel: tunnel}
}

func (n RouteNode) Lat() float64 { return n.Point.Lat() }
func (n RouteNode) Lon() float64 { return n.Point.Lon() }

// Coordinate is the lat/lon form of a point used in JSON output.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func CoordinateOf(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// AnomalousSegment holds the two local frame anchors of a batch whose grade looked implausible.
type AnomalousSegment struct {
	Start r3.Vector `json:"start"`
	End   r3.Vector `json:"end"`
	Slope float64   `json:"slope_deg"`
	Final bool      `json:"final"`
}

// StopMarker places a relation stop on the flattened route.
type StopMarker struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name,omitempty"`
	Coordinate    Coordinate `json:"coordinate"`
	NodeIndex     int        `json:"node_index"`
	Projected     Coordinate `json:"projected"`
	DistanceAlong float64    `json:"distance_along"`
	Bearing       float64    `json:"bearing"`
}

func RenderRouteNodes(nodes []RouteNode) string {
	coords := make([][]float64, 0, len(nodes))
	for _, n := range nodes {
		coords = append(coords, []float64{n.Lat(), n.Lon()})
	}
	return string(polyline.EncodeCoords(coords))
}
