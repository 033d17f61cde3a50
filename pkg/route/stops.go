package route

import (
	"math"

	"lintang/railroute/pkg/datastructure"
	"lintang/railroute/pkg/util"

	"github.com/dhconnelly/rtreego"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
)

var tol = 0.0001

type nodeRect struct {
	location rtreego.Point
	index    int
}

func (n *nodeRect) Bounds() rtreego.Rect {
	return n.location.ToRect(tol)
}

func s2Point(p orb.Point) s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat(), p.Lon()))
}

// cumulativeDistances returns the haversine distance in meters from the first node to
// every node of the route.
func cumulativeDistances(nodes []datastructure.RouteNode) []float64 {
	along := make([]float64, len(nodes))
	for i := 1; i < len(nodes); i++ {
		along[i] = along[i-1] + orbgeo.DistanceHaversine(nodes[i-1].Point, nodes[i].Point)
	}
	return along
}

// bearing is the initial bearing from a to b in degrees, 0 = north, clockwise.
func bearing(a, b orb.Point) float64 {
	return math.Mod(orbgeo.Bearing(a, b)+360, 360)
}

// ProjectStops snaps every stop onto the flattened route. The nearest route node comes
// from an rtree, the stop is then projected onto the closer of the node's two edges.
func ProjectStops(stops []*osm.Node, nodes []datastructure.RouteNode) []datastructure.StopMarker {
	markers := make([]datastructure.StopMarker, 0, len(stops))
	if len(nodes) == 0 || len(stops) == 0 {
		return markers
	}

	tree := rtreego.NewTree(2, 25, 50) // 2 dimension, 25 min entries dan 50 max entries
	for i, n := range nodes {
		tree.Insert(&nodeRect{location: rtreego.Point{n.Lat(), n.Lon()}, index: i})
	}

	along := cumulativeDistances(nodes)

	for _, stop := range stops {
		if stop == nil {
			continue
		}
		nearest, ok := tree.NearestNeighbor(rtreego.Point{stop.Lat, stop.Lon}).(*nodeRect)
		if !ok {
			continue
		}
		markers = append(markers, projectStop(stop, nearest.index, nodes, along))
	}
	return markers
}

func projectStop(stop *osm.Node, idx int, nodes []datastructure.RouteNode, along []float64) datastructure.StopMarker {
	x := s2Point(stop.Point())
	marker := datastructure.StopMarker{
		ID:            int64(stop.ID),
		Name:          stop.Tags.Find("name"),
		Coordinate:    datastructure.CoordinateOf(stop.Point()),
		NodeIndex:     idx,
		Projected:     datastructure.CoordinateOf(nodes[idx].Point),
		DistanceAlong: along[idx],
	}
	if len(nodes) > 1 {
		next := min(idx+1, len(nodes)-1)
		prev := next - 1
		marker.Bearing = bearing(nodes[prev].Point, nodes[next].Point)
	}

	best := s1.InfAngle()
	for _, from := range []int{idx - 1, idx} {
		to := from + 1
		if from < 0 || to >= len(nodes) || nodes[from].Point.Equal(nodes[to].Point) {
			continue
		}
		proj := s2.Project(x, s2Point(nodes[from].Point), s2Point(nodes[to].Point))
		if d := x.Distance(proj); d < best {
			best = d
			ll := s2.LatLngFromPoint(proj)
			projected := orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()}
			marker.Projected = datastructure.CoordinateOf(projected)
			marker.DistanceAlong = along[from] + orbgeo.DistanceHaversine(nodes[from].Point, projected)
			marker.Bearing = bearing(nodes[from].Point, nodes[to].Point)
		}
	}
	marker.DistanceAlong = util.RoundFloat(marker.DistanceAlong, 2)
	marker.Bearing = util.RoundFloat(marker.Bearing, 2)
	return marker
}
