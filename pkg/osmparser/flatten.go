package osmparser

import (
	"lintang/railroute/pkg/datastructure"

	"github.com/paulmach/osm"
)

func IsTunnel(tags osm.Tags) bool {
	return tags.Find("tunnel") == "yes"
}

// Flatten expands the ordered track ways into one route. The last point of every way but
// the final one is dropped since it is the first point of the next way. The first point
// after a tunnel way is flagged as tunnel too, so interpolation spans the whole portal.
func Flatten(data *RelationData) []datastructure.RouteNode {
	ways := make([]*osm.Way, 0, len(data.WayIDs))
	for _, id := range data.WayIDs {
		w, ok := data.Ways[id]
		if !ok || len(w.Nodes) == 0 {
			continue
		}
		ways = append(ways, w)
	}

	nodes := make([]datastructure.RouteNode, 0)
	prevTunnel := false
	for i, w := range ways {
		tunnel := IsTunnel(w.Tags)

		end := len(w.Nodes)
		if i < len(ways)-1 {
			end--
		}
		for j := 0; j < end; j++ {
			wn := w.Nodes[j]
			nodes = append(nodes, datastructure.NewRouteNode(wn.Lat, wn.Lon, tunnel || (j == 0 && prevTunnel)))
		}
		prevTunnel = tunnel
	}
	return nodes
}
