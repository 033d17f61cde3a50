package osmparser_test

import (
	"testing"

	"lintang/railroute/pkg/datastructure"
	"lintang/railroute/pkg/osmparser"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
)

var tunnelTags = osm.Tags{{Key: "railway", Value: "rail"}, {Key: "tunnel", Value: "yes"}}

func relationData(ways ...*osm.Way) *osmparser.RelationData {
	data := &osmparser.RelationData{Ways: make(map[osm.WayID]*osm.Way)}
	for _, w := range ways {
		data.WayIDs = append(data.WayIDs, w.ID)
		data.Ways[w.ID] = w
	}
	return data
}

func TestFlatten(t *testing.T) {
	t.Run("junctions are not duplicated", func(t *testing.T) {
		data := relationData(
			way(1, nil, [2]float64{0, 0}, [2]float64{0, 1}, [2]float64{0, 2}),
			way(2, nil, [2]float64{0, 2}, [2]float64{0, 3}),
		)
		nodes := osmparser.Flatten(data)
		assert.Equal(t, []datastructure.RouteNode{
			datastructure.NewRouteNode(0, 0, false),
			datastructure.NewRouteNode(0, 1, false),
			datastructure.NewRouteNode(0, 2, false),
			datastructure.NewRouteNode(0, 3, false),
		}, nodes)
	})

	t.Run("node count is sum of points minus junctions", func(t *testing.T) {
		counts := []int{4, 2, 7, 3, 5}
		ways := make([]*osm.Way, 0, len(counts))
		total := 0
		for i, c := range counts {
			coords := make([][2]float64, c)
			for j := range coords {
				coords[j] = [2]float64{float64(i), float64(j)}
			}
			ways = append(ways, way(osm.WayID(i+1), nil, coords...))
			total += c
		}
		nodes := osmparser.Flatten(relationData(ways...))
		assert.Len(t, nodes, total-(len(counts)-1))
	})

	t.Run("tunnel flag covers the exit portal", func(t *testing.T) {
		data := relationData(
			way(1, nil, [2]float64{0, 0}, [2]float64{0, 1}),
			way(2, tunnelTags, [2]float64{0, 1}, [2]float64{0, 2}, [2]float64{0, 3}),
			way(3, nil, [2]float64{0, 3}, [2]float64{0, 4}),
		)
		nodes := osmparser.Flatten(data)
		tunnel := make([]bool, len(nodes))
		for i, n := range nodes {
			tunnel[i] = n.Tunnel
		}
		assert.Equal(t, []bool{false, true, true, true, false}, tunnel)
	})

	t.Run("empty and unknown ways are skipped", func(t *testing.T) {
		data := relationData(
			way(1, nil, [2]float64{0, 0}, [2]float64{0, 1}),
			way(2, nil),
		)
		data.WayIDs = append(data.WayIDs, 99)
		nodes := osmparser.Flatten(data)
		// way 1 is the last non-empty way so its terminal node stays
		assert.Len(t, nodes, 2)

		data = relationData(
			way(1, tunnelTags, [2]float64{0, 0}, [2]float64{0, 1}),
			way(2, nil),
			way(3, nil, [2]float64{0, 1}, [2]float64{0, 2}),
		)
		nodes = osmparser.Flatten(data)
		assert.Len(t, nodes, 3)
		assert.True(t, nodes[1].Tunnel)
		assert.False(t, nodes[2].Tunnel)
	})

	t.Run("no ways", func(t *testing.T) {
		assert.Empty(t, osmparser.Flatten(relationData()))
	})
}

func TestIsTunnel(t *testing.T) {
	assert.True(t, osmparser.IsTunnel(tunnelTags))
	assert.False(t, osmparser.IsTunnel(osm.Tags{{Key: "tunnel", Value: "no"}}))
	assert.False(t, osmparser.IsTunnel(nil))
}
