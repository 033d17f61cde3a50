package osmparser

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/osm"
)

// overpass api `[out:json]` payload. `out geom` puts the way coordinates in geometry,
// with null entries for nodes outside the query bbox.
type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Nodes    []int64           `json:"nodes"`
	Geometry []*overpassCoord  `json:"geometry"`
	Members  []overpassMember  `json:"members"`
}

type overpassCoord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

// ParseOverpassJSON decodes an overpass json response into osm objects, keeping the
// element order of the payload.
func ParseOverpassJSON(r io.Reader) (osm.Objects, error) {
	var resp overpassResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode overpass json: %w", err)
	}

	objs := make(osm.Objects, 0, len(resp.Elements))
	for _, e := range resp.Elements {
		switch osm.Type(e.Type) {
		case osm.TypeNode:
			objs = append(objs, &osm.Node{
				ID:      osm.NodeID(e.ID),
				Lat:     e.Lat,
				Lon:     e.Lon,
				Tags:    tagsFromMap(e.Tags),
				Visible: true,
			})
		case osm.TypeWay:
			objs = append(objs, &osm.Way{
				ID:      osm.WayID(e.ID),
				Nodes:   wayNodes(e),
				Tags:    tagsFromMap(e.Tags),
				Visible: true,
			})
		case osm.TypeRelation:
			members := make(osm.Members, 0, len(e.Members))
			for _, m := range e.Members {
				members = append(members, osm.Member{
					Type: osm.Type(m.Type),
					Ref:  m.Ref,
					Role: m.Role,
				})
			}
			objs = append(objs, &osm.Relation{
				ID:      osm.RelationID(e.ID),
				Members: members,
				Tags:    tagsFromMap(e.Tags),
				Visible: true,
			})
		}
	}
	return objs, nil
}

func wayNodes(e overpassElement) osm.WayNodes {
	wn := make(osm.WayNodes, 0, len(e.Geometry))
	for i, g := range e.Geometry {
		if g == nil {
			continue
		}
		n := osm.WayNode{Lat: g.Lat, Lon: g.Lon}
		if len(e.Nodes) == len(e.Geometry) {
			n.ID = osm.NodeID(e.Nodes[i])
		}
		wn = append(wn, n)
	}
	return wn
}

func tagsFromMap(m map[string]string) osm.Tags {
	if len(m) == 0 {
		return nil
	}
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}
