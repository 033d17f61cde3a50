package osmparser

import (
	"errors"
	"fmt"

	"github.com/paulmach/osm"
)

var (
	ErrDuplicateIdentifier = errors.New("duplicate element identifier")
	ErrRelationNotFound    = errors.New("relation not found in payload")
)

const (
	memberRoleTrack = ""
	memberRoleStop  = "stop"
)

// RelationData is the decoded view of one route relation. The lookup tables hold every
// element of the payload, not only the ones the relation references.
type RelationData struct {
	RelationID osm.RelationID
	Name       string
	Tags       osm.Tags

	WayIDs  []osm.WayID
	StopIDs []osm.NodeID

	Ways  map[osm.WayID]*osm.Way
	Nodes map[osm.NodeID]*osm.Node
}

// DecodeRelation records every way and node of objs in id-keyed maps and takes the
// ordered track/stop lists from the relation members. relationID 0 picks the first
// relation of the payload. The relation may appear anywhere in objs.
func DecodeRelation(objs osm.Objects, relationID osm.RelationID) (*RelationData, error) {
	data := &RelationData{
		Ways:  make(map[osm.WayID]*osm.Way),
		Nodes: make(map[osm.NodeID]*osm.Node),
	}
	relations := make(map[osm.RelationID]*osm.Relation)
	var first *osm.Relation

	for _, o := range objs {
		switch e := o.(type) {
		case *osm.Node:
			if _, ok := data.Nodes[e.ID]; ok {
				return nil, fmt.Errorf("%w: node %d", ErrDuplicateIdentifier, e.ID)
			}
			data.Nodes[e.ID] = e
		case *osm.Way:
			if _, ok := data.Ways[e.ID]; ok {
				return nil, fmt.Errorf("%w: way %d", ErrDuplicateIdentifier, e.ID)
			}
			data.Ways[e.ID] = e
		case *osm.Relation:
			if _, ok := relations[e.ID]; ok {
				return nil, fmt.Errorf("%w: relation %d", ErrDuplicateIdentifier, e.ID)
			}
			relations[e.ID] = e
			if first == nil {
				first = e
			}
		}
	}

	rel := first
	if relationID != 0 {
		rel = relations[relationID]
	}
	if rel == nil {
		return nil, fmt.Errorf("%w: relation %d", ErrRelationNotFound, relationID)
	}

	data.RelationID = rel.ID
	data.Tags = rel.Tags
	data.Name = rel.Tags.Find("name")
	for _, m := range rel.Members {
		switch {
		case m.Type == osm.TypeWay && m.Role == memberRoleTrack:
			data.WayIDs = append(data.WayIDs, osm.WayID(m.Ref))
		case m.Type == osm.TypeNode && m.Role == memberRoleStop:
			data.StopIDs = append(data.StopIDs, osm.NodeID(m.Ref))
		}
	}
	return data, nil
}

// Stops returns the stop nodes in relation order. Stops missing from the payload are skipped.
func (d *RelationData) Stops() []*osm.Node {
	stops := make([]*osm.Node, 0, len(d.StopIDs))
	for _, id := range d.StopIDs {
		if n, ok := d.Nodes[id]; ok {
			stops = append(stops, n)
		}
	}
	return stops
}
