package osmparser

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// LoadXML reads an osm xml document. Way nodes without coordinates get them from the
// nodes of the same document.
func LoadXML(r io.Reader) (osm.Objects, error) {
	var doc osm.OSM
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode osm xml: %w", err)
	}

	objs := make(osm.Objects, 0, len(doc.Nodes)+len(doc.Ways)+len(doc.Relations))
	for _, n := range doc.Nodes {
		objs = append(objs, n)
	}
	for _, w := range doc.Ways {
		objs = append(objs, w)
	}
	for _, r := range doc.Relations {
		objs = append(objs, r)
	}
	resolveWayGeometry(objs)
	return objs, nil
}

// LoadPBF scans an osm pbf extract. Pbf ways only carry node ids, so their coordinates
// are filled from the scanned nodes afterwards.
func LoadPBF(ctx context.Context, r io.Reader) (osm.Objects, error) {
	scanner := osmpbf.New(ctx, r, runtime.GOMAXPROCS(-1))
	defer scanner.Close()

	objs := make(osm.Objects, 0)
	for scanner.Scan() {
		objs = append(objs, scanner.Object())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan osm pbf: %w", err)
	}
	resolveWayGeometry(objs)
	return objs, nil
}

// LoadFile picks the reader by file extension: .json (overpass), .osm/.xml, .pbf.
func LoadFile(ctx context.Context, path string) (osm.Objects, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseOverpassJSON(f)
	case ".osm", ".xml":
		return LoadXML(f)
	case ".pbf":
		return LoadPBF(ctx, f)
	default:
		return nil, fmt.Errorf("unsupported osm file extension %q", ext)
	}
}

// resolveWayGeometry fills missing way node coordinates. Way nodes whose node is not in
// objs are dropped, a way without any resolvable node ends up with no geometry.
func resolveWayGeometry(objs osm.Objects) {
	nodeMap := make(map[osm.NodeID]*osm.Node)
	for _, o := range objs {
		if n, ok := o.(*osm.Node); ok {
			nodeMap[n.ID] = n
		}
	}

	for _, o := range objs {
		w, ok := o.(*osm.Way)
		if !ok {
			continue
		}
		resolved := w.Nodes[:0]
		for _, wn := range w.Nodes {
			if wn.Lat != 0 || wn.Lon != 0 {
				resolved = append(resolved, wn)
				continue
			}
			n, ok := nodeMap[wn.ID]
			if !ok {
				continue
			}
			wn.Lat, wn.Lon = n.Lat, n.Lon
			resolved = append(resolved, wn)
		}
		w.Nodes = resolved
	}
}
