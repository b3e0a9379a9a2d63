// Package geometry indexes stations spatially and exports summaries as GeoJSON.
package geometry

import (
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"propertysearch/server/internal/models"
)

const (
	tolerance   = 0.0001
	minChildren = 25
	maxChildren = 50
	dimensions  = 2

	// Degrees of longitude are shorter than degrees of latitude in the UK so
	// the planar tree order can differ from the geodesic one; over-fetch and
	// re-rank.
	candidateFactor = 3
)

// spatialItem wraps a station for R-Tree indexing
type spatialItem struct {
	station models.TubeStation
	rect    *rtreego.Rect
}

func (si *spatialItem) Bounds() *rtreego.Rect {
	return si.rect
}

// Nearby is a station with its distance to the query point in metres.
type Nearby struct {
	models.TubeStation
	DistanceMeters float64 `json:"distanceMeters"`
}

// StationIndex is a thread-safe nearest-station lookup.
type StationIndex struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
}

func NewStationIndex(stations []models.TubeStation) *StationIndex {
	idx := &StationIndex{}
	idx.Reset(stations)
	return idx
}

// Reset rebuilds the tree from stations.
func (idx *StationIndex) Reset(stations []models.TubeStation) {
	items := make([]rtreego.Spatial, 0, len(stations))
	for _, st := range stations {
		p := rtreego.Point{st.Coordinates.Lon(), st.Coordinates.Lat()}
		items = append(items, &spatialItem{station: st, rect: p.ToRect(tolerance)})
	}
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for _, item := range items {
		tree.Insert(item)
	}

	idx.mu.Lock()
	idx.tree = tree
	idx.mu.Unlock()
}

func (idx *StationIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Size()
}

// Nearest returns up to k stations closest to p, nearest first.
func (idx *StationIndex) Nearest(p orb.Point, k int) []Nearby {
	if k <= 0 {
		return nil
	}

	idx.mu.RLock()
	size := idx.tree.Size()
	n := k * candidateFactor
	if n > size {
		n = size
	}
	var results []rtreego.Spatial
	if n > 0 {
		results = idx.tree.NearestNeighbors(n, rtreego.Point{p.Lon(), p.Lat()})
	}
	idx.mu.RUnlock()

	nearby := make([]Nearby, 0, len(results))
	for _, r := range results {
		item, ok := r.(*spatialItem)
		if !ok || item == nil {
			continue
		}
		nearby = append(nearby, Nearby{
			TubeStation:    item.station,
			DistanceMeters: geo.Distance(p, item.station.Coordinates),
		})
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		if nearby[i].DistanceMeters == nearby[j].DistanceMeters {
			return nearby[i].ID < nearby[j].ID
		}
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})
	if len(nearby) > k {
		nearby = nearby[:k]
	}
	return nearby
}
