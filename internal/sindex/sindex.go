// Package sindex wraps an R-tree over geometry bounding boxes.
package sindex

import (
	"sort"

	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"
)

// Index answers bounding-box candidate queries over a fixed set of
// geometries identified by their row position.
type Index struct {
	tree rtree.RTreeG[int]
}

// New indexes the bounding box of every non-empty geometry.
func New(geoms []geom.T) *Index {
	ix := &Index{}
	for i, g := range geoms {
		min, max, ok := box(g)
		if !ok {
			continue
		}
		ix.tree.Insert(min, max, i)
	}
	return ix
}

// Len returns the number of indexed geometries.
func (ix *Index) Len() int { return ix.tree.Len() }

// Candidates returns the rows whose bounding box intersects the bounding
// box of g, in ascending row order.
func (ix *Index) Candidates(g geom.T) []int {
	min, max, ok := box(g)
	if !ok {
		return nil
	}
	var out []int
	ix.tree.Search(min, max, func(_, _ [2]float64, row int) bool {
		out = append(out, row)
		return true
	})
	sort.Ints(out)
	return out
}

// Nearest returns the k rows whose bounding box is closest to (x, y),
// nearest first. Equal distances are ordered by row. skip excludes one
// row; pass -1 to keep them all.
func (ix *Index) Nearest(x, y float64, k, skip int) []int {
	if k <= 0 {
		return nil
	}
	type hit struct {
		row  int
		dist float64
	}
	var hits []hit
	p := [2]float64{x, y}
	ix.tree.Nearby(rtree.BoxDist[float64, int](p, p, nil), func(_, _ [2]float64, row int, dist float64) bool {
		if row == skip {
			return true
		}
		// Keep collecting rows tied with the k-th distance.
		if len(hits) >= k && dist > hits[k-1].dist {
			return false
		}
		hits = append(hits, hit{row: row, dist: dist})
		return true
	})
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].row < hits[b].row
	})
	out := make([]int, 0, k)
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, h.row)
	}
	return out
}

func box(g geom.T) ([2]float64, [2]float64, bool) {
	if g == nil {
		return [2]float64{}, [2]float64{}, false
	}
	if _, ok := g.(*geom.GeometryCollection); !ok && len(g.FlatCoords()) == 0 {
		return [2]float64{}, [2]float64{}, false
	}
	b := g.Bounds()
	if b == nil || b.IsEmpty() {
		return [2]float64{}, [2]float64{}, false
	}
	return [2]float64{b.Min(0), b.Min(1)}, [2]float64{b.Max(0), b.Max(1)}, true
}
