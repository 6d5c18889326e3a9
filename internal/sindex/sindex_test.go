package sindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x0, y0, x0 + size, y0, x0 + size, y0 + size, x0, y0 + size, x0, y0,
	}, []int{10})
}

func TestCandidates_SortedByRow(t *testing.T) {
	geoms := []geom.T{
		square(0, 0, 10),
		square(20, 20, 5),
		square(2, 2, 2),
		nil,
		square(-5, -5, 8),
	}
	ix := New(geoms)
	assert.Equal(t, 4, ix.Len())

	got := ix.Candidates(geom.NewPointFlat(geom.XY, []float64{2.5, 2.5}))
	assert.Equal(t, []int{0, 2, 4}, got)
}

func TestCandidates_NoMatch(t *testing.T) {
	ix := New([]geom.T{square(0, 0, 1)})
	assert.Empty(t, ix.Candidates(geom.NewPointFlat(geom.XY, []float64{5, 5})))
	assert.Empty(t, ix.Candidates(nil))
}

func TestCandidates_BoundaryTouch(t *testing.T) {
	ix := New([]geom.T{square(0, 0, 1)})
	assert.Equal(t, []int{0}, ix.Candidates(geom.NewPointFlat(geom.XY, []float64{1, 1})))
}

func TestNearest_TiesByRow(t *testing.T) {
	pt := func(x, y float64) geom.T { return geom.NewPointFlat(geom.XY, []float64{x, y}) }
	ix := New([]geom.T{
		pt(0, 0),
		pt(3, 0),
		pt(-1, 0),
		pt(0, 1),
		pt(10, 10),
	})

	assert.Equal(t, []int{2, 3}, ix.Nearest(0, 0, 2, 0), "rows 2 and 3 tie at distance 1")
	assert.Equal(t, []int{0, 2}, ix.Nearest(0, 0, 2, -1))
	assert.Equal(t, []int{2, 3, 1}, ix.Nearest(0, 0, 3, 0))
	assert.Len(t, ix.Nearest(0, 0, 10, 0), 4)
	assert.Nil(t, ix.Nearest(0, 0, 0, -1))
}
