package hexgrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

func box(x0, y0, x1, y1 float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x0, y0, x1, y0, x1, y1, x0, y1, x0, y0,
	}, []int{10})
}

func TestGenerate(t *testing.T) {
	tbl := feature.New(crs.WGS84, "zone")
	tbl.Append(box(-0.2, 51.45, -0.1, 51.55), map[string]any{"zone": "central"})

	out, err := Generate(tbl, 7)
	require.NoError(t, err)
	require.Greater(t, out.Len(), 5)

	assert.Equal(t, crs.WGS84, out.CRS)
	assert.Equal(t, []string{"zone", ColCellID, ColResolution}, out.Columns())

	seen := map[any]bool{}
	for i := 0; i < out.Len(); i++ {
		assert.Equal(t, "central", out.Value(i, "zone"))
		assert.Equal(t, 7, out.Value(i, ColResolution))
		id := out.Value(i, ColCellID)
		assert.False(t, seen[id], "duplicate cell %v", id)
		seen[id] = true

		hex, ok := out.Geometry(i).(*geom.Polygon)
		require.True(t, ok)
		ring := hex.LinearRing(0)
		assert.GreaterOrEqual(t, ring.NumCoords(), 7)
		assert.Equal(t, ring.Coord(0), ring.Coord(ring.NumCoords()-1))

		c, err := xy.Centroid(hex)
		require.NoError(t, err)
		assert.InDelta(t, -0.15, c[0], 0.1)
		assert.InDelta(t, 51.5, c[1], 0.1)
	}
	assert.Equal(t, 1, tbl.Len(), "input untouched")
}

func TestGenerate_ReprojectsInput(t *testing.T) {
	// Roughly the same area as TestGenerate, in web mercator.
	tbl := feature.New(crs.WebMercator, "zone")
	tbl.Append(box(-22264, 6698000, -11132, 6716000), map[string]any{"zone": "z"})

	out, err := Generate(tbl, 7)
	require.NoError(t, err)
	require.Positive(t, out.Len())
	assert.Equal(t, crs.WGS84, out.CRS)
	for i := 0; i < out.Len(); i++ {
		b := out.Geometry(i).Bounds()
		assert.Less(t, b.Max(0), 1.0, "longitude expected, got %v", b.Max(0))
		assert.Less(t, b.Max(1), 90.0)
	}
}

func TestGenerate_MultiPolygonDeduplicates(t *testing.T) {
	a := box(10, 10, 10.1, 10.1)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(a))
	require.NoError(t, mp.Push(box(10, 10, 10.1, 10.1)))

	single := feature.New(crs.WGS84, "id")
	single.Append(a, map[string]any{"id": 1})
	multi := feature.New(crs.WGS84, "id")
	multi.Append(mp, map[string]any{"id": 1})

	want, err := Generate(single, 7)
	require.NoError(t, err)
	got, err := Generate(multi, 7)
	require.NoError(t, err)
	assert.Equal(t, want.Len(), got.Len())
}

func TestGenerate_SkipsPoints(t *testing.T) {
	tbl := feature.New(crs.WGS84, "id")
	tbl.Append(geom.NewPointFlat(geom.XY, []float64{1, 1}), map[string]any{"id": 1})

	out, err := Generate(tbl, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestGenerate_InvalidResolution(t *testing.T) {
	tbl := feature.New(crs.WGS84)
	for _, r := range []int{-1, 16} {
		_, err := Generate(tbl, r)
		assert.Error(t, err, "resolution %d", r)
	}
}

func TestGenerate_NoCRS(t *testing.T) {
	tbl := feature.New("")
	_, err := Generate(tbl, 5)
	assert.Error(t, err)
}
