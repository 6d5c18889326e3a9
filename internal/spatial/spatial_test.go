package spatial

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geostat/internal/feature"
)

const testCRS = "EPSG:3857"

func square(x0, y0, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x0, y0, x0 + size, y0, x0 + size, y0 + size, x0, y0 + size, x0, y0,
	}, []int{10})
}

func point(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

// triangle occupying the lower-left half of the 10x10 square at the origin.
func triangle() *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{0, 0, 10, 0, 0, 10, 0, 0}, []int{8})
}

func polygons() *feature.Table {
	t := feature.New(testCRS, "zone", "name")
	t.Append(square(0, 0, 10), map[string]any{"zone": "A", "name": "alpha"})
	t.Append(square(10, 0, 10), map[string]any{"zone": "B", "name": "beta"})
	return t
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("precise")
	require.NoError(t, err)
	assert.Equal(t, PolicyPrecise, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBounds, p)

	_, err = ParsePolicy("nearest")
	assert.Error(t, err)
}

func TestAssignPoints_BoundsPolicy(t *testing.T) {
	pts := feature.New(testCRS, "v")
	pts.Append(point(5, 5), map[string]any{"v": 1})
	pts.Append(point(15, 5), map[string]any{"v": 2})
	pts.Append(point(50, 50), map[string]any{"v": 3})

	out, err := AssignPoints(pts, polygons(), "zone")
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	assert.Equal(t, "A", out.Value(0, "zone"))
	assert.Equal(t, "B", out.Value(1, "zone"))
	assert.Nil(t, out.Value(2, "zone"))
	assert.False(t, pts.HasColumn("zone"), "input must not be mutated")
}

func TestAssignPoints_SharedEdgeGoesToFirstRow(t *testing.T) {
	pts := feature.New(testCRS)
	pts.Append(point(10, 5), nil)

	out, err := AssignPoints(pts, polygons(), "zone")
	require.NoError(t, err)
	assert.Equal(t, "A", out.Value(0, "zone"))
}

func TestAssignPoints_PreciseVersusBounds(t *testing.T) {
	polys := feature.New(testCRS, "zone")
	polys.Append(triangle(), map[string]any{"zone": "T"})
	polys.Append(square(0, 0, 10), map[string]any{"zone": "S"})

	pts := feature.New(testCRS)
	pts.Append(point(8, 8), nil) // inside T's bbox, outside T

	loose, err := AssignPoints(pts, polys, "zone")
	require.NoError(t, err)
	assert.Equal(t, "T", loose.Value(0, "zone"))

	strict, err := AssignPoints(pts, polys, "zone", WithPolicy(PolicyPrecise))
	require.NoError(t, err)
	assert.Equal(t, "S", strict.Value(0, "zone"))
}

func TestAssignPoints_MissingIDColumn(t *testing.T) {
	_, err := AssignPoints(feature.New(testCRS), polygons(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, feature.ErrColumnNotFound))
}

func TestAssignPoints_MissingCRS(t *testing.T) {
	pts := feature.New("")
	pts.Append(point(1, 1), nil)

	_, err := AssignPoints(pts, polygons(), "zone")
	require.Error(t, err)
	assert.True(t, eris.Is(err, feature.ErrInvalidCRS))
}

func TestGiveAttributesToPoints(t *testing.T) {
	pts := feature.New(testCRS)
	pts.Append(point(2, 2), nil)
	pts.Append(point(-5, -5), nil)

	out, err := GiveAttributesToPoints(pts, polygons(), "zone", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", out.Value(0, "name"))
	assert.Nil(t, out.Value(1, "name"))
	assert.Contains(t, out.Columns(), "name")

	_, err = GiveAttributesToPoints(pts, polygons(), "zone", []string{"area"})
	assert.True(t, eris.Is(err, feature.ErrColumnNotFound))
}

func TestIntersects(t *testing.T) {
	withHole := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, []int{10, 20})

	assert.True(t, Intersects(withHole, point(1, 1)))
	assert.False(t, Intersects(withHole, point(5, 5)))
	assert.True(t, Intersects(withHole, point(4, 5)), "hole boundary belongs to the polygon")
	assert.True(t, Intersects(withHole, point(10, 5)), "outer boundary belongs to the polygon")
	assert.False(t, Intersects(withHole, point(11, 5)))

	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(square(0, 0, 1)))
	require.NoError(t, mp.Push(square(5, 5, 1)))
	assert.True(t, Intersects(mp, point(5.5, 5.5)))
	assert.False(t, Intersects(mp, point(3, 3)))

	assert.True(t, Intersects(point(1, 1), point(1, 1)))
	assert.False(t, Intersects(nil, point(1, 1)))
}

func TestCentroid(t *testing.T) {
	c, err := Centroid(square(0, 0, 10))
	require.NoError(t, err)
	assert.InDelta(t, 5, c.X(), 1e-9)
	assert.InDelta(t, 5, c.Y(), 1e-9)

	c, err = Centroid(point(3, 4))
	require.NoError(t, err)
	assert.Equal(t, 3.0, c.X())

	_, err = Centroid(nil)
	assert.Error(t, err)
}

func smallCells() *feature.Table {
	t := feature.New(testCRS, "cell")
	t.Append(square(1, 1, 2), map[string]any{"cell": 1})   // centroid (2,2) in A
	t.Append(square(9, 1, 2), map[string]any{"cell": 2})   // centroid (10,2) on A/B edge
	t.Append(square(14, 1, 2), map[string]any{"cell": 3})  // centroid (15,2) in B
	t.Append(square(30, 30, 2), map[string]any{"cell": 4}) // outside
	return t
}

func TestIsolateByCentroid(t *testing.T) {
	out, err := IsolateByCentroid(smallCells(), "cell", polygons(), "zone", "A")
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, 1, out.Value(0, "cell"))
	assert.Equal(t, 2, out.Value(1, "cell"))

	// Original polygon geometry is returned, not the centroid.
	_, isPoly := out.Geometry(0).(*geom.Polygon)
	assert.True(t, isPoly)
}

func TestIsolateByCentroid_PreciseTestExcludesBBoxOnlyMatches(t *testing.T) {
	dest := feature.New(testCRS, "zone")
	dest.Append(triangle(), map[string]any{"zone": "T"})

	cells := feature.New(testCRS, "cell")
	cells.Append(square(7, 7, 2), map[string]any{"cell": "far"})  // centroid (8,8), bbox only
	cells.Append(square(1, 1, 2), map[string]any{"cell": "near"}) // centroid (2,2)

	out, err := IsolateByCentroid(cells, "cell", dest, "zone", "T")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "near", out.Value(0, "cell"))
}

func TestIsolateByCentroid_NullIDsKeepOnlyTheirOwnRow(t *testing.T) {
	cells := feature.New(testCRS, "cell")
	cells.Append(square(1, 1, 2), map[string]any{"cell": nil})   // in A
	cells.Append(square(30, 30, 2), map[string]any{"cell": nil}) // outside
	cells.Append(square(4, 4, 2), map[string]any{"cell": 7})     // in A
	cells.Append(square(40, 40, 2), map[string]any{"cell": 7})   // outside, same id

	out, err := IsolateByCentroid(cells, "cell", polygons(), "zone", "A")
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Nil(t, out.Value(0, "cell"))
	assert.Equal(t, []float64{1, 1}, out.Geometry(0).FlatCoords()[:2])
	assert.Equal(t, 7, out.Value(1, "cell"))
	assert.Equal(t, 7, out.Value(2, "cell"))
}

func TestIsolateByCentroid_RowNotFound(t *testing.T) {
	_, err := IsolateByCentroid(smallCells(), "cell", polygons(), "zone", "Z")
	require.Error(t, err)
	assert.True(t, eris.Is(err, feature.ErrRowNotFound))
}

func TestTransferAttributesByCentroid(t *testing.T) {
	out, err := TransferAttributesByCentroid(smallCells(), polygons(), []string{"zone", "name"})
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())

	assert.Equal(t, "A", out.Value(0, "zone"))
	assert.Equal(t, "alpha", out.Value(0, "name"))
	assert.Equal(t, "A", out.Value(1, "zone"), "edge centroid goes to the first intersecting row")
	assert.Equal(t, "B", out.Value(2, "zone"))
	assert.Nil(t, out.Value(3, "zone"))
	assert.Nil(t, out.Value(3, "name"))
}

func TestTransferAttributesByCentroid_MissingColumn(t *testing.T) {
	_, err := TransferAttributesByCentroid(smallCells(), polygons(), []string{"missing"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, feature.ErrColumnNotFound))
}
