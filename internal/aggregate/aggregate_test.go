package aggregate

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

func twoPolygons() *feature.Table {
	t := feature.New(testCRS, "poly_id", "label")
	t.Append(square(0, 0, 10), map[string]any{"poly_id": "A", "label": "first"})
	t.Append(square(20, 0, 10), map[string]any{"poly_id": "B", "label": "second"})
	return t
}

func TestByCategoryToPolygon_TwoPointScenario(t *testing.T) {
	pts := feature.New(testCRS, "cat", "value")
	pts.Append(point(5, 5), map[string]any{"cat": "x", "value": 10})
	pts.Append(point(25, 5), map[string]any{"cat": "y", "value": 5})

	res, err := ByCategoryToPolygon(pts, twoPolygons(), Options{
		PolyIDCol:   "poly_id",
		CategoryCol: "cat",
		ValueCols:   []string{"value"},
	})
	require.NoError(t, err)
	out := res.Table

	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"poly_id", "label", "value_sum_x", "value_sum_y", "value_sum"}, out.Columns())
	assert.Equal(t, []string{"x", "y"}, res.Categories)

	assert.Equal(t, "A", out.Value(0, "poly_id"))
	assert.Equal(t, 10.0, out.Value(0, "value_sum_x"))
	assert.Equal(t, 0.0, out.Value(0, "value_sum_y"))
	assert.Equal(t, 10.0, out.Value(0, "value_sum"))

	assert.Equal(t, "B", out.Value(1, "poly_id"))
	assert.Equal(t, 0.0, out.Value(1, "value_sum_x"))
	assert.Equal(t, 5.0, out.Value(1, "value_sum_y"))
	assert.Equal(t, 5.0, out.Value(1, "value_sum"))
}

func TestByCategoryToPolygon_PreservesPolygonsWithoutPoints(t *testing.T) {
	polys := twoPolygons()
	polys.Append(square(100, 100, 1), map[string]any{"poly_id": "C", "label": "empty"})

	pts := feature.New(testCRS, "cat", "value")
	pts.Append(point(5, 5), map[string]any{"cat": "x", "value": 3})
	pts.Append(point(500, 500), map[string]any{"cat": "x", "value": 100}) // outside everything

	res, err := ByCategoryToPolygon(pts, polys, Options{
		PolyIDCol:   "poly_id",
		CategoryCol: "cat",
		ValueCols:   []string{"value"},
	})
	require.NoError(t, err)

	out := res.Table
	require.Equal(t, polys.Len(), out.Len())
	for _, c := range polys.Columns() {
		assert.True(t, out.HasColumn(c))
	}
	assert.Equal(t, "empty", out.Value(2, "label"))
	assert.Equal(t, 0.0, out.Value(2, "value_sum_x"))
	assert.Equal(t, 0.0, out.Value(2, "value_sum"))
	assert.Equal(t, 3.0, out.Value(0, "value_sum"), "unmatched point excluded from totals")
	assert.Equal(t, 1, res.Unmatched)
	assert.False(t, polys.HasColumn("value_sum"), "input must not be mutated")
}

func TestByCategoryToPolygon_TotalsEqualCategorySums(t *testing.T) {
	pts := feature.New(testCRS, "cat", "visits", "users")
	rows := []struct {
		x, y          float64
		cat           string
		visits, users float64
	}{
		{1, 1, "food", 4, 1},
		{2, 2, "food", 6, 2},
		{3, 3, "retail", 1.5, 1},
		{21, 1, "retail", 7, 3},
		{22, 2, "leisure", 2.25, 1},
		{23, 3, "food", 0.75, 1},
	}
	for _, r := range rows {
		pts.Append(point(r.x, r.y), map[string]any{"cat": r.cat, "visits": r.visits, "users": r.users})
	}

	res, err := ByCategoryToPolygon(pts, twoPolygons(), Options{
		PolyIDCol:   "poly_id",
		CategoryCol: "cat",
		ValueCols:   []string{"visits", "users"},
		Funcs:       []Func{Sum, Mean, Count},
	})
	require.NoError(t, err)
	out := res.Table

	for _, v := range []string{"visits", "users"} {
		for _, f := range []Func{Sum, Count} {
			total, ok := res.Naming.Total(v, f)
			require.True(t, ok)
			for i := 0; i < out.Len(); i++ {
				sum := 0.0
				for _, col := range res.Naming.CategoryColumns(v, f) {
					x, _ := out.Float(i, col)
					sum += x
				}
				got, _ := out.Float(i, total)
				assert.InDelta(t, sum, got, 1e-9, "row %d %s %s", i, v, f)
			}
		}
		_, ok := res.Naming.Total(v, Mean)
		assert.False(t, ok, "mean never produces a total")
		assert.False(t, out.HasColumn(v+"_mean"))
	}

	assert.Equal(t, 5.0, out.Value(0, "visits_mean_food"))
	assert.Equal(t, 2.0, out.Value(0, "visits_count_food"))
	assert.Equal(t, 0.0, out.Value(0, "visits_mean_leisure"), "empty combinations are zero-filled")
	assert.Equal(t, 3.0, out.Value(1, "users_count"))
}

func TestByCategoryToPolygon_MaxMin(t *testing.T) {
	pts := feature.New(testCRS, "cat", "v")
	pts.Append(point(1, 1), map[string]any{"cat": "a", "v": 2})
	pts.Append(point(2, 2), map[string]any{"cat": "a", "v": -4})
	pts.Append(point(3, 3), map[string]any{"cat": "a", "v": nil})

	res, err := ByCategoryToPolygon(pts, twoPolygons(), Options{
		PolyIDCol:   "poly_id",
		CategoryCol: "cat",
		ValueCols:   []string{"v"},
		Funcs:       []Func{Max, Min},
	})
	require.NoError(t, err)
	out := res.Table

	assert.Equal(t, 2.0, out.Value(0, "v_max_a"))
	assert.Equal(t, -4.0, out.Value(0, "v_min_a"))
	assert.Empty(t, res.Naming.Totals)
}

func TestByCategoryToPolygon_NumericCategoriesAndIDs(t *testing.T) {
	polys := feature.New(testCRS, "gid")
	polys.Append(square(0, 0, 10), map[string]any{"gid": int64(1)})

	pts := feature.New(testCRS, "class", "n")
	pts.Append(point(1, 1), map[string]any{"class": 3, "n": 1})
	pts.Append(point(2, 1), map[string]any{"class": int64(3), "n": 1})
	pts.Append(point(3, 1), map[string]any{"class": nil, "n": 1})

	res, err := ByCategoryToPolygon(pts, polys, Options{
		PolyIDCol:   "gid",
		CategoryCol: "class",
		ValueCols:   []string{"n"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Table.Value(0, "n_sum_3"))
	assert.Equal(t, 2.0, res.Table.Value(0, "n_sum"), "null category excluded")
}

func TestByCategoryToPolygon_Errors(t *testing.T) {
	pts := feature.New(testCRS, "cat", "value")
	pts.Append(point(1, 1), map[string]any{"cat": "x", "value": 1})

	_, err := ByCategoryToPolygon(pts, twoPolygons(), Options{PolyIDCol: "missing", CategoryCol: "cat", ValueCols: []string{"value"}})
	assert.True(t, eris.Is(err, feature.ErrColumnNotFound))

	_, err = ByCategoryToPolygon(pts, twoPolygons(), Options{PolyIDCol: "poly_id", CategoryCol: "cat", ValueCols: []string{"nope"}})
	assert.True(t, eris.Is(err, feature.ErrColumnNotFound))

	_, err = ByCategoryToPolygon(pts, twoPolygons(), Options{PolyIDCol: "poly_id", CategoryCol: "cat"})
	assert.Error(t, err)

	noCRS := feature.New("", "cat", "value")
	noCRS.Append(point(1, 1), map[string]any{"cat": "x", "value": 1})
	_, err = ByCategoryToPolygon(noCRS, twoPolygons(), Options{PolyIDCol: "poly_id", CategoryCol: "cat", ValueCols: []string{"value"}})
	assert.True(t, eris.Is(err, feature.ErrInvalidCRS))
}

func TestByCategoryToPolygon_ReservedSuffix(t *testing.T) {
	pts := feature.New(testCRS, "cat", "value")
	pts.Append(point(1, 1), map[string]any{"cat": "shop_sum", "value": 1})

	_, err := ByCategoryToPolygon(pts, twoPolygons(), Options{PolyIDCol: "poly_id", CategoryCol: "cat", ValueCols: []string{"value"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved suffix")
}

func TestByCategoryToPolygon_CollidesWithPolygonColumn(t *testing.T) {
	polys := twoPolygons()
	polys.Set(0, "value_sum", 1.0)

	pts := feature.New(testCRS, "cat", "value")
	pts.Append(point(1, 1), map[string]any{"cat": "x", "value": 1})

	_, err := ByCategoryToPolygon(pts, polys, Options{PolyIDCol: "poly_id", CategoryCol: "cat", ValueCols: []string{"value"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}
