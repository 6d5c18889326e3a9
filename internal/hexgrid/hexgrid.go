// Package hexgrid tessellates polygon tables into H3 hexagon cells.
package hexgrid

import (
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

// Output columns.
const (
	ColCellID     = "h3_id"
	ColResolution = "h3_resolution"
)

// Resolution bounds accepted by H3.
const (
	MinResolution = 0
	MaxResolution = 15
)

// Generate polyfills every polygon row of t at the given resolution. Each
// output row is one hexagon carrying the source row's attributes plus h3_id
// and h3_resolution. Output is in EPSG:4326. Rows that are not polygonal are
// skipped.
func Generate(t *feature.Table, resolution int) (*feature.Table, error) {
	if resolution < MinResolution || resolution > MaxResolution {
		return nil, eris.Errorf("hexgrid: resolution %d outside %d..%d", resolution, MinResolution, MaxResolution)
	}
	geo, err := crs.Convert(t, crs.WGS84)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: reproject")
	}

	out := feature.New(crs.WGS84, geo.Columns()...)
	out.AddColumn(ColCellID)
	out.AddColumn(ColResolution)

	skipped := 0
	for i := 0; i < geo.Len(); i++ {
		polys := geoPolygons(geo.Geometry(i))
		if len(polys) == 0 {
			skipped++
			continue
		}
		cells, err := fill(polys, resolution)
		if err != nil {
			return nil, eris.Wrapf(err, "hexgrid: row %d", i)
		}
		for _, c := range cells {
			boundary, err := Boundary(c)
			if err != nil {
				return nil, eris.Wrapf(err, "hexgrid: row %d", i)
			}
			attrs := geo.Row(i)
			attrs[ColCellID] = c.String()
			attrs[ColResolution] = resolution
			out.Append(boundary, attrs)
		}
	}

	if skipped > 0 {
		zap.L().Warn("hexgrid: skipped non-polygon rows", zap.Int("rows", skipped))
	}
	zap.L().Debug("hexgrid: generated cells",
		zap.Int("resolution", resolution),
		zap.Int("source_rows", geo.Len()),
		zap.Int("cells", out.Len()),
	)
	return out, nil
}

// fill returns the distinct cells covering polys in ascending order.
func fill(polys []h3.GeoPolygon, resolution int) ([]h3.Cell, error) {
	var cells []h3.Cell
	for _, p := range polys {
		got, err := h3.PolygonToCells(p, resolution)
		if err != nil {
			return nil, eris.Wrap(err, "polyfill")
		}
		cells = append(cells, got...)
	}
	slices.Sort(cells)
	return slices.Compact(cells), nil
}

// Boundary returns the hexagon outline of c as a closed lon/lat polygon.
func Boundary(c h3.Cell) (*geom.Polygon, error) {
	b, err := c.Boundary()
	if err != nil {
		return nil, eris.Wrapf(err, "cell %s boundary", c)
	}
	if len(b) == 0 {
		return nil, eris.Errorf("cell %s has an empty boundary", c)
	}
	flat := make([]float64, 0, 2*(len(b)+1))
	for _, ll := range b {
		flat = append(flat, ll.Lng, ll.Lat)
	}
	flat = append(flat, b[0].Lng, b[0].Lat)
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
}

func geoPolygons(g geom.T) []h3.GeoPolygon {
	switch v := g.(type) {
	case *geom.Polygon:
		if v.Empty() {
			return nil
		}
		return []h3.GeoPolygon{toGeoPolygon(v)}
	case *geom.MultiPolygon:
		out := make([]h3.GeoPolygon, 0, v.NumPolygons())
		for i := 0; i < v.NumPolygons(); i++ {
			if p := v.Polygon(i); !p.Empty() {
				out = append(out, toGeoPolygon(p))
			}
		}
		return out
	default:
		return nil
	}
}

func toGeoPolygon(p *geom.Polygon) h3.GeoPolygon {
	gp := h3.GeoPolygon{GeoLoop: toLoop(p.LinearRing(0))}
	for i := 1; i < p.NumLinearRings(); i++ {
		gp.Holes = append(gp.Holes, toLoop(p.LinearRing(i)))
	}
	return gp
}

// toLoop drops the closing vertex; H3 loops are implicitly closed.
func toLoop(r *geom.LinearRing) h3.GeoLoop {
	n := r.NumCoords()
	if n > 1 && r.Coord(0).Equal(r.Layout(), r.Coord(n-1)) {
		n--
	}
	loop := make(h3.GeoLoop, 0, n)
	for i := 0; i < n; i++ {
		c := r.Coord(i)
		loop = append(loop, h3.LatLng{Lat: c[1], Lng: c[0]})
	}
	return loop
}
