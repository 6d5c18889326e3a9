package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Centroid returns the centroid of g as a point. Points are their own centroid.
func Centroid(g geom.T) (*geom.Point, error) {
	if g == nil {
		return nil, eris.New("spatial: centroid of nil geometry")
	}
	if p, ok := g.(*geom.Point); ok {
		return geom.NewPointFlat(geom.XY, []float64{p.X(), p.Y()}), nil
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: centroid")
	}
	return geom.NewPointFlat(geom.XY, []float64{c[0], c[1]}), nil
}

// Intersects reports whether the point c lies inside or on the boundary of g.
// Polygonal geometries use ring tests; a point only intersects an equal point.
func Intersects(g geom.T, c *geom.Point) bool {
	if g == nil || c == nil {
		return false
	}
	coord := geom.Coord{c.X(), c.Y()}
	switch v := g.(type) {
	case *geom.Polygon:
		return polygonIntersects(v, coord)
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			if polygonIntersects(v.Polygon(i), coord) {
				return true
			}
		}
		return false
	case *geom.Point:
		return v.X() == coord[0] && v.Y() == coord[1]
	case *geom.MultiPoint:
		for i := 0; i < v.NumPoints(); i++ {
			p := v.Point(i)
			if p.X() == coord[0] && p.Y() == coord[1] {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func polygonIntersects(p *geom.Polygon, c geom.Coord) bool {
	n := p.NumLinearRings()
	if n == 0 {
		return false
	}
	layout := p.Layout()
	if !xy.IsPointInRing(layout, c, p.LinearRing(0).FlatCoords()) {
		return false
	}
	for i := 1; i < n; i++ {
		hole := p.LinearRing(i).FlatCoords()
		if xy.IsPointInRing(layout, c, hole) && !xy.IsOnLine(layout, c, hole) {
			return false
		}
	}
	return true
}
